package forge

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"
)

// ErrStop may be returned from RunOptions.Record to leave the run loop
// cleanly. The frame it is returned from is still submitted, so the
// ring's slots stay in a consistent state for teardown.
var ErrStop = errors.New("stop run loop")

type RunOptions struct {
	// Record fills the frame's command buffer. This is the only field
	// that is required.
	Record func(frame *Frame, cmd vk.CommandBuffer) error

	// stop after this many frames; 0 runs until Record returns ErrStop
	Frames uint64
}

// Run drives the frame ring: for every cycle it begins the active frame,
// hands it to Record and submits it. Recording and submission happen on
// the calling goroutine; overlap comes from the GPU working on previous
// frames in the meantime.
func Run(ring *FrameRing, opts RunOptions) error {
	if opts.Record == nil {
		return errors.New("Record must not be nil")
	}

	var times FrameTimes

	for opts.Frames == 0 || ring.FrameNumber() < opts.Frames {
		frame, err := ring.BeginFrame()
		if err != nil {
			return fmt.Errorf("begin frame %d: %w", ring.FrameNumber(), err)
		}

		recordErr := opts.Record(frame, frame.Commands.(*Commands).Buffer())
		if recordErr != nil && !errors.Is(recordErr, ErrStop) {
			return fmt.Errorf("record frame %d: %w", ring.FrameNumber(), recordErr)
		}

		if err := ring.EndFrame(frame); err != nil {
			return fmt.Errorf("end frame: %w", err)
		}

		if times.Tick() {
			ready, full := frame.Descriptors.PoolCounts()
			times.Report(ring.FrameNumber(), ready, full)
		}

		if errors.Is(recordErr, ErrStop) {
			return nil
		}
	}

	return nil
}
