package cinder

import (
	"errors"
	"fmt"
	"time"
)

// ErrWaitTimeout is reported when a completion signal does not fire
// within the ring's wait timeout. It indicates lost or wedged GPU work;
// callers must treat it as fatal, not retry.
var ErrWaitTimeout = errors.New("completion signal wait timed out")

// DefaultWaitTimeout bounds the wait on a slot's completion signal. A
// healthy frame completes in milliseconds, so expiry means the GPU will
// not come back.
const DefaultWaitTimeout = 5 * time.Second

// CompletionSignal is a GPU-side primitive the CPU can wait on to learn
// that previously submitted work has finished.
type CompletionSignal interface {
	// Wait blocks until the signal fires, or fails with an error
	// matching ErrWaitTimeout once the timeout expires.
	Wait(timeout time.Duration) error

	// Reset returns the signal to the unsignaled state so the next
	// submission can arm it again.
	Reset() error
}

// CommandContext records one frame's GPU commands.
type CommandContext interface {
	Begin() error
	End() error
}

// Submitter hands a finished recording to the GPU, arranging for done to
// fire when the work completes and for the backend's ordering semaphore
// to be signaled for presentation-engine consumption.
type Submitter interface {
	Submit(commands CommandContext, done CompletionSignal) error
}

// Slot bundles everything one in-flight frame needs: a completion signal,
// a command recording context, a record allocator and a deletion queue.
// A slot is owned by exactly one ring position and never aliased.
type Slot[P, L, R any] struct {
	Completion  CompletionSignal
	Commands    CommandContext
	Descriptors *Allocator[P, L, R]
	Cleanup     *DeletionQueue
}

// Ring cycles through a fixed set of frame slots, selected by a
// monotonically increasing frame counter. BeginFrame on a slot never
// proceeds until that slot's previous submission has completed, which in
// turn makes flushing its deletion queue and resetting its pools safe.
// With N slots at most N-1 frames of GPU work are in flight relative to
// CPU recording.
//
// The ring is driven from a single thread; concurrency comes from
// CPU/GPU overlap, not from concurrent callers.
type Ring[P, L, R any] struct {
	slots []*Slot[P, L, R]
	frame uint64

	source PoolSource[P, L, R]
	target ReleaseTarget
	submit Submitter

	waitTimeout time.Duration
}

// BuildSlots constructs count slots through build. When a later slot
// fails to build, the pools of every allocator built so far are
// destroyed before the error is returned, so a half-built ring leaks
// nothing.
func BuildSlots[P, L, R any](src PoolSource[P, L, R], count int, build func(i int) (*Slot[P, L, R], error)) ([]*Slot[P, L, R], error) {
	slots := make([]*Slot[P, L, R], count)

	for i := range slots {
		slot, err := build(i)
		if err != nil {
			for _, built := range slots[:i] {
				if built.Descriptors != nil {
					built.Descriptors.Destroy(src)
				}
			}

			return nil, fmt.Errorf("build slot %d: %w", i, err)
		}

		slots[i] = slot
	}

	return slots, nil
}

// NewRing builds a ring over the given slots. Slots must be constructed
// with their completion signals already fired, so the first cycle does
// not deadlock waiting on work that was never submitted.
func NewRing[P, L, R any](slots []*Slot[P, L, R], source PoolSource[P, L, R], target ReleaseTarget, submit Submitter) *Ring[P, L, R] {
	if len(slots) == 0 {
		panic("ring needs at least one slot")
	}

	return &Ring[P, L, R]{
		slots:       slots,
		source:      source,
		target:      target,
		submit:      submit,
		waitTimeout: DefaultWaitTimeout,
	}
}

// SetWaitTimeout overrides the completion wait timeout.
func (r *Ring[P, L, R]) SetWaitTimeout(timeout time.Duration) {
	r.waitTimeout = timeout
}

// FrameNumber reports the number of frames submitted so far.
func (r *Ring[P, L, R]) FrameNumber() uint64 {
	return r.frame
}

// SlotCount reports the size of the ring.
func (r *Ring[P, L, R]) SlotCount() int {
	return len(r.slots)
}

// Source returns the pool source the slots allocate from, for callers
// that allocate records against the active slot.
func (r *Ring[P, L, R]) Source() PoolSource[P, L, R] {
	return r.source
}

// BeginFrame blocks until the active slot's previous submission has
// completed, then reclaims the slot's transient resources and begins
// recording into it. Only after the wait returns is it safe to run the
// slot's pending deletions and reset its pools: nothing submitted from
// this slot is still referenced by the GPU.
func (r *Ring[P, L, R]) BeginFrame() (*Slot[P, L, R], error) {
	slot := r.slots[r.frame%uint64(len(r.slots))]

	if err := slot.Completion.Wait(r.waitTimeout); err != nil {
		return nil, fmt.Errorf("wait for frame %d completion: %w", r.frame, err)
	}

	slot.Cleanup.Flush(r.target)

	if err := slot.Descriptors.Clear(r.source); err != nil {
		return nil, fmt.Errorf("clear frame descriptors: %w", err)
	}

	if err := slot.Completion.Reset(); err != nil {
		return nil, fmt.Errorf("reset completion signal: %w", err)
	}

	if err := slot.Commands.Begin(); err != nil {
		return nil, fmt.Errorf("begin recording: %w", err)
	}

	return slot, nil
}

// EndFrame finishes recording and submits the slot's work, arming its
// completion signal. The frame counter advances immediately, without
// waiting for completion; the next cycle's BeginFrame on this slot is
// what observes it.
func (r *Ring[P, L, R]) EndFrame(slot *Slot[P, L, R]) error {
	if err := slot.Commands.End(); err != nil {
		return fmt.Errorf("end recording: %w", err)
	}

	if err := r.submit.Submit(slot.Commands, slot.Completion); err != nil {
		return fmt.Errorf("submit frame %d: %w", r.frame, err)
	}

	r.frame++

	return nil
}

// Destroy flushes every slot's deletion queue and destroys its pools.
// The caller must have waited for the device to go idle first; Destroy
// itself performs no completion waits.
func (r *Ring[P, L, R]) Destroy() {
	for _, slot := range r.slots {
		slot.Cleanup.Flush(r.target)
		slot.Descriptors.Destroy(r.source)
	}

	r.slots = nil
}
