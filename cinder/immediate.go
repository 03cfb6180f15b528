package cinder

import (
	"fmt"
	"time"
)

// SubmitAndWait records a one-shot command batch and blocks until the
// GPU has executed it. The completion signal must be unsignaled on
// entry; it is waited on and re-armed before returning, so the same
// signal can back repeated calls. A record error aborts before anything
// is submitted.
func SubmitAndWait(cmds CommandContext, done CompletionSignal, submit Submitter, timeout time.Duration, record func() error) error {
	if err := cmds.Begin(); err != nil {
		return fmt.Errorf("begin recording: %w", err)
	}

	if err := record(); err != nil {
		return fmt.Errorf("record commands: %w", err)
	}

	if err := cmds.End(); err != nil {
		return fmt.Errorf("end recording: %w", err)
	}

	if err := submit.Submit(cmds, done); err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	if err := done.Wait(timeout); err != nil {
		return fmt.Errorf("wait for completion: %w", err)
	}

	if err := done.Reset(); err != nil {
		return fmt.Errorf("re-arm completion signal: %w", err)
	}

	return nil
}
