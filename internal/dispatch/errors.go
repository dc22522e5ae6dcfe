package dispatch

import "fmt"

// DispatchFailedError reports a task that entered Executing and did not
// complete. Step names the remote operation that failed. PartialMutation is
// true when the remote system was already changed before the failure, so the
// caller must not assume the remote state matches the pre-task state.
type DispatchFailedError struct {
	Step            string
	PartialMutation bool
	Err             error
}

func (e *DispatchFailedError) Error() string {
	if e.PartialMutation {
		return fmt.Sprintf("dispatch failed at %s (remote state partially changed): %v", e.Step, e.Err)
	}
	return fmt.Sprintf("dispatch failed at %s: %v", e.Step, e.Err)
}

func (e *DispatchFailedError) Unwrap() error { return e.Err }
