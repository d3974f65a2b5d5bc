package engine

import "errors"

var (
	// ErrStepTimeout is returned when a step does not finish within the step timeout. The work
	// it started is not killed.
	ErrStepTimeout = errors.New("step timed out")

	// ErrRecoveryExhausted is returned when a recovery cycle produced no successful change.
	ErrRecoveryExhausted = errors.New("recovery exhausted")

	// ErrFileApply is returned when a file or edit instruction could not be applied.
	ErrFileApply = errors.New("file instruction failed")

	// ErrInvalidTransition is returned when the run state machine is driven out of order.
	ErrInvalidTransition = errors.New("invalid state transition")
)
