// Package engine runs a task: plan it with the model, execute each step, recover from failures.
package engine

// State is the phase of a run.
type State string

const (
	// StateIdle - run created, nothing sent to the model yet.
	StateIdle State = "IDLE"
	// StatePlanning - context built, waiting for the plan.
	StatePlanning State = "PLANNING"
	// StateExecuting - implementing plan steps one at a time.
	StateExecuting State = "EXECUTING"
	// StateRecovering - a step failed and the model is asked for a fix.
	StateRecovering State = "RECOVERING"
	// StateCompleted - every step has an outcome.
	StateCompleted State = "COMPLETED"
	// StateAborted - planning failed or the run was cancelled.
	StateAborted State = "ABORTED"
)

// validTransitions defines the run state machine.
//
//nolint:gochecknoglobals // Intentional package-level constant for state machine definition
var validTransitions = map[State][]State{
	StateIdle: {
		StatePlanning,
	},
	StatePlanning: {
		StateExecuting,
		StateAborted, // no steps or model failure
	},
	StateExecuting: {
		StateRecovering,
		StateCompleted,
		StateAborted, // cancelled
	},
	StateRecovering: {
		StateExecuting, // recovered or exhausted, continue with the next step
		StateAborted,
	},
	StateCompleted: {
		// Terminal state
	},
	StateAborted: {
		// Terminal state
	},
}

// IsValidTransition reports whether the run may move from one state to another.
func IsValidTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidNextStates returns the valid next states for a given state.
func ValidNextStates(from State) []State {
	return validTransitions[from]
}

// IsTerminalState checks if a state is terminal.
func IsTerminalState(state State) bool {
	return state == StateCompleted || state == StateAborted
}
