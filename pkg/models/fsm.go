package models

import "fmt"

// JobState is the lifecycle state of a scheduled job
type JobState string

const (
	JobStateQueued    JobState = "queued"    // Job is waiting in a scheduler queue
	JobStateRunning   JobState = "running"   // Job occupies the scheduler's active slot
	JobStateCompleted JobState = "completed" // Do returned without error
	JobStateCanceled  JobState = "canceled"  // Removed from the queue, or stopped while running
	JobStateFailed    JobState = "failed"    // Do returned an error or panicked
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[JobState]map[JobState]bool{
	JobStateQueued: {
		JobStateRunning:  true, // Queued → Running (worker pops the job)
		JobStateCanceled: true, // Queued → Canceled (cancel or scheduler stop)
	},
	JobStateRunning: {
		JobStateCompleted: true,
		JobStateCanceled:  true, // Running → Canceled (job honoured Stop)
		JobStateFailed:    true,
	},
	// Terminal states: jobs are never reused
	JobStateCompleted: {},
	JobStateCanceled:  {},
	JobStateFailed:    {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to JobState) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state JobState) bool {
	return state == JobStateCompleted || state == JobStateFailed || state == JobStateCanceled
}
