package model

import "fmt"

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

var allowedTransitions = map[string]map[string]bool{
	"": {
		StatusPending: true,
	},
	StatusPending: {
		StatusRunning: true,
		StatusSkipped: true, // resume check short-circuits execution
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
	// Terminal states. A job reaches exactly one of these per run; retries
	// happen only through a fresh run after an explicit state reset.
	StatusCompleted: {},
	StatusFailed:    {},
	StatusSkipped:   {},
}

func IsKnownStatus(status string) bool {
	_, ok := allowedTransitions[status]
	return ok
}

func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func TransitionJobStatus(job *Job, toStatus string, reason string) error {
	from := job.Status
	if !CanTransition(from, toStatus) {
		return fmt.Errorf("invalid job status transition: %q -> %q (id=%s)", from, toStatus, job.ID)
	}
	job.Status = toStatus
	job.Reason = reason
	return nil
}
