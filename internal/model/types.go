package model

import (
	"fmt"
	"strings"
)

// Job kinds, fixed at catalog-load time. Exclusive jobs bind a shared
// listening port and must never overlap another job.
const (
	KindParallel  = "parallel"
	KindExclusive = "exclusive"
)

// ReasonTimeout is recorded when a job is killed at its wall-clock deadline.
const ReasonTimeout = "TIMEOUT"

// ExitReason is the failure reason recorded for a child process that exited
// with a non-zero code.
func ExitReason(code int) string {
	return fmt.Sprintf("EXIT_%d", code)
}

type Job struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Dir    string `json:"dir,omitempty"`
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
}

var categoryNames = map[string]string{
	"cry": "crypto",
	"for": "forensics",
	"msc": "misc",
	"pwn": "pwn",
	"rev": "reverse",
	"web": "web",
}

// Category maps a canonical challenge id (<event>-<cat>-<name>) to its
// category name, or "unknown" for ids outside the naming convention.
func Category(id string) string {
	parts := strings.SplitN(id, "-", 3)
	if len(parts) < 3 {
		return "unknown"
	}
	if name, ok := categoryNames[parts[1]]; ok {
		return name
	}
	return "unknown"
}
