package app

import "strings"

// Run operation statuses beyond csync.RunStatus values.
const (
	StatusRunning = "running"
	StatusError   = "error"
)

// RunOperation tracks one CLI invocation that touches the store.
// Operations are created in memory with a generated ID. Only commands that
// mutate the store persist them, which also records their task results.
type RunOperation struct {
	ID         string
	Operation  string
	Parameters string
	Status     string

	persisted bool
}

// NewRunOperation creates a new in-memory run operation.
func NewRunOperation(id, operation, parameters string) *RunOperation {
	return &RunOperation{
		ID:         id,
		Operation:  operation,
		Parameters: parameters,
		Status:     StatusRunning,
	}
}

// Persisted returns true if this operation has been saved to the store.
func (op *RunOperation) Persisted() bool {
	return op.persisted
}

// runParameters renders the run's flags for the history listing.
func runParameters(tasks []string, dryRun bool) string {
	var parts []string
	if len(tasks) > 0 {
		parts = append(parts, "tasks="+strings.Join(tasks, ","))
	}
	if dryRun {
		parts = append(parts, "dry-run")
	}
	return strings.Join(parts, " ")
}
