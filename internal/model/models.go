package model

import (
	"database/sql"
	"time"
)

// SyncRun is one CLI invocation that may touch the fingerprint store.
type SyncRun struct {
	ID         string       `db:"id"` // UUID
	Operation  string       `db:"operation"`
	Parameters string       `db:"parameters"`
	StartedAt  time.Time    `db:"started_at"`
	FinishedAt sql.NullTime `db:"finished_at"`
	Status     string       `db:"status"` // running, success, partial_failure, error
}

// TaskResult is the recorded outcome of one task within a SyncRun.
type TaskResult struct {
	ID               int64  `db:"id"`
	RunID            string `db:"run_id"`
	Task             string `db:"task"`
	TaskTable        string `db:"task_table"`
	State            string `db:"state"`
	TotalDiscovered  int64  `db:"total_discovered"`
	Processed        int64  `db:"processed"`
	Transferred      int64  `db:"transferred"`
	SkippedUnchanged int64  `db:"skipped_unchanged"`
	Failed           int64  `db:"failed"`
	DurationMillis   int64  `db:"duration_ms"`
	Error            string `db:"error"`
}

// TableCount is the number of fingerprint records held for one table.
type TableCount struct {
	Table   string `db:"task_table"`
	Records int64  `db:"records"`
}
