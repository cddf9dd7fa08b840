package csync

import "sync/atomic"

// SyncCounters is a read-only snapshot of a task's progress.
// On completion Processed == Transferred + SkippedUnchanged + Failed.
type SyncCounters struct {
	TotalDiscovered  int64
	Processed        int64
	Transferred      int64
	SkippedUnchanged int64
	Failed           int64
}

// Balanced reports whether every processed item was classified exactly once.
func (c SyncCounters) Balanced() bool {
	return c.Processed == c.Transferred+c.SkippedUnchanged+c.Failed
}

// counters is the live accumulator shared by a task's workers.
type counters struct {
	totalDiscovered  atomic.Int64
	processed        atomic.Int64
	transferred      atomic.Int64
	skippedUnchanged atomic.Int64
	failed           atomic.Int64
}

func (c *counters) snapshot() SyncCounters {
	return SyncCounters{
		TotalDiscovered:  c.totalDiscovered.Load(),
		Processed:        c.processed.Load(),
		Transferred:      c.transferred.Load(),
		SkippedUnchanged: c.skippedUnchanged.Load(),
		Failed:           c.failed.Load(),
	}
}
