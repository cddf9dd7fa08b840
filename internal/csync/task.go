package csync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// TaskState is the lifecycle position of a Task.
type TaskState int32

const (
	Pending TaskState = iota
	Walking
	ComparingAndTransferring
	Completed
	Failed
)

func (s TaskState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Walking:
		return "walking"
	case ComparingAndTransferring:
		return "comparing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultWorkers is the per-task worker pool size used when none is configured.
const DefaultWorkers = 4

// Deps holds the collaborators shared by every task in a run.
type Deps struct {
	Store         FingerprintStore
	Fingerprinter Fingerprinter
	Transferor    Transferor
	Walker        Walker
	Metrics       MetricsSink
	Logger        Logger
	Clock         Clock

	// TaskLogger returns the logger for a task's own log. When nil, Logger is used.
	TaskLogger func(task string) Logger

	// GlobalExclude is applied to every task before the task's own patterns.
	GlobalExclude []string
}

func (d Deps) taskLogger(name string) Logger {
	if d.TaskLogger != nil {
		if l := d.TaskLogger(name); l != nil {
			return l
		}
	}
	if d.Logger != nil {
		return d.Logger
	}
	return NewNopLogger()
}

// TaskOptions tune how a single task executes.
type TaskOptions struct {
	Workers int
	// DryRun reports what would be transferred without touching the
	// destination or the store.
	DryRun bool
}

// TaskResult is the outcome of one task.
type TaskResult struct {
	Name     string
	Table    string
	State    TaskState
	Counters SyncCounters
	Duration time.Duration
	// Err is set when the task Failed, or when it stopped early on cancellation.
	Err error
}

// Task syncs one SyncTaskSpec. A Task is single-use.
type Task struct {
	spec     SyncTaskSpec
	deps     Deps
	opts     TaskOptions
	logger   Logger
	state    atomic.Int32
	counters counters
}

// NewTask creates a task in the Pending state.
func NewTask(spec SyncTaskSpec, deps Deps, opts TaskOptions) *Task {
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	return &Task{
		spec:   spec,
		deps:   deps,
		opts:   opts,
		logger: deps.taskLogger(spec.Name),
	}
}

// State returns the current lifecycle state.
func (t *Task) State() TaskState { return TaskState(t.state.Load()) }

// Counters returns a snapshot of the progress so far.
func (t *Task) Counters() SyncCounters { return t.counters.snapshot() }

func (t *Task) setState(s TaskState) { t.state.Store(int32(s)) }

// Run walks the source tree and syncs every regular file found.
//
// Per-file failures are recorded in the counters and never fail the task. The
// task ends Failed only when the walk cannot start. On cancellation the task
// ends Completed with the counters reached so far.
func (t *Task) Run(ctx context.Context) TaskResult {
	start := t.deps.Clock.Now()
	t.setState(Walking)

	excludes := append(append([]string{}, t.deps.GlobalExclude...), t.spec.Exclude...)
	items := make(chan FileWorkItem, t.opts.Workers*2)

	var started sync.Once
	begin := func() { started.Do(func() { t.setState(ComparingAndTransferring) }) }

	var g errgroup.Group
	var walkErr error
	g.Go(func() error {
		defer close(items)
		walkErr = t.deps.Walker.Walk(ctx, t.spec.SourceRoot, excludes, func(item FileWorkItem, err error) error {
			begin()
			t.counters.totalDiscovered.Add(1)
			if err != nil {
				t.logger.Error("walk entry failed", "path", item.RelativePath, "error", err)
				t.counters.failed.Add(1)
				t.counters.processed.Add(1)
				return nil
			}
			select {
			case items <- item:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		return nil
	})

	for i := 0; i < t.opts.Workers; i++ {
		g.Go(func() error {
			for item := range items {
				if ctx.Err() != nil {
					continue
				}
				t.process(ctx, item)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := TaskResult{
		Name:  t.spec.Name,
		Table: t.spec.Table,
	}

	// A walk that finished before the cancel still leaves queued items unprocessed.
	if walkErr == nil && ctx.Err() != nil && t.counters.processed.Load() < t.counters.totalDiscovered.Load() {
		walkErr = ctx.Err()
	}

	switch {
	case walkErr == nil:
		t.setState(Completed)
	case cancelled(ctx, walkErr):
		t.logger.Warn("task cancelled", "error", walkErr)
		result.Err = walkErr
		t.setState(Completed)
	default:
		t.logger.Error("task failed", "source", t.spec.SourceRoot, "error", walkErr)
		result.Err = walkErr
		t.setState(Failed)
	}

	result.State = t.State()
	result.Counters = t.counters.snapshot()
	result.Duration = t.deps.Clock.Now().Sub(start)
	return result
}

// process handles one file. Every outcome lands in exactly one of the
// transferred, skipped or failed counters. A file interrupted by cancellation
// is left unprocessed and picked up by the next run.
func (t *Task) process(ctx context.Context, item FileWorkItem) {
	rel := item.RelativePath

	digest, err := t.deps.Fingerprinter.Fingerprint(ctx, item.AbsolutePath)
	if err != nil {
		if cancelled(ctx, err) {
			t.logger.Debug("aborted", "path", rel)
			return
		}
		t.settle(&t.counters.failed)
		t.logger.Error("fingerprint failed", "path", rel, "error", err)
		return
	}

	stored, found, err := t.deps.Store.Get(ctx, t.spec.Table, rel)
	if err != nil {
		if cancelled(ctx, err) {
			t.logger.Debug("aborted", "path", rel)
			return
		}
		// Fail open: an unknown state is resolved by transferring again.
		t.logger.Error("store degraded, transferring", "path", rel, "error", err)
		found = false
	}
	if found && stored == digest {
		t.settle(&t.counters.skippedUnchanged)
		t.logger.Debug("unchanged", "path", rel)
		return
	}

	dest := JoinDest(t.spec.DestRoot, rel)
	if t.opts.DryRun {
		t.settle(&t.counters.transferred)
		t.logger.File("would transfer", "path", rel, "size", humanize.Bytes(uint64(item.Size)), "dest", dest)
		return
	}

	res, err := t.deps.Transferor.Transfer(ctx, item.AbsolutePath, dest, TransferOptions{
		OverwriteExisting:  t.spec.Overwrite,
		PreserveAttributes: true,
		Digest:             digest,
	})
	if err != nil {
		if cancelled(ctx, err) {
			t.logger.Debug("aborted", "path", rel)
			return
		}
		t.settle(&t.counters.failed)
		t.logger.Error("transfer failed", "path", rel, "error", err)
		return
	}

	// The destination is authoritative. A failed Put is healed by the next run.
	// The copy has landed, so the record is written even after a cancel.
	if err := t.deps.Store.Put(context.WithoutCancel(ctx), t.spec.Table, rel, digest, t.deps.Clock.Now()); err != nil {
		t.logger.Error("recording fingerprint failed", "path", rel, "error", err)
	}
	t.settle(&t.counters.transferred)
	t.logger.File("synced", "path", rel, "size", humanize.Bytes(uint64(res.Bytes)), "outcome", res.Outcome.String())
}

// settle records one processed file under outcome.
func (t *Task) settle(outcome *atomic.Int64) {
	outcome.Add(1)
	t.counters.processed.Add(1)
}

// cancelled reports whether err was caused by ctx being done.
func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}
