package csync

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunStatus summarizes a whole run.
type RunStatus int

const (
	// Success means every task reached Completed, even if some files failed.
	Success RunStatus = iota
	// PartialFailure means at least one task ended Failed.
	PartialFailure
)

func (s RunStatus) String() string {
	if s == Success {
		return "success"
	}
	return "partial_failure"
}

// RunnerOptions configure a Runner.
type RunnerOptions struct {
	// Workers is the per-task worker pool size.
	Workers int
	// ParallelTasks is the number of tasks run at once. Values below 2 run
	// tasks sequentially in configuration order.
	ParallelTasks int
	DryRun        bool
}

// RunResult is the outcome of a run. Tasks is in the order the specs were given.
type RunResult struct {
	Status   RunStatus
	Tasks    []TaskResult
	Duration time.Duration
}

// Runner executes a set of tasks and reports each to the metrics sink and logger.
type Runner struct {
	deps Deps
	opts RunnerOptions
}

// NewRunner creates a Runner. A nil Metrics sink or Logger is replaced by a no-op.
func NewRunner(deps Deps, opts RunnerOptions) *Runner {
	if deps.Metrics == nil {
		deps.Metrics = NopSink{}
	}
	if deps.Logger == nil {
		deps.Logger = NewNopLogger()
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	return &Runner{deps: deps, opts: opts}
}

// validate rejects specs that cannot run together. Parallel tasks must never
// share a table.
func (r *Runner) validate(specs []SyncTaskSpec) error {
	names := make(map[string]bool, len(specs))
	tables := make(map[string]string, len(specs))
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return err
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate task name %q", s.Name)
		}
		names[s.Name] = true
		if other, ok := tables[s.Table]; ok && r.opts.ParallelTasks > 1 {
			return fmt.Errorf("tasks %q and %q share table %q and cannot run in parallel", other, s.Name, s.Table)
		}
		tables[s.Table] = s.Name
	}
	return nil
}

// Run executes every spec. The returned error is non-nil only when the specs
// are invalid; task failures are reported through RunResult.Status.
func (r *Runner) Run(ctx context.Context, specs []SyncTaskSpec) (RunResult, error) {
	if err := r.validate(specs); err != nil {
		return RunResult{}, fmt.Errorf("validating tasks: %w", err)
	}

	start := r.deps.Clock.Now()
	results := make([]TaskResult, len(specs))
	taskOpts := TaskOptions{Workers: r.opts.Workers, DryRun: r.opts.DryRun}

	runOne := func(i int) {
		spec := specs[i]
		r.deps.Logger.Info("task started", "task", spec.Name, "source", spec.SourceRoot, "dest", spec.DestRoot)
		res := NewTask(spec, r.deps, taskOpts).Run(ctx)
		results[i] = res
		r.report(ctx, res)
	}

	if r.opts.ParallelTasks > 1 {
		var g errgroup.Group
		g.SetLimit(r.opts.ParallelTasks)
		for i := range specs {
			i := i
			g.Go(func() error {
				runOne(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range specs {
			runOne(i)
		}
	}

	out := RunResult{Status: Success, Tasks: results, Duration: r.deps.Clock.Now().Sub(start)}
	for _, res := range results {
		if res.State != Completed {
			out.Status = PartialFailure
		}
	}
	r.deps.Logger.Info("run finished", "status", out.Status.String(), "tasks", len(results), "duration", out.Duration)
	return out, nil
}

// report logs a task summary and pushes its metrics. Push failures are logged
// and otherwise ignored.
func (r *Runner) report(ctx context.Context, res TaskResult) {
	logger := r.deps.taskLogger(res.Name)
	c := res.Counters

	if res.State == Failed {
		logger.Error("task failed", "error", res.Err, "duration", res.Duration)
		r.deps.Logger.Error("task failed", "task", res.Name, "error", res.Err)
	} else {
		logger.Info("task completed",
			"discovered", c.TotalDiscovered,
			"processed", c.Processed,
			"transferred", c.Transferred,
			"skipped", c.SkippedUnchanged,
			"failed", c.Failed,
			"duration", res.Duration)
		r.deps.Logger.Info("task completed", "task", res.Name, "transferred", c.Transferred, "failed", c.Failed)
	}

	// Metrics still go out when the run itself was cancelled.
	pushCtx := context.WithoutCancel(ctx)
	for _, m := range taskMetrics(res, r.deps.Clock.Now()) {
		if err := r.deps.Metrics.Push(pushCtx, res.Name, m.name, m.value, m.typ); err != nil {
			r.deps.Logger.Warn("metrics push failed", "task", res.Name, "metric", m.name, "error", err)
		}
	}
}

type metric struct {
	name  string
	value float64
	typ   MetricType
}

// taskMetrics lists what is pushed for a finished task. A Failed task only
// pushes a zero-activity marker.
func taskMetrics(res TaskResult, now time.Time) []metric {
	if res.State == Failed {
		return []metric{
			{"processed", 0, Counter},
			{"failed_task", 1, Gauge},
		}
	}
	c := res.Counters
	return []metric{
		{"total_discovered", float64(c.TotalDiscovered), Counter},
		{"processed", float64(c.Processed), Counter},
		{"transferred", float64(c.Transferred), Counter},
		{"skipped_unchanged", float64(c.SkippedUnchanged), Counter},
		{"failed", float64(c.Failed), Counter},
		{"duration_seconds", res.Duration.Seconds(), Gauge},
		{"last_run_timestamp", float64(now.Unix()), Gauge},
	}
}
