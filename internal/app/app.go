package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"csync/internal/config"
	"csync/internal/csync"
	"csync/internal/database"
	"csync/internal/fingerprint"
	"csync/internal/fs"
	"csync/internal/metrics"
	"csync/internal/model"
	"csync/internal/transfer"
)

// CSyncApp is the application layer between the CLI and the sync engine.
// It constructs all dependencies from config, exposes high-level operations,
// and manages the store lifecycle on Close.
type CSyncApp struct {
	cfg   *config.Config
	store *database.SQLiteStore
	deps  csync.Deps
	logs  *logSet
	lock  *RunLock
	op    *RunOperation
	dirty bool
}

// Option customizes NewCSyncApp.
type Option func(*options)

type options struct {
	console    io.Writer
	verbose    bool
	clock      csync.Clock
	ids        csync.IDGenerator
	sink       csync.MetricsSink
	transferor csync.Transferor
}

// WithConsole sets where console logs go. The default is stderr.
func WithConsole(w io.Writer) Option { return func(o *options) { o.console = w } }

// WithVerbose enables debug output on the console.
func WithVerbose(v bool) Option { return func(o *options) { o.verbose = v } }

func WithClock(c csync.Clock) Option { return func(o *options) { o.clock = c } }

func WithIDGenerator(g csync.IDGenerator) Option { return func(o *options) { o.ids = g } }

// WithMetricsSink replaces the sink selected by the metrics config.
func WithMetricsSink(s csync.MetricsSink) Option { return func(o *options) { o.sink = s } }

// WithTransferor replaces the local/S3 router.
func WithTransferor(t csync.Transferor) Option { return func(o *options) { o.transferor = t } }

// NewCSyncApp creates a fully wired CSyncApp from the given config.
// operation identifies the CLI command being run (e.g. "Run", "Status").
// The caller must call Close when done.
func NewCSyncApp(cfg *config.Config, operation string, opts ...Option) (*CSyncApp, error) {
	o := options{
		console: os.Stderr,
		clock:   csync.RealClock{},
		ids:     csync.UUIDGenerator{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	fp, err := fingerprint.New(cfg.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("creating fingerprinter: %w", err)
	}

	sink := o.sink
	if sink == nil {
		sink, err = metrics.NewSinkFromConfig(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("creating metrics sink: %w", err)
		}
	}

	tr := o.transferor
	if tr == nil {
		tr = transfer.NewTransferorFromConfig(cfg.S3)
	}

	store, err := database.NewStoreFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	if err := store.CheckMigrations(); err != nil {
		store.Close()
		return nil, fmt.Errorf("store schema out of date: %w", err)
	}

	op := NewRunOperation(o.ids.New(), operation, "")
	logs, err := newLogSet(cfg.LogDir, op.ID, o.console, o.verbose)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := logs.runLogger()

	deps := csync.Deps{
		Store:         store,
		Fingerprinter: fp,
		Transferor:    tr,
		Walker:        fs.NewOSWalker(logger),
		Metrics:       sink,
		Logger:        logger,
		Clock:         o.clock,
		TaskLogger:    logs.taskLogger,
		GlobalExclude: cfg.Filesystem.Exclude,
	}

	return &CSyncApp{
		cfg:   cfg,
		store: store,
		deps:  deps,
		logs:  logs,
		lock:  NewRunLock(lockDir(cfg)),
		op:    op,
	}, nil
}

// lockDir is the store's data directory, or the base directory for an
// in-memory store.
func lockDir(cfg *config.Config) string {
	if cfg.Database.Type == "sqlite" && cfg.Database.DataDir != "" {
		return cfg.Database.DataDir
	}
	if cfg.BaseDir != "" {
		return cfg.BaseDir
	}
	return cfg.LogDir
}

// RunID returns the ID of this invocation, as recorded in history and logs.
func (a *CSyncApp) RunID() string {
	return a.op.ID
}

// selectTasks returns the specs for names in the order given, or every
// configured task when names is empty.
func (a *CSyncApp) selectTasks(names []string) ([]csync.SyncTaskSpec, error) {
	if len(a.cfg.Tasks) == 0 {
		return nil, fmt.Errorf("no tasks configured")
	}

	var tasks []config.TaskConfig
	if len(names) == 0 {
		tasks = a.cfg.Tasks
	} else {
		for _, name := range names {
			t := a.cfg.FindTask(name)
			if t == nil {
				return nil, fmt.Errorf("unknown task: %q", name)
			}
			tasks = append(tasks, *t)
		}
	}

	specs := make([]csync.SyncTaskSpec, 0, len(tasks))
	for _, t := range tasks {
		source, err := filepath.Abs(t.Source)
		if err != nil {
			return nil, fmt.Errorf("resolving source of %q: %w", t.Name, err)
		}
		dest := t.Dest
		if !csync.IsRemote(dest) {
			if dest, err = filepath.Abs(dest); err != nil {
				return nil, fmt.Errorf("resolving dest of %q: %w", t.Name, err)
			}
		}
		specs = append(specs, csync.SyncTaskSpec{
			Name:       t.Name,
			SourceRoot: source,
			DestRoot:   dest,
			Table:      t.Table,
			Exclude:    t.Exclude,
			Overwrite:  t.Overwrite,
		})
	}
	return specs, nil
}

// persistOperation saves the run operation to the store.
func (a *CSyncApp) persistOperation(ctx context.Context) error {
	if a.op.Persisted() {
		return nil
	}
	if _, err := a.store.CreateRun(ctx, a.op.ID, a.op.Operation, a.op.Parameters, a.deps.Clock.Now()); err != nil {
		return fmt.Errorf("persisting run operation: %w", err)
	}
	a.op.persisted = true
	return nil
}

// Run syncs the named tasks, or all configured tasks when names is empty.
// The run lock is held for the duration. A PartialFailure is reported through
// the result, not the error.
func (a *CSyncApp) Run(ctx context.Context, names []string, dryRun bool) (csync.RunResult, error) {
	specs, err := a.selectTasks(names)
	if err != nil {
		return csync.RunResult{}, err
	}

	if err := a.lock.Lock(); err != nil {
		return csync.RunResult{}, err
	}
	defer func() {
		if err := a.lock.Unlock(); err != nil {
			a.deps.Logger.Warn("releasing run lock", "error", err)
		}
	}()

	a.op.Parameters = runParameters(names, dryRun)
	if err := a.persistOperation(ctx); err != nil {
		return csync.RunResult{}, err
	}
	a.deps.Logger.Info("run started", "tasks", len(specs), "dry_run", dryRun)

	runner := csync.NewRunner(a.deps, csync.RunnerOptions{
		Workers:       a.cfg.Workers,
		ParallelTasks: a.cfg.ParallelTasks,
		DryRun:        dryRun,
	})
	res, err := runner.Run(ctx, specs)
	if err != nil {
		a.op.Status = StatusError
		return res, err
	}
	a.op.Status = res.Status.String()
	a.dirty = !dryRun

	// History is recorded even when the run was interrupted.
	a.recordResults(context.WithoutCancel(ctx), res)
	return res, nil
}

func (a *CSyncApp) recordResults(ctx context.Context, res csync.RunResult) {
	for _, tr := range res.Tasks {
		row := &model.TaskResult{
			RunID:            a.op.ID,
			Task:             tr.Name,
			TaskTable:        tr.Table,
			State:            tr.State.String(),
			TotalDiscovered:  tr.Counters.TotalDiscovered,
			Processed:        tr.Counters.Processed,
			Transferred:      tr.Counters.Transferred,
			SkippedUnchanged: tr.Counters.SkippedUnchanged,
			Failed:           tr.Counters.Failed,
			DurationMillis:   tr.Duration.Milliseconds(),
		}
		if tr.Err != nil {
			row.Error = tr.Err.Error()
		}
		if err := a.store.AddTaskResult(ctx, row); err != nil {
			a.deps.Logger.Warn("recording task result", "task", tr.Name, "error", err)
		}
	}
}

// RunHistory is one past run with its task outcomes.
type RunHistory struct {
	Run   *model.SyncRun
	Tasks []*model.TaskResult
}

// History returns the most recent runs, newest first.
func (a *CSyncApp) History(ctx context.Context, limit int) ([]*RunHistory, error) {
	runs, err := a.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*RunHistory, 0, len(runs))
	for _, r := range runs {
		tasks, err := a.store.ListTaskResults(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, &RunHistory{Run: r, Tasks: tasks})
	}
	return out, nil
}

// FileRecord returns the stored fingerprint for relPath in task's table, or
// nil when the file has never been synced.
func (a *CSyncApp) FileRecord(ctx context.Context, task, relPath string) (*csync.FingerprintRecord, error) {
	t := a.cfg.FindTask(task)
	if t == nil {
		return nil, fmt.Errorf("unknown task: %q", task)
	}
	rel := filepath.ToSlash(filepath.Clean(relPath))
	return a.store.Record(ctx, t.Table, rel)
}

// TaskStatus is the number of fingerprint records held for a configured task.
type TaskStatus struct {
	Task    string
	Table   string
	Records int64
}

// Status returns the record count of every configured task, in config order.
func (a *CSyncApp) Status(ctx context.Context) ([]TaskStatus, error) {
	counts, err := a.store.TableCounts(ctx)
	if err != nil {
		return nil, err
	}
	byTable := make(map[string]int64, len(counts))
	for _, c := range counts {
		byTable[c.Table] = c.Records
	}

	out := make([]TaskStatus, 0, len(a.cfg.Tasks))
	for _, t := range a.cfg.Tasks {
		out = append(out, TaskStatus{Task: t.Name, Table: t.Table, Records: byTable[t.Table]})
	}
	return out, nil
}

// Close finalizes the operation and closes all resources.
// For persisted operations the run record is finished, and after a run that
// changed the store a snapshot is written next to the database file.
func (a *CSyncApp) Close() error {
	var errs []error

	if a.op.Persisted() {
		status := a.op.Status
		if status == StatusRunning {
			status = StatusError
		}
		if err := a.store.FinishRun(context.Background(), a.op.ID, status, a.deps.Clock.Now()); err != nil {
			errs = append(errs, fmt.Errorf("finishing run operation: %w", err))
		}
		if a.dirty {
			if err := a.snapshotStore(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	if err := a.logs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing logs: %w", err))
	}
	return errors.Join(errs...)
}

// snapshotStore writes <db>.bak atomically. In-memory stores are skipped.
func (a *CSyncApp) snapshotStore() error {
	path := a.store.Path()
	if path == "" || path == ":memory:" {
		return nil
	}

	tmp := path + ".bak.tmp"
	os.Remove(tmp)
	if err := a.store.BackupTo(tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, path+".bak"); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("saving store snapshot: %w", err)
	}
	return nil
}
