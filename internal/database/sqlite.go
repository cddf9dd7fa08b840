package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"csync/internal/csync"
	"csync/internal/database/migrations"
	"csync/internal/model"
)

// SQLiteStore is the durable fingerprint store. Each task's records live under
// their own task_table key; all tables share one database file.
type SQLiteStore struct {
	db   *sqlx.DB
	path string
}

// NewSQLiteStore opens the store at path, applying pending migrations.
// path can be a file path or ":memory:".
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	db, err := OpenConnection(path, opts...)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating store: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing connection. The schema must already
// be applied.
func NewSQLiteStoreFromDB(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// fingerprintRow is the scan target for the fingerprints table.
type fingerprintRow struct {
	Table      string    `db:"task_table"`
	FilePath   string    `db:"file_path"`
	Digest     string    `db:"digest"`
	LastSynced time.Time `db:"last_synced"`
}

// Fingerprint operations

func (s *SQLiteStore) Get(ctx context.Context, table, relativePath string) (csync.Fingerprint, bool, error) {
	var digest string
	err := s.db.GetContext(ctx, &digest,
		"SELECT digest FROM fingerprints WHERE task_table = ? AND file_path = ?", table, relativePath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, &csync.StoreError{Op: "get", Err: err}
	}
	return csync.Fingerprint(digest), true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, table, relativePath string, fp csync.Fingerprint, syncedAt time.Time) error {
	if err := csync.ValidateTableName(table); err != nil {
		return &csync.StoreError{Op: "put", Err: err}
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO fingerprints (task_table, file_path, digest, last_synced)
		VALUES (:task_table, :file_path, :digest, :last_synced)
		ON CONFLICT(task_table, file_path) DO UPDATE SET
			digest = excluded.digest,
			last_synced = excluded.last_synced`,
		fingerprintRow{
			Table:      table,
			FilePath:   relativePath,
			Digest:     string(fp),
			LastSynced: syncedAt.UTC(),
		})
	if err != nil {
		return &csync.StoreError{Op: "put", Err: err}
	}
	return nil
}

// Record returns the full stored record, or nil when the path was never synced.
func (s *SQLiteStore) Record(ctx context.Context, table, relativePath string) (*csync.FingerprintRecord, error) {
	var row fingerprintRow
	err := s.db.GetContext(ctx, &row,
		"SELECT task_table, file_path, digest, last_synced FROM fingerprints WHERE task_table = ? AND file_path = ?",
		table, relativePath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &csync.StoreError{Op: "record", Err: err}
	}
	return &csync.FingerprintRecord{
		Table:        row.Table,
		RelativePath: row.FilePath,
		Fingerprint:  csync.Fingerprint(row.Digest),
		LastSynced:   row.LastSynced,
	}, nil
}

// Count returns the number of records held for table.
func (s *SQLiteStore) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM fingerprints WHERE task_table = ?", table); err != nil {
		return 0, &csync.StoreError{Op: "count", Err: err}
	}
	return n, nil
}

// TableCounts returns the record count of every table that has records.
func (s *SQLiteStore) TableCounts(ctx context.Context) ([]*model.TableCount, error) {
	var counts []*model.TableCount
	err := s.db.SelectContext(ctx, &counts,
		"SELECT task_table, COUNT(*) AS records FROM fingerprints GROUP BY task_table ORDER BY task_table")
	if err != nil {
		return nil, &csync.StoreError{Op: "table counts", Err: err}
	}
	return counts, nil
}

// Run history

// CreateRun records the start of a run.
func (s *SQLiteStore) CreateRun(ctx context.Context, id, operation, parameters string, startedAt time.Time) (*model.SyncRun, error) {
	run := &model.SyncRun{
		ID:         id,
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  startedAt.UTC(),
		Status:     "running",
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sync_runs (id, operation, parameters, started_at, status)
		VALUES (:id, :operation, :parameters, :started_at, :status)`, run)
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	return run, nil
}

// FinishRun stamps the run with its final status.
func (s *SQLiteStore) FinishRun(ctx context.Context, id, status string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sync_runs SET finished_at = ?, status = ? WHERE id = ?", finishedAt.UTC(), status, id)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run: no run with id %s", id)
	}
	return nil
}

// AddTaskResult records the outcome of one task within a run.
func (s *SQLiteStore) AddTaskResult(ctx context.Context, r *model.TaskResult) error {
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO task_results (run_id, task, task_table, state, total_discovered, processed,
			transferred, skipped_unchanged, failed, duration_ms, error)
		VALUES (:run_id, :task, :task_table, :state, :total_discovered, :processed,
			:transferred, :skipped_unchanged, :failed, :duration_ms, :error)`, r)
	if err != nil {
		return fmt.Errorf("adding task result: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		r.ID = id
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	var runs []*model.SyncRun
	err := s.db.SelectContext(ctx, &runs, `
		SELECT id, operation, parameters, started_at, finished_at, status
		FROM sync_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// ListTaskResults returns the task outcomes recorded for a run.
func (s *SQLiteStore) ListTaskResults(ctx context.Context, runID string) ([]*model.TaskResult, error) {
	var results []*model.TaskResult
	err := s.db.SelectContext(ctx, &results, `
		SELECT id, run_id, task, task_table, state, total_discovered, processed, transferred,
			skipped_unchanged, failed, duration_ms, error
		FROM task_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing task results: %w", err)
	}
	return results, nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the schema is up to date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckStatus(s.db.DB)
}

// BackupTo writes a consistent copy of the store to destPath using VACUUM INTO.
func (s *SQLiteStore) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up store: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ csync.FingerprintStore = (*SQLiteStore)(nil)
