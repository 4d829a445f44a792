// Package jobstate implements the durable job and lease tables backed by
// SQLite. Every RPC is served by a fresh process invocation (the worker
// binary is invoked once per request, typically via an SSH forced
// command), so job and lease state cannot live in an in-process map: it
// must survive across invocations on local disk.
package jobstate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/rch-lane/xcode-worker/internal/protocol"
)

// Store is the durable backing for jobs and leases, opened once per RPC
// invocation against the worker's configured state_root.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if necessary) the SQLite database at dsn and runs
// migrations. dsn is typically a file path under state_root; ":memory:" is
// used by tests.
func Open(dsn string, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("jobstate: open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobstate: set busy timeout: %w", err)
	}
	if dsn != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("jobstate: enable WAL: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobstate: enable foreign keys: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobstate: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS leases (
			id TEXT PRIMARY KEY,
			reserved_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL,
			released_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			job_key TEXT NOT NULL,
			lease_id TEXT,
			state TEXT NOT NULL DEFAULT 'QUEUED',
			job_key_inputs TEXT NOT NULL,
			backend_identity TEXT NOT NULL DEFAULT '',
			failure_kind TEXT NOT NULL DEFAULT '',
			failure_subkind TEXT NOT NULL DEFAULT '',
			failure_message TEXT NOT NULL DEFAULT '',
			artifacts_path TEXT NOT NULL DEFAULT '',
			xcresult_path TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_job_key ON jobs(job_key)`,
		`CREATE TABLE IF NOT EXISTS job_logs (
			job_id TEXT NOT NULL,
			offset INTEGER NOT NULL,
			data BLOB NOT NULL,
			FOREIGN KEY (job_id) REFERENCES jobs(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_logs_job_id ON job_logs(job_id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}
	return nil
}

// JobNotFoundError is returned when an operation references a job id that
// does not exist in the store.
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("jobstate: job %q not found", e.JobID)
}

// InvalidTransitionError is returned when a caller attempts a transition
// the state machine does not permit.
type InvalidTransitionError struct {
	From, To protocol.JobState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("jobstate: invalid transition %s -> %s", e.From, e.To)
}

// DuplicateJobKeyError is returned when a submit's job_key collides with a
// different job_id already on record. Idempotency is keyed on job_id
// (identical job_id + job_key is a no-op resubmission, handled in Submit
// before this ever reaches the database); the job_key UNIQUE index instead
// enforces a separate, stricter invariant: the same content-addressed job
// is never accepted under two different job_ids.
type DuplicateJobKeyError struct {
	JobKey string
}

func (e *DuplicateJobKeyError) Error() string {
	return fmt.Sprintf("jobstate: job_key %q already submitted under a different job_id", e.JobKey)
}

// isUniqueConstraintErr reports whether err is a SQLite UNIQUE constraint
// violation. modernc.org/sqlite wraps these in its own error type, but its
// Error() text is stable across versions, so a substring match avoids
// importing the driver's internal error package for one check.
func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ctxOrBackground returns context.Background() if ctx is nil, mirroring the
// teacher's defensive helper pattern for call sites that predate full
// context threading.
func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
