// Package sqlite implements the job repository over a local SQLite database
// using the pure-Go modernc.org/sqlite driver. It is the default backend.
//
// Timestamps are persisted as Unix milliseconds so every readiness and lease
// comparison in SQL is an exact integer comparison. Like the PostgreSQL
// store, every state transition is a single conditional UPDATE.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	sqlite3 "modernc.org/sqlite"

	"github.com/rezkam/smartflow/internal/domain"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const busyTimeout = 10 * time.Second

// sqliteConstraintPrimaryKey is the SQLITE_CONSTRAINT_PRIMARYKEY extended
// result code.
const sqliteConstraintPrimaryKey = 1555

// jobColumns is the column list every job query selects, in scanJob order.
const jobColumns = `id, type, payload, priority, status, attempts, max_attempts,
	last_error, created_at, updated_at, started_at, completed_at, next_run_at,
	locked_by, lock_expires_at, runtime_ms`

// Store implements scheduler.Repository over a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path, applies connection
// pragmas, optionally runs migrations, and returns a ready store.
func Open(ctx context.Context, path string, autoMigrate bool) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)",
		path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// Single writer; keep the pool small.
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if autoMigrate {
		if err := runMigrations(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	goose.SetBaseFS(embedMigrations)
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// InsertJob persists a new job row.
func (s *Store) InsertJob(ctx context.Context, job *domain.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, payload, priority, status, attempts, max_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Type, nullString(job.Payload), job.Priority, string(job.Status),
		job.Attempts, job.MaxAttempts, toMillis(job.CreatedAt), toMillis(job.UpdatedAt))
	if err != nil {
		var sqliteErr *sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqliteConstraintPrimaryKey {
			return fmt.Errorf("%w: id %s", domain.ErrJobExists, job.ID)
		}
		return fmt.Errorf("%w: failed to insert job: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// GetJob returns the job with the given id.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %s", domain.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get job: %v", domain.ErrStorageUnavailable, err)
	}
	return job, nil
}

// ListJobs returns jobs matching the filter in selection order.
func (s *Store) ListJobs(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	var conditions []string
	var args []any

	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Type != nil {
		conditions = append(conditions, "type = ?")
		args = append(args, *filter.Type)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY priority DESC, created_at ASC, id ASC LIMIT ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = domain.DefaultListLimit
	}
	args = append(args, limit)

	return s.queryJobs(ctx, query, args...)
}

// LeaseJob grants a lease iff the job is queued, ready and unleased at now.
func (s *Store) LeaseJob(ctx context.Context, id, workerID string, now, expires time.Time) (*domain.Job, error) {
	return s.transition(ctx, id, "lease", `
		UPDATE jobs
		SET locked_by = ?, lock_expires_at = ?, updated_at = ?
		WHERE id = ?
		  AND status = 'queued'
		  AND (next_run_at IS NULL OR next_run_at <= ?)
		  AND (lock_expires_at IS NULL OR lock_expires_at <= ?)`,
		workerID, toMillis(expires), toMillis(now), id, toMillis(now), toMillis(now))
}

// StartJob transitions queued -> running under a valid lease.
func (s *Store) StartJob(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	return s.transition(ctx, id, "start", `
		UPDATE jobs
		SET status = 'running',
		    started_at = COALESCE(started_at, ?),
		    next_run_at = NULL,
		    updated_at = ?
		WHERE id = ?
		  AND status = 'queued'
		  AND locked_by IS NOT NULL
		  AND lock_expires_at > ?
		  AND (next_run_at IS NULL OR next_run_at <= ?)`,
		toMillis(now), toMillis(now), id, toMillis(now), toMillis(now))
}

// CompleteJob transitions running -> completed and records the runtime as
// milliseconds elapsed since started_at.
func (s *Store) CompleteJob(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	return s.transition(ctx, id, "complete", `
		UPDATE jobs
		SET status = 'completed',
		    completed_at = ?,
		    runtime_ms = ? - started_at,
		    locked_by = NULL,
		    lock_expires_at = NULL,
		    updated_at = ?
		WHERE id = ? AND status = 'running'`,
		toMillis(now), toMillis(now), toMillis(now), id)
}

// RequeueJob transitions running -> queued for a retry. The attempts guard
// makes a concurrent transition on the same run lose cleanly.
func (s *Store) RequeueJob(ctx context.Context, id string, observedAttempts int, lastError string, nextRunAt, now time.Time) (*domain.Job, error) {
	return s.transition(ctx, id, "requeue", `
		UPDATE jobs
		SET status = 'queued',
		    attempts = attempts + 1,
		    last_error = ?,
		    next_run_at = ?,
		    locked_by = NULL,
		    lock_expires_at = NULL,
		    updated_at = ?
		WHERE id = ? AND status = 'running' AND attempts = ?`,
		lastError, toMillis(nextRunAt), toMillis(now), id, observedAttempts)
}

// DeadLetterJob transitions running -> dead once the retry budget is spent.
func (s *Store) DeadLetterJob(ctx context.Context, id string, observedAttempts int, lastError string, now time.Time) (*domain.Job, error) {
	return s.transition(ctx, id, "dead-letter", `
		UPDATE jobs
		SET status = 'dead',
		    attempts = attempts + 1,
		    last_error = ?,
		    next_run_at = NULL,
		    locked_by = NULL,
		    lock_expires_at = NULL,
		    updated_at = ?
		WHERE id = ? AND status = 'running' AND attempts = ?`,
		lastError, toMillis(now), id, observedAttempts)
}

// ListExpiredRunning returns running jobs whose lease expired, oldest first.
func (s *Store) ListExpiredRunning(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'running' AND lock_expires_at <= ?
		ORDER BY lock_expires_at ASC
		LIMIT ?`,
		toMillis(now), limit)
}

// ListReady returns queued jobs whose backoff window has elapsed, in
// selection order.
func (s *Store) ListReady(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'queued' AND (next_run_at IS NULL OR next_run_at <= ?)
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT ?`,
		toMillis(now), limit)
}

// CountJobsByStatus returns the number of jobs per status.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to count jobs: %v", domain.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("%w: failed to scan count: %v", domain.ErrStorageUnavailable, err)
		}
		counts[domain.JobStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate counts: %v", domain.ErrStorageUnavailable, err)
	}
	return counts, nil
}

// transition runs a conditional UPDATE and returns the post-transition row.
// Zero rows affected means the precondition failed, or the job does not
// exist; the engine distinguishes the two by re-reading.
func (s *Store) transition(ctx context.Context, id, op, query string, args ...any) (*domain.Job, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to %s job: %v", domain.ErrStorageUnavailable, op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to %s job: %v", domain.ErrStorageUnavailable, op, err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s precondition failed", domain.ErrJobConflict, op)
	}
	return s.GetJob(ctx, id)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query jobs: %v", domain.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan job: %v", domain.ErrStorageUnavailable, err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate jobs: %v", domain.ErrStorageUnavailable, err)
	}
	return jobs, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var (
		job       domain.Job
		status    string
		payload   sql.NullString
		lastError sql.NullString
		lockedBy  sql.NullString
		createdAt int64
		updatedAt int64
		started   sql.NullInt64
		completed sql.NullInt64
		nextRun   sql.NullInt64
		expires   sql.NullInt64
		runtime   sql.NullInt64
	)
	err := row.Scan(
		&job.ID, &job.Type, &payload, &job.Priority, &status,
		&job.Attempts, &job.MaxAttempts, &lastError,
		&createdAt, &updatedAt, &started, &completed, &nextRun,
		&lockedBy, &expires, &runtime)
	if err != nil {
		return nil, err
	}

	job.Status = domain.JobStatus(status)
	job.Payload = fromNullString(payload)
	job.LastError = fromNullString(lastError)
	job.LockedBy = fromNullString(lockedBy)
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	job.StartedAt = fromNullMillis(started)
	job.CompletedAt = fromNullMillis(completed)
	job.NextRunAt = fromNullMillis(nextRun)
	job.LockExpiresAt = fromNullMillis(expires)
	if runtime.Valid {
		job.RuntimeMS = &runtime.Int64
	}
	return &job, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
