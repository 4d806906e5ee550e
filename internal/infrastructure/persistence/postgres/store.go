package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rezkam/smartflow/internal/domain"
)

// jobColumns is the column list every job query selects, in scanJob order.
const jobColumns = `id, type, payload, priority, status, attempts, max_attempts,
	last_error, created_at, updated_at, started_at, completed_at, next_run_at,
	locked_by, lock_expires_at, runtime_ms`

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

// Store implements scheduler.Repository over a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// InsertJob persists a new job row.
func (s *Store) InsertJob(ctx context.Context, job *domain.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, type, payload, priority, status, attempts, max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.Type, job.Payload, job.Priority, job.Status,
		job.Attempts, job.MaxAttempts, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: id %s", domain.ErrJobExists, job.ID)
		}
		return fmt.Errorf("%w: failed to insert job: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// GetJob returns the job with the given id.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Type != nil {
		args = append(args, *filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY priority DESC, created_at ASC, id ASC"

	limit := filter.Limit
	if limit <= 0 {
		limit = domain.DefaultListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	return s.queryJobs(ctx, query, args...)
}

// LeaseJob grants a lease iff the job is queued, ready and unleased at now.
func (s *Store) LeaseJob(ctx context.Context, id, workerID string, now, expires time.Time) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET locked_by = $2, lock_expires_at = $3, updated_at = $4
		WHERE id = $1
		  AND status = 'queued'
		  AND (next_run_at IS NULL OR next_run_at <= $4)
		  AND (lock_expires_at IS NULL OR lock_expires_at <= $4)
		RETURNING `+jobColumns,
		id, workerID, expires, now)
	return s.scanTransition(row, "lease")
}

// StartJob transitions queued -> running under a valid lease.
func (s *Store) StartJob(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'running',
		    started_at = COALESCE(started_at, $2),
		    next_run_at = NULL,
		    updated_at = $2
		WHERE id = $1
		  AND status = 'queued'
		  AND locked_by IS NOT NULL
		  AND lock_expires_at > $2
		  AND (next_run_at IS NULL OR next_run_at <= $2)
		RETURNING `+jobColumns,
		id, now)
	return s.scanTransition(row, "start")
}

// CompleteJob transitions running -> completed and records the runtime.
func (s *Store) CompleteJob(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'completed',
		    completed_at = $2,
		    runtime_ms = (EXTRACT(EPOCH FROM ($2 - started_at)) * 1000)::bigint,
		    locked_by = NULL,
		    lock_expires_at = NULL,
		    updated_at = $2
		WHERE id = $1 AND status = 'running'
		RETURNING `+jobColumns,
		id, now)
	return s.scanTransition(row, "complete")
}

// RequeueJob transitions running -> queued for a retry. The attempts guard
// makes a concurrent transition on the same run lose cleanly.
func (s *Store) RequeueJob(ctx context.Context, id string, observedAttempts int, lastError string, nextRunAt, now time.Time) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'queued',
		    attempts = attempts + 1,
		    last_error = $3,
		    next_run_at = $4,
		    locked_by = NULL,
		    lock_expires_at = NULL,
		    updated_at = $5
		WHERE id = $1 AND status = 'running' AND attempts = $2
		RETURNING `+jobColumns,
		id, observedAttempts, lastError, nextRunAt, now)
	return s.scanTransition(row, "requeue")
}

// DeadLetterJob transitions running -> dead once the retry budget is spent.
func (s *Store) DeadLetterJob(ctx context.Context, id string, observedAttempts int, lastError string, now time.Time) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'dead',
		    attempts = attempts + 1,
		    last_error = $3,
		    next_run_at = NULL,
		    locked_by = NULL,
		    lock_expires_at = NULL,
		    updated_at = $4
		WHERE id = $1 AND status = 'running' AND attempts = $2
		RETURNING `+jobColumns,
		id, observedAttempts, lastError, now)
	return s.scanTransition(row, "dead-letter")
}

// ListExpiredRunning returns running jobs whose lease expired, oldest first.
func (s *Store) ListExpiredRunning(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'running' AND lock_expires_at <= $1
		ORDER BY lock_expires_at ASC
		LIMIT $2`,
		now, limit)
}

// ListReady returns queued jobs whose backoff window has elapsed, in
// selection order.
func (s *Store) ListReady(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'queued' AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT $2`,
		now, limit)
}

// CountJobsByStatus returns the number of jobs per status.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to count jobs: %v", domain.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status domain.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("%w: failed to scan count: %v", domain.ErrStorageUnavailable, err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate counts: %v", domain.ErrStorageUnavailable, err)
	}
	return counts, nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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

// scanTransition interprets the result of a conditional UPDATE ... RETURNING:
// no row back means the precondition failed, or the job does not exist; the
// engine distinguishes the two by re-reading.
func (s *Store) scanTransition(row pgx.Row, op string) (*domain.Job, error) {
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s precondition failed", domain.ErrJobConflict, op)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to %s job: %v", domain.ErrStorageUnavailable, op, err)
	}
	return job, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	err := row.Scan(
		&job.ID, &job.Type, &job.Payload, &job.Priority, &job.Status,
		&job.Attempts, &job.MaxAttempts, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt, &job.StartedAt, &job.CompletedAt,
		&job.NextRunAt, &job.LockedBy, &job.LockExpiresAt, &job.RuntimeMS)
	if err != nil {
		return nil, err
	}
	normalizeTimes(&job)
	return &job, nil
}

// normalizeTimes forces every scanned timestamp to UTC.
func normalizeTimes(job *domain.Job) {
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	for _, t := range []**time.Time{&job.StartedAt, &job.CompletedAt, &job.NextRunAt, &job.LockExpiresAt} {
		if *t != nil {
			utc := (**t).UTC()
			*t = &utc
		}
	}
}
