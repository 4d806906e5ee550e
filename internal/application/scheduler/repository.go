package scheduler

import (
	"context"
	"time"

	"github.com/rezkam/smartflow/internal/domain"
)

// Repository is the job store contract. Every state transition is a single
// conditional row update: the precondition lives in the store's WHERE clause
// and a miss surfaces as domain.ErrJobConflict (or domain.ErrJobNotFound when
// the row does not exist). Two concurrent callers racing for the same
// transition therefore get exactly one success.
//
// Transition methods return the post-transition row. Errors other than
// not-found, conflict and duplicate-id wrap domain.ErrStorageUnavailable.
type Repository interface {
	// InsertJob persists a new job. Returns domain.ErrJobExists on id
	// collision.
	InsertJob(ctx context.Context, job *domain.Job) error

	// GetJob returns the job with the given id.
	GetJob(ctx context.Context, id string) (*domain.Job, error)

	// ListJobs returns jobs matching the filter, ordered by priority desc,
	// created_at asc, id asc.
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error)

	// LeaseJob grants workerID a lease until expires, iff the job is queued,
	// ready at now, and carries no unexpired lease. Status stays queued.
	LeaseJob(ctx context.Context, id, workerID string, now, expires time.Time) (*domain.Job, error)

	// StartJob transitions queued -> running, iff the job holds an unexpired
	// lease and is ready at now. Sets started_at on the first run only and
	// clears next_run_at.
	StartJob(ctx context.Context, id string, now time.Time) (*domain.Job, error)

	// CompleteJob transitions running -> completed, records completed_at and
	// the measured runtime, and clears the lease.
	CompleteJob(ctx context.Context, id string, now time.Time) (*domain.Job, error)

	// RequeueJob transitions running -> queued for a retry, iff attempts still
	// equals observedAttempts. Increments attempts, records lastError, sets
	// next_run_at and clears the lease.
	RequeueJob(ctx context.Context, id string, observedAttempts int, lastError string, nextRunAt, now time.Time) (*domain.Job, error)

	// DeadLetterJob transitions running -> dead, iff attempts still equals
	// observedAttempts. Increments attempts, records lastError and clears the
	// lease and next_run_at.
	DeadLetterJob(ctx context.Context, id string, observedAttempts int, lastError string, now time.Time) (*domain.Job, error)

	// ListExpiredRunning returns up to limit running jobs whose lease expired
	// at or before now, oldest expiry first.
	ListExpiredRunning(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)

	// ListReady returns up to limit queued jobs whose backoff window has
	// elapsed at now, in selection order.
	ListReady(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)

	// CountJobsByStatus returns the number of jobs per status.
	CountJobsByStatus(ctx context.Context) (map[domain.JobStatus]int, error)

	// Ping verifies store connectivity.
	Ping(ctx context.Context) error
}
