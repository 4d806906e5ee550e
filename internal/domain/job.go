package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusDead      JobStatus = "dead"
)

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusDead:
		return true
	}
	return false
}

// Terminal reports whether s is an absorbing state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusDead
}

// Validation bounds for job fields and lease requests.
const (
	MinPriority        = 1
	MaxPriority        = 10
	DefaultPriority    = 5
	MinMaxAttempts     = 1
	MaxMaxAttempts     = 10
	DefaultMaxAttempts = 3
	MinLeaseSeconds    = 5
	MaxLeaseSeconds    = 300
	DefaultListLimit   = 100
)

// Job is a persisted unit of work. The store owns all job state; every
// transition is a conditional single-row update, so no in-memory copy of a
// Job is ever authoritative.
type Job struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	Payload       *string    `json:"payload,omitempty"`
	Priority      int        `json:"priority"`
	Status        JobStatus  `json:"status"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	LastError     *string    `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LockedBy      *string    `json:"locked_by,omitempty"`
	LockExpiresAt *time.Time `json:"lock_expires_at,omitempty"`
	RuntimeMS     *int64     `json:"runtime_ms,omitempty"`
}

// LeaseValid reports whether the job carries an unexpired lease at now.
func (j *Job) LeaseValid(now time.Time) bool {
	return j.LockedBy != nil && j.LockExpiresAt != nil && j.LockExpiresAt.After(now)
}

// Ready reports whether the job's backoff window has elapsed at now.
// A job with no next_run_at is ready immediately.
func (j *Job) Ready(now time.Time) bool {
	return j.NextRunAt == nil || !j.NextRunAt.After(now)
}

// SubmitParams carries the caller-supplied fields of a new job.
// Nil Priority and MaxAttempts fall back to the defaults.
type SubmitParams struct {
	Type        string
	Payload     *string
	Priority    *int
	MaxAttempts *int
}

// NewJob validates params and builds a queued job with the given id.
// Timestamps are taken from now, which must be UTC.
func NewJob(id string, params SubmitParams, now time.Time) (*Job, error) {
	if strings.TrimSpace(params.Type) == "" {
		return nil, ErrTypeRequired
	}

	priority := DefaultPriority
	if params.Priority != nil {
		priority = *params.Priority
	}
	if priority < MinPriority || priority > MaxPriority {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPriority, priority)
	}

	maxAttempts := DefaultMaxAttempts
	if params.MaxAttempts != nil {
		maxAttempts = *params.MaxAttempts
	}
	if maxAttempts < MinMaxAttempts || maxAttempts > MaxMaxAttempts {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMaxAttempts, maxAttempts)
	}

	return &Job{
		ID:          id,
		Type:        params.Type,
		Payload:     params.Payload,
		Priority:    priority,
		Status:      StatusQueued,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ValidateLeaseRequest checks the lease operation inputs.
func ValidateLeaseRequest(workerID string, leaseSeconds int) error {
	if strings.TrimSpace(workerID) == "" {
		return ErrWorkerIDRequired
	}
	if leaseSeconds < MinLeaseSeconds || leaseSeconds > MaxLeaseSeconds {
		return fmt.Errorf("%w: got %d", ErrInvalidLeaseSeconds, leaseSeconds)
	}
	return nil
}

// JobFilter narrows ListJobs results. Zero Limit falls back to
// DefaultListLimit; ordering is always priority desc, created_at asc, id asc.
type JobFilter struct {
	Status *JobStatus
	Type   *string
	Limit  int
}

// ReconcileResult aggregates the counts of one reconciliation sweep.
type ReconcileResult struct {
	Recovered int `json:"recovered"`
	Dead      int `json:"dead"`
	Requeued  int `json:"requeued"`
}

// BackoffTable defines retry delays indexed by 1-based attempt count.
// Attempts beyond the table length reuse the last entry.
type BackoffTable []time.Duration

// DefaultBackoff is the wall-clock retry schedule: 10s, 30s, 90s, then 300s
// for every further attempt. No jitter.
var DefaultBackoff = BackoffTable{
	10 * time.Second,
	30 * time.Second,
	90 * time.Second,
	300 * time.Second,
}

// Delay returns the backoff for the given post-increment attempt count.
func (t BackoffTable) Delay(attempt int) time.Duration {
	if len(t) == 0 {
		t = DefaultBackoff
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(t) {
		attempt = len(t)
	}
	return t[attempt-1]
}
