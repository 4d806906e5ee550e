// Package scheduler implements the job lifecycle engine: submit, lease,
// start, complete, fail and the reconciliation sweep. The engine holds no
// authoritative in-memory state; every transition is delegated to the
// repository as a conditional row update, and the engine's only job is input
// validation, retry arithmetic and turning CAS misses into precise conflicts.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rezkam/smartflow/internal/domain"
	"github.com/rezkam/smartflow/internal/infrastructure/hint"
	"github.com/rezkam/smartflow/internal/predict"
)

// LeaseExpiredError is the failure reason recorded when reconcile recovers an
// expired running job.
const LeaseExpiredError = "lease expired"

// trainSampleLimit bounds how many completed jobs one training run reads.
const trainSampleLimit = 10000

// ArchiveStore persists terminal job snapshots outside the job table.
type ArchiveStore interface {
	Save(ctx context.Context, name string, data []byte) error
}

// RuntimeEstimator predicts job runtimes from completed-job history.
type RuntimeEstimator interface {
	Train(jobs []*domain.Job) (predict.Report, error)
	Predict(job *domain.Job) (int64, error)
}

// Service is the lifecycle engine over a job repository.
type Service struct {
	repo      Repository
	hint      hint.Queue
	backoff   domain.BackoffTable
	now       func() time.Time
	logger    *slog.Logger
	archive   ArchiveStore
	estimator RuntimeEstimator
}

// Option configures a Service.
type Option func(*Service)

// WithHint attaches an advisory ready-queue hint.
func WithHint(q hint.Queue) Option {
	return func(s *Service) { s.hint = q }
}

// WithBackoff overrides the default retry schedule.
func WithBackoff(table domain.BackoffTable) Option {
	return func(s *Service) {
		if len(table) > 0 {
			s.backoff = table
		}
	}
}

// WithClock overrides the time source. Used by tests; the replacement must
// return UTC instants.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithArchive attaches a dead-job archive backend.
func WithArchive(store ArchiveStore) Option {
	return func(s *Service) { s.archive = store }
}

// WithEstimator attaches a runtime estimator.
func WithEstimator(e RuntimeEstimator) Option {
	return func(s *Service) { s.estimator = e }
}

// New creates a lifecycle engine over the given repository.
func New(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		hint:    hint.NewMemory(0),
		backoff: domain.DefaultBackoff,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates the parameters, persists a fresh queued job and publishes
// its id to the hint.
func (s *Service) Submit(ctx context.Context, params domain.SubmitParams) (*domain.Job, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate job id: %w", err)
	}

	job, err := domain.NewJob(id.String(), params, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.repo.InsertJob(ctx, job); err != nil {
		return nil, err
	}

	s.pushHint(ctx, job.ID)
	return job, nil
}

// Get returns the job with the given id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Job, error) {
	return s.repo.GetJob(ctx, id)
}

// List returns jobs matching the filter in selection order.
func (s *Service) List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	if filter.Limit < 0 {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidLimit, filter.Limit)
	}
	if filter.Limit == 0 {
		filter.Limit = domain.DefaultListLimit
	}
	return s.repo.ListJobs(ctx, filter)
}

// Lease grants workerID a time-bounded lease on a queued, ready, unleased
// job. The job stays queued; only a subsequent Start moves it to running.
func (s *Service) Lease(ctx context.Context, id, workerID string, leaseSeconds int) (*domain.Job, error) {
	if err := domain.ValidateLeaseRequest(workerID, leaseSeconds); err != nil {
		return nil, err
	}

	now := s.now()
	job, err := s.repo.LeaseJob(ctx, id, workerID, now, now.Add(time.Duration(leaseSeconds)*time.Second))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, domain.ErrJobConflict) {
		return nil, err
	}
	return nil, s.refineLeaseConflict(ctx, id, now)
}

// refineLeaseConflict re-reads the row after a CAS miss to report which lease
// precondition failed. The re-read is diagnostic only; the row may have moved
// on again, in which case the generic conflict stands.
func (s *Service) refineLeaseConflict(ctx context.Context, id string, now time.Time) error {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case job.Status != domain.StatusQueued:
		return fmt.Errorf("%w: status is %s", domain.ErrJobNotQueued, job.Status)
	case !job.Ready(now):
		return fmt.Errorf("%w: next run at %s", domain.ErrJobNotReady, job.NextRunAt.Format(time.RFC3339))
	case job.LeaseValid(now):
		return fmt.Errorf("%w: held by %s until %s", domain.ErrJobLeased, *job.LockedBy, job.LockExpiresAt.Format(time.RFC3339))
	default:
		return domain.ErrJobConflict
	}
}

// Start transitions a leased queued job to running.
func (s *Service) Start(ctx context.Context, id string) (*domain.Job, error) {
	now := s.now()
	job, err := s.repo.StartJob(ctx, id, now)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, domain.ErrJobConflict) {
		return nil, err
	}

	cur, getErr := s.repo.GetJob(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	switch {
	case cur.Status != domain.StatusQueued:
		return nil, fmt.Errorf("%w: status is %s", domain.ErrJobNotQueued, cur.Status)
	case !cur.LeaseValid(now):
		return nil, domain.ErrJobNotLeased
	case !cur.Ready(now):
		return nil, fmt.Errorf("%w: next run at %s", domain.ErrJobNotReady, cur.NextRunAt.Format(time.RFC3339))
	default:
		return nil, domain.ErrJobConflict
	}
}

// Complete transitions a running job to the terminal completed state.
func (s *Service) Complete(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.repo.CompleteJob(ctx, id, s.now())
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, domain.ErrJobConflict) {
		return nil, err
	}
	return nil, s.refineRunningConflict(ctx, id)
}

// Fail records a failure attempt on a running job: requeue with backoff while
// the retry budget lasts, dead-letter once it is exhausted. The caller is not
// required to hold the current lease; a stale worker's Fail on a re-leased
// running job is accepted and counted as this run's failure.
func (s *Service) Fail(ctx context.Context, id, errText string) (*domain.Job, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.StatusRunning {
		return nil, fmt.Errorf("%w: status is %s", domain.ErrJobNotRunning, job.Status)
	}

	updated, err := s.failObserved(ctx, job, errText)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, domain.ErrJobConflict) {
		return nil, err
	}
	return nil, s.refineRunningConflict(ctx, id)
}

// failObserved applies the attempts/backoff rule to a job observed in the
// running state. The store update re-checks status and the observed attempts
// count, so a concurrent transition loses cleanly.
func (s *Service) failObserved(ctx context.Context, job *domain.Job, errText string) (*domain.Job, error) {
	now := s.now()
	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		return s.repo.DeadLetterJob(ctx, job.ID, job.Attempts, errText, now)
	}
	nextRunAt := now.Add(s.backoff.Delay(attempts))
	return s.repo.RequeueJob(ctx, job.ID, job.Attempts, errText, nextRunAt, now)
}

func (s *Service) refineRunningConflict(ctx context.Context, id string) error {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != domain.StatusRunning {
		return fmt.Errorf("%w: status is %s", domain.ErrJobNotRunning, job.Status)
	}
	return domain.ErrJobConflict
}

// NextReady suggests the id of a job a worker should try to lease next:
// hint-first, store scan as fallback. The suggestion carries no reservation;
// the worker's Lease call is still arbitrated by the store.
func (s *Service) NextReady(ctx context.Context) (string, error) {
	id, err := s.hint.Pop(ctx)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, hint.ErrEmpty) {
		s.logger.WarnContext(ctx, "hint pop failed, falling back to store scan", "error", err)
	}

	ready, err := s.repo.ListReady(ctx, s.now(), 1)
	if err != nil {
		return "", err
	}
	if len(ready) == 0 {
		return "", domain.ErrJobNotFound
	}
	return ready[0].ID, nil
}

// RequeueReady publishes up to limit ready job ids to the hint in selection
// order and returns how many were published.
func (s *Service) RequeueReady(ctx context.Context, limit int) (int, error) {
	if limit < 0 {
		return 0, fmt.Errorf("%w: got %d", domain.ErrInvalidLimit, limit)
	}
	if limit == 0 {
		limit = domain.DefaultListLimit
	}

	ready, err := s.repo.ListReady(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	if len(ready) == 0 {
		return 0, nil
	}

	ids := make([]string, len(ready))
	for i, job := range ready {
		ids[i] = job.ID
	}
	if err := s.hint.Push(ctx, ids...); err != nil {
		// Advisory queue: workers fall back to scanning the store.
		s.logger.WarnContext(ctx, "hint push failed", "count", len(ids), "error", err)
		return 0, nil
	}
	return len(ids), nil
}

// Reconcile runs one sweep, bounded by limit per phase. Phase one recovers
// running jobs whose lease expired, treating each as a failure attempt with
// the lease-expired reason. Phase two refreshes the hint with ready ids.
// Per-row errors are logged and skipped; the sweep commits what succeeded.
func (s *Service) Reconcile(ctx context.Context, limit int) (domain.ReconcileResult, error) {
	var result domain.ReconcileResult
	if limit < 0 {
		return result, fmt.Errorf("%w: got %d", domain.ErrInvalidLimit, limit)
	}
	if limit == 0 {
		limit = domain.DefaultListLimit
	}

	expired, err := s.repo.ListExpiredRunning(ctx, s.now(), limit)
	if err != nil {
		return result, err
	}
	for _, job := range expired {
		updated, err := s.failObserved(ctx, job, LeaseExpiredError)
		if errors.Is(err, domain.ErrJobConflict) || errors.Is(err, domain.ErrJobNotFound) {
			// A worker's complete or fail beat the sweep to this row.
			s.logger.DebugContext(ctx, "expired job moved on before recovery", "job_id", job.ID)
			continue
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to recover expired job", "job_id", job.ID, "error", err)
			continue
		}
		if updated.Status == domain.StatusDead {
			result.Dead++
		} else {
			result.Recovered++
		}
	}

	requeued, err := s.RequeueReady(ctx, limit)
	if err != nil {
		return result, err
	}
	result.Requeued = requeued

	s.logger.InfoContext(ctx, "reconcile sweep finished",
		"recovered", result.Recovered,
		"dead", result.Dead,
		"requeued", result.Requeued)
	return result, nil
}

// Stats returns the number of jobs per status.
func (s *Service) Stats(ctx context.Context) (map[domain.JobStatus]int, error) {
	return s.repo.CountJobsByStatus(ctx)
}

// Health verifies store connectivity.
func (s *Service) Health(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// EstimateRuntime predicts the runtime of the given job in milliseconds.
// The estimate is informational and never consulted by scheduling.
func (s *Service) EstimateRuntime(ctx context.Context, id string) (int64, error) {
	if s.estimator == nil {
		return 0, domain.ErrModelNotTrained
	}
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return 0, err
	}
	return s.estimator.Predict(job)
}

// TrainEstimator fits the runtime model on completed jobs with a recorded
// runtime and persists it.
func (s *Service) TrainEstimator(ctx context.Context) (predict.Report, error) {
	if s.estimator == nil {
		return predict.Report{}, domain.ErrModelNotTrained
	}

	status := domain.StatusCompleted
	completed, err := s.repo.ListJobs(ctx, domain.JobFilter{Status: &status, Limit: trainSampleLimit})
	if err != nil {
		return predict.Report{}, err
	}

	samples := make([]*domain.Job, 0, len(completed))
	for _, job := range completed {
		if job.RuntimeMS != nil {
			samples = append(samples, job)
		}
	}

	report, err := s.estimator.Train(samples)
	if err != nil {
		return predict.Report{}, err
	}
	s.logger.InfoContext(ctx, "runtime model trained", "samples", report.Samples, "r2", report.R2)
	return report, nil
}

// ArchiveDead exports up to limit dead jobs to the archive as JSON snapshots.
// Export only: terminal rows are never mutated.
func (s *Service) ArchiveDead(ctx context.Context, limit int) (int, error) {
	if s.archive == nil {
		return 0, domain.ErrArchiveNotConfigured
	}
	if limit < 0 {
		return 0, fmt.Errorf("%w: got %d", domain.ErrInvalidLimit, limit)
	}
	if limit == 0 {
		limit = domain.DefaultListLimit
	}

	status := domain.StatusDead
	dead, err := s.repo.ListJobs(ctx, domain.JobFilter{Status: &status, Limit: limit})
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, job := range dead {
		data, err := json.Marshal(job)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to marshal dead job", "job_id", job.ID, "error", err)
			continue
		}
		if err := s.archive.Save(ctx, "jobs/"+job.ID+".json", data); err != nil {
			s.logger.ErrorContext(ctx, "failed to archive dead job", "job_id", job.ID, "error", err)
			continue
		}
		archived++
	}
	return archived, nil
}

// pushHint publishes a job id to the advisory hint, logging on failure.
func (s *Service) pushHint(ctx context.Context, id string) {
	if err := s.hint.Push(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "hint push failed", "job_id", id, "error", err)
	}
}
