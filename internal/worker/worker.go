// Package worker implements the reference worker: concurrent lease-execute
// loops over the scheduler HTTP API plus a periodic reconcile trigger. The
// worker holds no state the server cannot reconstruct; losing a worker only
// costs the lease window of whatever it was running.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rezkam/smartflow/internal/client"
	"github.com/rezkam/smartflow/internal/config"
	"github.com/rezkam/smartflow/internal/domain"
)

// fallbackListLimit bounds the store scan when the ready hint is empty.
const fallbackListLimit = 10

// SimulatedFailureError is the failure reason recorded by the simulated
// executor.
const SimulatedFailureError = "Simulated failure during execution"

// API is the slice of the scheduler client the worker depends on.
// *client.Client satisfies it.
type API interface {
	NextReady(ctx context.Context) (string, error)
	List(ctx context.Context, status, jobType string, limit int) ([]*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	Lease(ctx context.Context, id, workerID string, leaseSeconds int) (*client.LeaseResult, error)
	Start(ctx context.Context, id string) error
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id, errText string) (*client.FailResult, error)
	RequeueReady(ctx context.Context, limit int) (int, error)
	Reconcile(ctx context.Context, limit int) (*domain.ReconcileResult, error)
}

// Executor runs one job. A nil return completes the job; any error records a
// failure attempt with the error text.
type Executor func(ctx context.Context, job *domain.Job) error

// Worker runs the lease-execute loops.
type Worker struct {
	api      API
	cfg      config.WorkerConfig
	workerID string
	execute  Executor
	logger   *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithExecutor replaces the simulated executor.
func WithExecutor(execute Executor) Option {
	return func(w *Worker) {
		if execute != nil {
			w.execute = execute
		}
	}
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a worker over the given API. An empty cfg.WorkerID gets a
// generated id so concurrent workers never collide on lease ownership.
func New(api API, cfg config.WorkerConfig, opts ...Option) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}

	w := &Worker{
		api:      api,
		cfg:      cfg,
		workerID: workerID,
		logger:   slog.Default(),
	}
	w.execute = w.simulatedExecute

	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WorkerID returns the lease ownership id.
func (w *Worker) WorkerID() string {
	return w.workerID
}

// Run starts cfg.Concurrency lease-execute loops and one reconcile loop, and
// blocks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "worker started",
		"worker_id", w.workerID,
		"concurrency", w.cfg.Concurrency,
		"poll_interval", w.cfg.PollInterval,
		"reconcile_interval", w.cfg.ReconcileInterval)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(loop int) {
			defer wg.Done()
			w.runLoop(ctx, fmt.Sprintf("%s-%d", w.workerID, loop))
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.runReconcile(ctx)
	}()

	wg.Wait()
	w.logger.InfoContext(ctx, "worker stopped", "worker_id", w.workerID)
	return ctx.Err()
}

// runLoop is one lease-execute loop. Losing a job to another worker at any
// step is normal contention, not an error: the loop just moves on.
func (w *Worker) runLoop(ctx context.Context, loopID string) {
	for {
		processed, err := w.ProcessOne(ctx, loopID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.logger.WarnContext(ctx, "job cycle failed", "loop_id", loopID, "error", err)
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// ProcessOne attempts one full job cycle for the given lease owner id:
// discover, lease, start, execute, report. It returns false when nothing was
// ready or another worker won the job, signalling the caller to back off.
func (w *Worker) ProcessOne(ctx context.Context, loopID string) (bool, error) {
	id, err := w.nextJobID(ctx)
	if err != nil {
		return false, err
	}
	if id == "" {
		return false, nil
	}

	if _, err := w.api.Lease(ctx, id, loopID, w.cfg.LeaseSeconds); err != nil {
		if client.IsConflict(err) || client.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to lease job %s: %w", id, err)
	}

	if err := w.api.Start(ctx, id); err != nil {
		if client.IsConflict(err) || client.IsNotFound(err) {
			// Lease expired or another worker took over before start.
			return false, nil
		}
		return false, fmt.Errorf("failed to start job %s: %w", id, err)
	}

	job, err := w.api.Get(ctx, id)
	if err != nil {
		return true, w.reportFailure(ctx, id, fmt.Sprintf("failed to load job: %v", err))
	}

	w.logger.InfoContext(ctx, "job started", "job_id", id, "type", job.Type, "loop_id", loopID)

	if execErr := w.executeWithRecovery(ctx, job); execErr != nil {
		return true, w.reportFailure(ctx, id, execErr.Error())
	}

	if err := w.api.Complete(ctx, id); err != nil {
		if client.IsConflict(err) {
			// Reconcile recovered the job mid-run; its retry will redo the work.
			w.logger.WarnContext(ctx, "job moved on before completion", "job_id", id)
			return true, nil
		}
		return true, fmt.Errorf("failed to complete job %s: %w", id, err)
	}

	w.logger.InfoContext(ctx, "job completed", "job_id", id, "loop_id", loopID)
	w.refreshHint(ctx)
	return true, nil
}

// refreshHint republishes ready job ids after a completion so the next pick
// comes from the hint instead of the fallback scan. The hint is advisory, so
// a failed refresh only logs.
func (w *Worker) refreshHint(ctx context.Context) {
	if _, err := w.api.RequeueReady(ctx, 0); err != nil {
		w.logger.WarnContext(ctx, "ready hint refresh failed", "error", err)
	}
}

// nextJobID asks the hint for a candidate and falls back to listing queued
// jobs. Empty string means nothing is ready.
func (w *Worker) nextJobID(ctx context.Context) (string, error) {
	id, err := w.api.NextReady(ctx)
	if err == nil {
		return id, nil
	}
	if !client.IsNotFound(err) {
		return "", fmt.Errorf("failed to get next ready job: %w", err)
	}

	jobs, err := w.api.List(ctx, string(domain.StatusQueued), "", fallbackListLimit)
	if err != nil {
		return "", fmt.Errorf("failed to list queued jobs: %w", err)
	}
	now := time.Now().UTC()
	for _, job := range jobs {
		if job.Ready(now) && !job.LeaseValid(now) {
			return job.ID, nil
		}
	}
	return "", nil
}

// reportFailure records a failure attempt; a conflict means the server
// already moved the job on.
func (w *Worker) reportFailure(ctx context.Context, id, errText string) error {
	result, err := w.api.Fail(ctx, id, errText)
	if err != nil {
		if client.IsConflict(err) || client.IsNotFound(err) {
			w.logger.WarnContext(ctx, "job moved on before failure report", "job_id", id)
			return nil
		}
		return fmt.Errorf("failed to report failure for job %s: %w", id, err)
	}
	w.logger.InfoContext(ctx, "job failed",
		"job_id", id,
		"status", result.Status,
		"attempts", result.Attempts,
		"error", errText)
	return nil
}

// executeWithRecovery runs the executor with panic recovery so one bad job
// cannot take the loop down.
func (w *Worker) executeWithRecovery(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.ErrorContext(ctx, "job panicked",
				"job_id", job.ID,
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.execute(ctx, job)
}

// simulatedExecute is the default executor: sleep a random 100ms-2s, then
// fail with probability cfg.FailRate.
func (w *Worker) simulatedExecute(ctx context.Context, job *domain.Job) error {
	duration := 100*time.Millisecond + rand.N(1900*time.Millisecond)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(duration):
	}
	if rand.Float64() < w.cfg.FailRate {
		return errors.New(SimulatedFailureError)
	}
	return nil
}

// runReconcile triggers a server-side reconcile sweep on a jittered ticker.
// Jitter keeps a fleet of workers from sweeping in lockstep.
func (w *Worker) runReconcile(ctx context.Context) {
	for {
		interval := w.cfg.ReconcileInterval + rand.N(w.cfg.ReconcileInterval/4+1)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		result, err := w.api.Reconcile(ctx, w.cfg.ReconcileLimit)
		if err != nil {
			w.logger.WarnContext(ctx, "reconcile sweep failed", "error", err)
			continue
		}
		if result.Recovered > 0 || result.Dead > 0 || result.Requeued > 0 {
			w.logger.InfoContext(ctx, "reconcile sweep",
				"recovered", result.Recovered,
				"dead", result.Dead,
				"requeued", result.Requeued)
		}
	}
}
