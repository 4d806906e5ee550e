// Package handler maps the HTTP surface onto the lifecycle engine. Handlers
// only parse input, call the engine and shape the response; every scheduling
// decision stays behind the engine.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rezkam/smartflow/internal/application/scheduler"
	"github.com/rezkam/smartflow/internal/domain"
	"github.com/rezkam/smartflow/internal/infrastructure/http/response"
)

// Handler holds the endpoint implementations.
type Handler struct {
	svc                 *scheduler.Service
	defaultLeaseSeconds int
}

// New creates a handler over the lifecycle engine. defaultLeaseSeconds is
// used when a lease request omits lease_seconds.
func New(svc *scheduler.Service, defaultLeaseSeconds int) *Handler {
	if defaultLeaseSeconds < domain.MinLeaseSeconds || defaultLeaseSeconds > domain.MaxLeaseSeconds {
		defaultLeaseSeconds = 30
	}
	return &Handler{svc: svc, defaultLeaseSeconds: defaultLeaseSeconds}
}

// Routes registers every endpoint on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Post("/model/train", h.TrainModel)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.Submit)
		r.Get("/", h.List)
		r.Get("/next", h.NextReady)
		r.Post("/requeue-ready", h.RequeueReady)
		r.Post("/reconcile", h.Reconcile)
		r.Post("/archive-dead", h.ArchiveDead)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Get("/estimate", h.Estimate)
			r.Post("/lease", h.Lease)
			r.Post("/start", h.Start)
			r.Post("/complete", h.Complete)
			r.Post("/fail", h.Fail)
		})
	})

	return r
}

// Health reports whether the store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Health(r.Context()); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]string{"status": "ok"})
}

type submitRequest struct {
	Type        string  `json:"type"`
	Payload     *string `json:"payload,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	MaxAttempts *int    `json:"max_attempts,omitempty"`
}

// Submit accepts a new job.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	job, err := h.svc.Submit(r.Context(), domain.SubmitParams{
		Type:        req.Type,
		Payload:     req.Payload,
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.Created(w, job)
}

// List returns jobs matching the optional status, type and limit query
// parameters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	jobs, err := h.svc.List(r.Context(), filter)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*domain.Job{}
	}
	response.OK(w, map[string]any{"jobs": jobs})
}

// Get returns a single job.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, job)
}

// NextReady suggests the next job id a worker should try to lease.
func (h *Handler) NextReady(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.NextReady(r.Context())
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]string{"id": id})
}

type leaseRequest struct {
	WorkerID     string `json:"worker_id"`
	LeaseSeconds int    `json:"lease_seconds"`
}

// Lease grants a time-bounded lease on a queued ready job.
func (h *Handler) Lease(w http.ResponseWriter, r *http.Request) {
	var req leaseRequest
	if err := decodeJSON(r, &req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if req.LeaseSeconds == 0 {
		req.LeaseSeconds = h.defaultLeaseSeconds
	}

	job, err := h.svc.Lease(r.Context(), chi.URLParam(r, "id"), req.WorkerID, req.LeaseSeconds)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]any{
		"id":              job.ID,
		"locked_by":       job.LockedBy,
		"lock_expires_at": job.LockExpiresAt,
	})
}

// Start transitions a leased job to running.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"id": job.ID, "status": job.Status})
}

// Complete transitions a running job to completed.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"id": job.ID, "status": job.Status})
}

type failRequest struct {
	Error string `json:"error"`
}

// Fail records a failure attempt on a running job.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := decodeJSON(r, &req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	job, err := h.svc.Fail(r.Context(), chi.URLParam(r, "id"), req.Error)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]any{
		"id":          job.ID,
		"status":      job.Status,
		"attempts":    job.Attempts,
		"next_run_at": job.NextRunAt,
	})
}

type limitRequest struct {
	Limit int `json:"limit"`
}

// RequeueReady refreshes the ready-queue hint.
func (h *Handler) RequeueReady(w http.ResponseWriter, r *http.Request) {
	limit, err := decodeLimit(r)
	if err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	requeued, err := h.svc.RequeueReady(r.Context(), limit)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]int{"requeued": requeued})
}

// Reconcile runs one reconciliation sweep.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	limit, err := decodeLimit(r)
	if err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	result, err := h.svc.Reconcile(r.Context(), limit)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, result)
}

// ArchiveDead exports dead jobs to the archive.
func (h *Handler) ArchiveDead(w http.ResponseWriter, r *http.Request) {
	limit, err := decodeLimit(r)
	if err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	archived, err := h.svc.ArchiveDead(r.Context(), limit)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]int{"archived": archived})
}

// Estimate predicts the runtime of a job.
func (h *Handler) Estimate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	estimate, err := h.svc.EstimateRuntime(r.Context(), id)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"id": id, "estimated_runtime_ms": estimate})
}

// TrainModel fits the runtime model on completed jobs.
func (h *Handler) TrainModel(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.TrainEstimator(r.Context())
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, report)
}

// Stats returns per-status job counts.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.Stats(r.Context())
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, counts)
}

// decodeJSON parses the request body into v. An empty body leaves v zeroed.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// decodeLimit reads the optional {limit} body of sweep endpoints.
func decodeLimit(r *http.Request) (int, error) {
	var req limitRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, err
	}
	return req.Limit, nil
}

// parseListFilter builds the list filter from query parameters.
func parseListFilter(r *http.Request) (domain.JobFilter, error) {
	var filter domain.JobFilter

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.JobStatus(raw)
		if !status.Valid() {
			return filter, errors.New("invalid status filter")
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		jobType := raw
		filter.Type = &jobType
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return filter, errors.New("invalid limit")
		}
		filter.Limit = limit
	}
	return filter, nil
}
