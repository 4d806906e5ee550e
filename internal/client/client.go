// Package client is the Go client for the scheduler HTTP API. Workers and
// operational tooling use it instead of hand-rolling requests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rezkam/smartflow/internal/domain"
	"github.com/rezkam/smartflow/internal/predict"
)

// DefaultTimeout bounds a single API call when the caller's context carries
// no deadline of its own.
const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx response decoded from the API's error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsConflict reports whether err is a 409 precondition conflict.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// IsNotFound reports whether err is a 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to one scheduler API server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the API at baseURL, e.g. "http://localhost:8000".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

// NewWithHTTPClient creates a client using the given http.Client. Tests pass
// an httptest server's client here.
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Health checks that the server and its store are reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// SubmitRequest carries the fields of a job submission.
type SubmitRequest struct {
	Type        string  `json:"type"`
	Payload     *string `json:"payload,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	MaxAttempts *int    `json:"max_attempts,omitempty"`
}

// Submit creates a new queued job.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	var job domain.Job
	if err := c.do(ctx, http.MethodPost, "/jobs", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Get fetches one job by id.
func (c *Client) Get(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns jobs matching the optional status and type filters, newest
// scheduling order first (priority desc, created asc).
func (c *Client) List(ctx context.Context, status, jobType string, limit int) ([]*domain.Job, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if jobType != "" {
		q.Set("type", jobType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Jobs []*domain.Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// NextReady returns the id of a job worth trying to lease. A 404 means
// nothing is ready right now.
func (c *Client) NextReady(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodGet, "/jobs/next", nil, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// LeaseResult is the grant returned by a successful lease.
type LeaseResult struct {
	ID            string     `json:"id"`
	LockedBy      *string    `json:"locked_by"`
	LockExpiresAt *time.Time `json:"lock_expires_at"`
}

// Lease requests a lease on the job for workerID. leaseSeconds zero uses the
// server default.
func (c *Client) Lease(ctx context.Context, id, workerID string, leaseSeconds int) (*LeaseResult, error) {
	body := map[string]any{"worker_id": workerID}
	if leaseSeconds > 0 {
		body["lease_seconds"] = leaseSeconds
	}
	var out LeaseResult
	if err := c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(id)+"/lease", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Start moves a leased job to running.
func (c *Client) Start(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(id)+"/start", nil, nil)
}

// Complete marks a running job as completed.
func (c *Client) Complete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(id)+"/complete", nil, nil)
}

// FailResult reports the job's state after a failure was recorded.
type FailResult struct {
	ID        string           `json:"id"`
	Status    domain.JobStatus `json:"status"`
	Attempts  int              `json:"attempts"`
	NextRunAt *time.Time       `json:"next_run_at"`
}

// Fail records a failure attempt on a running job.
func (c *Client) Fail(ctx context.Context, id, errText string) (*FailResult, error) {
	var out FailResult
	body := map[string]string{"error": errText}
	if err := c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(id)+"/fail", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequeueReady asks the server to refresh the ready-queue hint and returns
// how many ids it published.
func (c *Client) RequeueReady(ctx context.Context, limit int) (int, error) {
	var out struct {
		Requeued int `json:"requeued"`
	}
	if err := c.do(ctx, http.MethodPost, "/jobs/requeue-ready", limitBody(limit), &out); err != nil {
		return 0, err
	}
	return out.Requeued, nil
}

// Reconcile triggers one reconciliation sweep.
func (c *Client) Reconcile(ctx context.Context, limit int) (*domain.ReconcileResult, error) {
	var out domain.ReconcileResult
	if err := c.do(ctx, http.MethodPost, "/jobs/reconcile", limitBody(limit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ArchiveDead exports dead jobs to the configured archive.
func (c *Client) ArchiveDead(ctx context.Context, limit int) (int, error) {
	var out struct {
		Archived int `json:"archived"`
	}
	if err := c.do(ctx, http.MethodPost, "/jobs/archive-dead", limitBody(limit), &out); err != nil {
		return 0, err
	}
	return out.Archived, nil
}

// Estimate returns the predicted runtime of the job in milliseconds.
func (c *Client) Estimate(ctx context.Context, id string) (int64, error) {
	var out struct {
		EstimatedRuntimeMS int64 `json:"estimated_runtime_ms"`
	}
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id)+"/estimate", nil, &out); err != nil {
		return 0, err
	}
	return out.EstimatedRuntimeMS, nil
}

// TrainModel fits the runtime model on the server.
func (c *Client) TrainModel(ctx context.Context) (*predict.Report, error) {
	var out predict.Report
	if err := c.do(ctx, http.MethodPost, "/model/train", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns per-status job counts.
func (c *Client) Stats(ctx context.Context) (map[domain.JobStatus]int, error) {
	out := make(map[domain.JobStatus]int)
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func limitBody(limit int) any {
	if limit <= 0 {
		return nil
	}
	return map[string]int{"limit": limit}
}

// do performs one request/response round trip. A nil body sends no payload;
// a nil out discards the response body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeAPIError reads the error envelope; a malformed body still yields an
// APIError carrying the status code.
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Code: "UNKNOWN"}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
