package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/rezkam/smartflow/internal/ptr"
)

func TestNewJobDefaults(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	job, err := NewJob("job-1", SubmitParams{Type: "email"}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if job.Priority != DefaultPriority {
		t.Errorf("expected default priority %d, got %d", DefaultPriority, job.Priority)
	}
	if job.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("expected default max attempts %d, got %d", DefaultMaxAttempts, job.MaxAttempts)
	}
	if job.Status != StatusQueued {
		t.Errorf("expected queued status, got %s", job.Status)
	}
	if job.Attempts != 0 {
		t.Errorf("expected zero attempts, got %d", job.Attempts)
	}
	if !job.CreatedAt.Equal(now) || !job.UpdatedAt.Equal(now) {
		t.Errorf("expected timestamps set to now, got created=%v updated=%v", job.CreatedAt, job.UpdatedAt)
	}
	if job.LockedBy != nil || job.LockExpiresAt != nil {
		t.Error("new job must not carry a lease")
	}
}

func TestNewJobValidation(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name    string
		params  SubmitParams
		wantErr error
	}{
		{"empty type", SubmitParams{Type: ""}, ErrTypeRequired},
		{"whitespace type", SubmitParams{Type: "   "}, ErrTypeRequired},
		{"priority too low", SubmitParams{Type: "x", Priority: ptr.To(0)}, ErrInvalidPriority},
		{"priority too high", SubmitParams{Type: "x", Priority: ptr.To(11)}, ErrInvalidPriority},
		{"max attempts too low", SubmitParams{Type: "x", MaxAttempts: ptr.To(0)}, ErrInvalidMaxAttempts},
		{"max attempts too high", SubmitParams{Type: "x", MaxAttempts: ptr.To(11)}, ErrInvalidMaxAttempts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewJob("job-1", tt.params, now)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	// Boundary values are accepted.
	for _, p := range []int{MinPriority, MaxPriority} {
		if _, err := NewJob("job-1", SubmitParams{Type: "x", Priority: ptr.To(p)}, now); err != nil {
			t.Errorf("priority %d should be valid: %v", p, err)
		}
	}
}

func TestValidateLeaseRequest(t *testing.T) {
	if err := ValidateLeaseRequest("", 30); !errors.Is(err, ErrWorkerIDRequired) {
		t.Errorf("expected ErrWorkerIDRequired, got %v", err)
	}
	if err := ValidateLeaseRequest("w1", 4); !errors.Is(err, ErrInvalidLeaseSeconds) {
		t.Errorf("expected ErrInvalidLeaseSeconds for 4, got %v", err)
	}
	if err := ValidateLeaseRequest("w1", 301); !errors.Is(err, ErrInvalidLeaseSeconds) {
		t.Errorf("expected ErrInvalidLeaseSeconds for 301, got %v", err)
	}
	if err := ValidateLeaseRequest("w1", 5); err != nil {
		t.Errorf("5 seconds should be valid: %v", err)
	}
	if err := ValidateLeaseRequest("w1", 300); err != nil {
		t.Errorf("300 seconds should be valid: %v", err)
	}
}

func TestBackoffTable(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Second},
		{2, 30 * time.Second},
		{3, 90 * time.Second},
		{4, 300 * time.Second},
		{9, 300 * time.Second},
		{0, 10 * time.Second}, // clamped to first entry
	}

	for _, tt := range tests {
		if got := DefaultBackoff.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	// An empty table falls back to the default schedule.
	var empty BackoffTable
	if got := empty.Delay(2); got != 30*time.Second {
		t.Errorf("empty table Delay(2) = %v, want 30s", got)
	}
}

func TestJobLeaseValidAndReady(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	job := &Job{Status: StatusQueued}
	if job.LeaseValid(now) {
		t.Error("job without lease fields must not have a valid lease")
	}
	if !job.Ready(now) {
		t.Error("job without next_run_at must be ready")
	}

	job.LockedBy = ptr.To("w1")
	job.LockExpiresAt = ptr.To(now.Add(10 * time.Second))
	if !job.LeaseValid(now) {
		t.Error("lease expiring in the future must be valid")
	}
	if job.LeaseValid(now.Add(10 * time.Second)) {
		t.Error("lease must be invalid exactly at its deadline")
	}

	job.NextRunAt = ptr.To(now.Add(time.Minute))
	if job.Ready(now) {
		t.Error("job must not be ready before next_run_at")
	}
	if !job.Ready(now.Add(time.Minute)) {
		t.Error("job must be ready exactly at next_run_at")
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusQueued.Terminal() || StatusRunning.Terminal() {
		t.Error("queued and running are not terminal")
	}
	if !StatusCompleted.Terminal() || !StatusDead.Terminal() {
		t.Error("completed and dead are terminal")
	}
	if JobStatus("bogus").Valid() {
		t.Error("unknown status must not validate")
	}
}
