package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rezkam/smartflow/internal/domain"
	"github.com/rezkam/smartflow/internal/infrastructure/hint"
	"github.com/rezkam/smartflow/internal/predict"
)

// mockRepository implements Repository with per-test function fields. Unset
// fields return zero values so tests only wire what they assert on.
type mockRepository struct {
	insertJobFunc          func(ctx context.Context, job *domain.Job) error
	getJobFunc             func(ctx context.Context, id string) (*domain.Job, error)
	listJobsFunc           func(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error)
	leaseJobFunc           func(ctx context.Context, id, workerID string, now, expires time.Time) (*domain.Job, error)
	startJobFunc           func(ctx context.Context, id string, now time.Time) (*domain.Job, error)
	completeJobFunc        func(ctx context.Context, id string, now time.Time) (*domain.Job, error)
	requeueJobFunc         func(ctx context.Context, id string, observedAttempts int, lastError string, nextRunAt, now time.Time) (*domain.Job, error)
	deadLetterJobFunc      func(ctx context.Context, id string, observedAttempts int, lastError string, now time.Time) (*domain.Job, error)
	listExpiredRunningFunc func(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)
	listReadyFunc          func(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)
	countJobsByStatusFunc  func(ctx context.Context) (map[domain.JobStatus]int, error)
	pingFunc               func(ctx context.Context) error
}

func (m *mockRepository) InsertJob(ctx context.Context, job *domain.Job) error {
	if m.insertJobFunc != nil {
		return m.insertJobFunc(ctx, job)
	}
	return nil
}

func (m *mockRepository) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	if m.getJobFunc != nil {
		return m.getJobFunc(ctx, id)
	}
	return nil, domain.ErrJobNotFound
}

func (m *mockRepository) ListJobs(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	if m.listJobsFunc != nil {
		return m.listJobsFunc(ctx, filter)
	}
	return nil, nil
}

func (m *mockRepository) LeaseJob(ctx context.Context, id, workerID string, now, expires time.Time) (*domain.Job, error) {
	if m.leaseJobFunc != nil {
		return m.leaseJobFunc(ctx, id, workerID, now, expires)
	}
	return nil, domain.ErrJobNotFound
}

func (m *mockRepository) StartJob(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	if m.startJobFunc != nil {
		return m.startJobFunc(ctx, id, now)
	}
	return nil, domain.ErrJobNotFound
}

func (m *mockRepository) CompleteJob(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	if m.completeJobFunc != nil {
		return m.completeJobFunc(ctx, id, now)
	}
	return nil, domain.ErrJobNotFound
}

func (m *mockRepository) RequeueJob(ctx context.Context, id string, observedAttempts int, lastError string, nextRunAt, now time.Time) (*domain.Job, error) {
	if m.requeueJobFunc != nil {
		return m.requeueJobFunc(ctx, id, observedAttempts, lastError, nextRunAt, now)
	}
	return nil, domain.ErrJobNotFound
}

func (m *mockRepository) DeadLetterJob(ctx context.Context, id string, observedAttempts int, lastError string, now time.Time) (*domain.Job, error) {
	if m.deadLetterJobFunc != nil {
		return m.deadLetterJobFunc(ctx, id, observedAttempts, lastError, now)
	}
	return nil, domain.ErrJobNotFound
}

func (m *mockRepository) ListExpiredRunning(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	if m.listExpiredRunningFunc != nil {
		return m.listExpiredRunningFunc(ctx, now, limit)
	}
	return nil, nil
}

func (m *mockRepository) ListReady(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	if m.listReadyFunc != nil {
		return m.listReadyFunc(ctx, now, limit)
	}
	return nil, nil
}

func (m *mockRepository) CountJobsByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	if m.countJobsByStatusFunc != nil {
		return m.countJobsByStatusFunc(ctx)
	}
	return map[domain.JobStatus]int{}, nil
}

func (m *mockRepository) Ping(ctx context.Context) error {
	if m.pingFunc != nil {
		return m.pingFunc(ctx)
	}
	return nil
}

// failingHint always errors, for exercising the advisory-only contract.
type failingHint struct{}

func (failingHint) Push(ctx context.Context, ids ...string) error { return errors.New("hint down") }
func (failingHint) Pop(ctx context.Context) (string, error)       { return "", errors.New("hint down") }
func (failingHint) Len(ctx context.Context) (int, error)          { return 0, errors.New("hint down") }
func (failingHint) Close() error                                  { return nil }

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	return func() time.Time { return testNow }
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestSubmitAppliesDefaults(t *testing.T) {
	var inserted *domain.Job
	repo := &mockRepository{
		insertJobFunc: func(_ context.Context, job *domain.Job) error {
			inserted = job
			return nil
		},
	}
	svc := New(repo, WithClock(fixedClock()))

	job, err := svc.Submit(context.Background(), domain.SubmitParams{Type: "email"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if inserted == nil {
		t.Fatal("job was not persisted")
	}
	if job.ID == "" {
		t.Error("expected a generated id")
	}
	if job.Priority != domain.DefaultPriority {
		t.Errorf("priority = %d, want %d", job.Priority, domain.DefaultPriority)
	}
	if job.MaxAttempts != domain.DefaultMaxAttempts {
		t.Errorf("max_attempts = %d, want %d", job.MaxAttempts, domain.DefaultMaxAttempts)
	}
	if job.Status != domain.StatusQueued {
		t.Errorf("status = %s, want queued", job.Status)
	}
	if !job.CreatedAt.Equal(testNow) {
		t.Errorf("created_at = %v, want %v", job.CreatedAt, testNow)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc := New(&mockRepository{}, WithClock(fixedClock()))

	tests := []struct {
		name    string
		params  domain.SubmitParams
		wantErr error
	}{
		{"empty type", domain.SubmitParams{Type: "  "}, domain.ErrTypeRequired},
		{"priority too low", domain.SubmitParams{Type: "email", Priority: intPtr(0)}, domain.ErrInvalidPriority},
		{"priority too high", domain.SubmitParams{Type: "email", Priority: intPtr(11)}, domain.ErrInvalidPriority},
		{"max attempts too low", domain.SubmitParams{Type: "email", MaxAttempts: intPtr(0)}, domain.ErrInvalidMaxAttempts},
		{"max attempts too high", domain.SubmitParams{Type: "email", MaxAttempts: intPtr(11)}, domain.ErrInvalidMaxAttempts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tt.params)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Submit error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubmitPublishesHint(t *testing.T) {
	queue := hint.NewMemory(10)
	svc := New(&mockRepository{}, WithClock(fixedClock()), WithHint(queue))

	job, err := svc.Submit(context.Background(), domain.SubmitParams{Type: "email"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	id, err := queue.Pop(context.Background())
	if err != nil {
		t.Fatalf("hint pop failed: %v", err)
	}
	if id != job.ID {
		t.Errorf("hinted id = %s, want %s", id, job.ID)
	}
}

func TestSubmitSurvivesHintFailure(t *testing.T) {
	svc := New(&mockRepository{}, WithClock(fixedClock()), WithHint(failingHint{}))

	if _, err := svc.Submit(context.Background(), domain.SubmitParams{Type: "email"}); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
}

func TestLeaseValidation(t *testing.T) {
	svc := New(&mockRepository{}, WithClock(fixedClock()))

	if _, err := svc.Lease(context.Background(), "id", "", 30); !errors.Is(err, domain.ErrWorkerIDRequired) {
		t.Errorf("empty worker id: error = %v, want ErrWorkerIDRequired", err)
	}
	if _, err := svc.Lease(context.Background(), "id", "w1", 4); !errors.Is(err, domain.ErrInvalidLeaseSeconds) {
		t.Errorf("lease too short: error = %v, want ErrInvalidLeaseSeconds", err)
	}
	if _, err := svc.Lease(context.Background(), "id", "w1", 301); !errors.Is(err, domain.ErrInvalidLeaseSeconds) {
		t.Errorf("lease too long: error = %v, want ErrInvalidLeaseSeconds", err)
	}
}

func TestLeaseComputesExpiry(t *testing.T) {
	var gotExpires time.Time
	repo := &mockRepository{
		leaseJobFunc: func(_ context.Context, id, workerID string, now, expires time.Time) (*domain.Job, error) {
			gotExpires = expires
			return &domain.Job{ID: id, Status: domain.StatusQueued, LockedBy: &workerID, LockExpiresAt: &expires}, nil
		},
	}
	svc := New(repo, WithClock(fixedClock()))

	job, err := svc.Lease(context.Background(), "job-1", "w1", 60)
	if err != nil {
		t.Fatalf("Lease returned error: %v", err)
	}
	want := testNow.Add(60 * time.Second)
	if !gotExpires.Equal(want) {
		t.Errorf("lease expiry = %v, want %v", gotExpires, want)
	}
	if job.LockedBy == nil || *job.LockedBy != "w1" {
		t.Errorf("locked_by = %v, want w1", job.LockedBy)
	}
}

func TestLeaseConflictRefinement(t *testing.T) {
	otherWorker := "w2"
	futureExpiry := testNow.Add(time.Minute)
	futureRun := testNow.Add(time.Hour)

	tests := []struct {
		name    string
		current *domain.Job
		wantErr error
	}{
		{
			name:    "job running",
			current: &domain.Job{ID: "job-1", Status: domain.StatusRunning},
			wantErr: domain.ErrJobNotQueued,
		},
		{
			name:    "job completed",
			current: &domain.Job{ID: "job-1", Status: domain.StatusCompleted},
			wantErr: domain.ErrJobNotQueued,
		},
		{
			name:    "backoff not elapsed",
			current: &domain.Job{ID: "job-1", Status: domain.StatusQueued, NextRunAt: &futureRun},
			wantErr: domain.ErrJobNotReady,
		},
		{
			name: "held by another worker",
			current: &domain.Job{
				ID: "job-1", Status: domain.StatusQueued,
				LockedBy: &otherWorker, LockExpiresAt: &futureExpiry,
			},
			wantErr: domain.ErrJobLeased,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockRepository{
				leaseJobFunc: func(context.Context, string, string, time.Time, time.Time) (*domain.Job, error) {
					return nil, domain.ErrJobConflict
				},
				getJobFunc: func(context.Context, string) (*domain.Job, error) {
					return tt.current, nil
				},
			}
			svc := New(repo, WithClock(fixedClock()))

			_, err := svc.Lease(context.Background(), "job-1", "w1", 30)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Lease error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLeaseNotFound(t *testing.T) {
	repo := &mockRepository{
		leaseJobFunc: func(context.Context, string, string, time.Time, time.Time) (*domain.Job, error) {
			return nil, domain.ErrJobNotFound
		},
	}
	svc := New(repo, WithClock(fixedClock()))

	if _, err := svc.Lease(context.Background(), "missing", "w1", 30); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("Lease error = %v, want ErrJobNotFound", err)
	}
}

func TestStartWithoutLease(t *testing.T) {
	repo := &mockRepository{
		startJobFunc: func(context.Context, string, time.Time) (*domain.Job, error) {
			return nil, domain.ErrJobConflict
		},
		getJobFunc: func(context.Context, string) (*domain.Job, error) {
			return &domain.Job{ID: "job-1", Status: domain.StatusQueued}, nil
		},
	}
	svc := New(repo, WithClock(fixedClock()))

	if _, err := svc.Start(context.Background(), "job-1"); !errors.Is(err, domain.ErrJobNotLeased) {
		t.Errorf("Start error = %v, want ErrJobNotLeased", err)
	}
}

func TestCompleteNotRunning(t *testing.T) {
	repo := &mockRepository{
		completeJobFunc: func(context.Context, string, time.Time) (*domain.Job, error) {
			return nil, domain.ErrJobConflict
		},
		getJobFunc: func(context.Context, string) (*domain.Job, error) {
			return &domain.Job{ID: "job-1", Status: domain.StatusQueued}, nil
		},
	}
	svc := New(repo, WithClock(fixedClock()))

	if _, err := svc.Complete(context.Background(), "job-1"); !errors.Is(err, domain.ErrJobNotRunning) {
		t.Errorf("Complete error = %v, want ErrJobNotRunning", err)
	}
}

func TestFailRequeuesWithBackoff(t *testing.T) {
	tests := []struct {
		name      string
		attempts  int
		wantDelay time.Duration
	}{
		{"first failure", 0, 10 * time.Second},
		{"second failure", 1, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotNextRun time.Time
			var gotObserved int
			repo := &mockRepository{
				getJobFunc: func(context.Context, string) (*domain.Job, error) {
					return &domain.Job{ID: "job-1", Status: domain.StatusRunning, Attempts: tt.attempts, MaxAttempts: 5}, nil
				},
				requeueJobFunc: func(_ context.Context, id string, observedAttempts int, lastError string, nextRunAt, now time.Time) (*domain.Job, error) {
					gotObserved = observedAttempts
					gotNextRun = nextRunAt
					return &domain.Job{ID: id, Status: domain.StatusQueued, Attempts: observedAttempts + 1, NextRunAt: &nextRunAt, LastError: &lastError}, nil
				},
			}
			svc := New(repo, WithClock(fixedClock()))

			job, err := svc.Fail(context.Background(), "job-1", "boom")
			if err != nil {
				t.Fatalf("Fail returned error: %v", err)
			}
			if gotObserved != tt.attempts {
				t.Errorf("observed attempts = %d, want %d", gotObserved, tt.attempts)
			}
			want := testNow.Add(tt.wantDelay)
			if !gotNextRun.Equal(want) {
				t.Errorf("next_run_at = %v, want %v", gotNextRun, want)
			}
			if job.Status != domain.StatusQueued {
				t.Errorf("status = %s, want queued", job.Status)
			}
		})
	}
}

func TestFailDeadLettersAtMaxAttempts(t *testing.T) {
	deadLettered := false
	repo := &mockRepository{
		getJobFunc: func(context.Context, string) (*domain.Job, error) {
			return &domain.Job{ID: "job-1", Status: domain.StatusRunning, Attempts: 2, MaxAttempts: 3}, nil
		},
		deadLetterJobFunc: func(_ context.Context, id string, observedAttempts int, lastError string, _ time.Time) (*domain.Job, error) {
			deadLettered = true
			return &domain.Job{ID: id, Status: domain.StatusDead, Attempts: observedAttempts + 1, LastError: &lastError}, nil
		},
	}
	svc := New(repo, WithClock(fixedClock()))

	job, err := svc.Fail(context.Background(), "job-1", "boom")
	if err != nil {
		t.Fatalf("Fail returned error: %v", err)
	}
	if !deadLettered {
		t.Error("expected dead-letter transition")
	}
	if job.Status != domain.StatusDead {
		t.Errorf("status = %s, want dead", job.Status)
	}
	if job.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", job.Attempts)
	}
}

func TestFailNotRunning(t *testing.T) {
	repo := &mockRepository{
		getJobFunc: func(context.Context, string) (*domain.Job, error) {
			return &domain.Job{ID: "job-1", Status: domain.StatusCompleted}, nil
		},
	}
	svc := New(repo, WithClock(fixedClock()))

	if _, err := svc.Fail(context.Background(), "job-1", "boom"); !errors.Is(err, domain.ErrJobNotRunning) {
		t.Errorf("Fail error = %v, want ErrJobNotRunning", err)
	}
}

func TestFailCustomBackoff(t *testing.T) {
	var gotNextRun time.Time
	repo := &mockRepository{
		getJobFunc: func(context.Context, string) (*domain.Job, error) {
			return &domain.Job{ID: "job-1", Status: domain.StatusRunning, Attempts: 0, MaxAttempts: 5}, nil
		},
		requeueJobFunc: func(_ context.Context, id string, observedAttempts int, _ string, nextRunAt, _ time.Time) (*domain.Job, error) {
			gotNextRun = nextRunAt
			return &domain.Job{ID: id, Status: domain.StatusQueued, Attempts: observedAttempts + 1}, nil
		},
	}
	svc := New(repo, WithClock(fixedClock()), WithBackoff(domain.BackoffTable{2 * time.Second}))

	if _, err := svc.Fail(context.Background(), "job-1", "boom"); err != nil {
		t.Fatalf("Fail returned error: %v", err)
	}
	want := testNow.Add(2 * time.Second)
	if !gotNextRun.Equal(want) {
		t.Errorf("next_run_at = %v, want %v", gotNextRun, want)
	}
}

func TestNextReadyPrefersHint(t *testing.T) {
	queue := hint.NewMemory(10)
	if err := queue.Push(context.Background(), "hinted-id"); err != nil {
		t.Fatal(err)
	}
	repo := &mockRepository{
		listReadyFunc: func(context.Context, time.Time, int) ([]*domain.Job, error) {
			t.Fatal("store scan should not run when the hint has entries")
			return nil, nil
		},
	}
	svc := New(repo, WithClock(fixedClock()), WithHint(queue))

	id, err := svc.NextReady(context.Background())
	if err != nil {
		t.Fatalf("NextReady returned error: %v", err)
	}
	if id != "hinted-id" {
		t.Errorf("id = %s, want hinted-id", id)
	}
}

func TestNextReadyFallsBackToStore(t *testing.T) {
	repo := &mockRepository{
		listReadyFunc: func(_ context.Context, _ time.Time, limit int) ([]*domain.Job, error) {
			if limit != 1 {
				t.Errorf("fallback limit = %d, want 1", limit)
			}
			return []*domain.Job{{ID: "scanned-id", Status: domain.StatusQueued}}, nil
		},
	}
	svc := New(repo, WithClock(fixedClock()), WithHint(failingHint{}))

	id, err := svc.NextReady(context.Background())
	if err != nil {
		t.Fatalf("NextReady returned error: %v", err)
	}
	if id != "scanned-id" {
		t.Errorf("id = %s, want scanned-id", id)
	}
}

func TestNextReadyEmpty(t *testing.T) {
	svc := New(&mockRepository{}, WithClock(fixedClock()))

	if _, err := svc.NextReady(context.Background()); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("NextReady error = %v, want ErrJobNotFound", err)
	}
}

func TestRequeueReadyPublishesInOrder(t *testing.T) {
	queue := hint.NewMemory(10)
	repo := &mockRepository{
		listReadyFunc: func(context.Context, time.Time, int) ([]*domain.Job, error) {
			return []*domain.Job{{ID: "a"}, {ID: "b"}, {ID: "c"}}, nil
		},
	}
	svc := New(repo, WithClock(fixedClock()), WithHint(queue))

	n, err := svc.RequeueReady(context.Background(), 10)
	if err != nil {
		t.Fatalf("RequeueReady returned error: %v", err)
	}
	if n != 3 {
		t.Errorf("requeued = %d, want 3", n)
	}
	for _, want := range []string{"a", "b", "c"} {
		id, err := queue.Pop(context.Background())
		if err != nil {
			t.Fatalf("hint pop failed: %v", err)
		}
		if id != want {
			t.Errorf("popped %s, want %s", id, want)
		}
	}
}

func TestRequeueReadyHintFailureIsSoft(t *testing.T) {
	repo := &mockRepository{
		listReadyFunc: func(context.Context, time.Time, int) ([]*domain.Job, error) {
			return []*domain.Job{{ID: "a"}}, nil
		},
	}
	svc := New(repo, WithClock(fixedClock()), WithHint(failingHint{}))

	n, err := svc.RequeueReady(context.Background(), 10)
	if err != nil {
		t.Fatalf("RequeueReady returned error: %v", err)
	}
	if n != 0 {
		t.Errorf("requeued = %d, want 0 on hint failure", n)
	}
}

func TestReconcileRecoversExpiredLeases(t *testing.T) {
	expiry := testNow.Add(-time.Minute)
	expired := []*domain.Job{
		{ID: "retryable", Status: domain.StatusRunning, Attempts: 0, MaxAttempts: 3, LockExpiresAt: &expiry},
		{ID: "exhausted", Status: domain.StatusRunning, Attempts: 2, MaxAttempts: 3, LockExpiresAt: &expiry},
		{ID: "raced", Status: domain.StatusRunning, Attempts: 0, MaxAttempts: 3, LockExpiresAt: &expiry},
	}
	repo := &mockRepository{
		listExpiredRunningFunc: func(context.Context, time.Time, int) ([]*domain.Job, error) {
			return expired, nil
		},
		requeueJobFunc: func(_ context.Context, id string, observedAttempts int, lastError string, nextRunAt, _ time.Time) (*domain.Job, error) {
			if id == "raced" {
				return nil, domain.ErrJobConflict
			}
			if lastError != LeaseExpiredError {
				t.Errorf("last_error = %q, want %q", lastError, LeaseExpiredError)
			}
			return &domain.Job{ID: id, Status: domain.StatusQueued, Attempts: observedAttempts + 1, NextRunAt: &nextRunAt}, nil
		},
		deadLetterJobFunc: func(_ context.Context, id string, observedAttempts int, _ string, _ time.Time) (*domain.Job, error) {
			return &domain.Job{ID: id, Status: domain.StatusDead, Attempts: observedAttempts + 1}, nil
		},
		listReadyFunc: func(context.Context, time.Time, int) ([]*domain.Job, error) {
			return []*domain.Job{{ID: "ready-1"}}, nil
		},
	}
	svc := New(repo, WithClock(fixedClock()), WithHint(hint.NewMemory(10)))

	result, err := svc.Reconcile(context.Background(), 100)
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if result.Recovered != 1 {
		t.Errorf("recovered = %d, want 1", result.Recovered)
	}
	if result.Dead != 1 {
		t.Errorf("dead = %d, want 1", result.Dead)
	}
	if result.Requeued != 1 {
		t.Errorf("requeued = %d, want 1", result.Requeued)
	}
}

func TestReconcileRejectsNegativeLimit(t *testing.T) {
	svc := New(&mockRepository{}, WithClock(fixedClock()))

	if _, err := svc.Reconcile(context.Background(), -1); !errors.Is(err, domain.ErrInvalidLimit) {
		t.Errorf("Reconcile error = %v, want ErrInvalidLimit", err)
	}
}

func TestListDefaultsLimit(t *testing.T) {
	var gotLimit int
	repo := &mockRepository{
		listJobsFunc: func(_ context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
			gotLimit = filter.Limit
			return nil, nil
		},
	}
	svc := New(repo, WithClock(fixedClock()))

	if _, err := svc.List(context.Background(), domain.JobFilter{}); err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if gotLimit != domain.DefaultListLimit {
		t.Errorf("limit = %d, want %d", gotLimit, domain.DefaultListLimit)
	}
}

// memoryArchive records saved objects for assertions.
type memoryArchive struct {
	saved map[string][]byte
	err   error
}

func (a *memoryArchive) Save(_ context.Context, name string, data []byte) error {
	if a.err != nil {
		return a.err
	}
	if a.saved == nil {
		a.saved = make(map[string][]byte)
	}
	a.saved[name] = data
	return nil
}

func TestArchiveDeadExportsSnapshots(t *testing.T) {
	repo := &mockRepository{
		listJobsFunc: func(_ context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
			if filter.Status == nil || *filter.Status != domain.StatusDead {
				t.Fatalf("expected dead-status filter, got %+v", filter)
			}
			return []*domain.Job{
				{ID: "dead-1", Status: domain.StatusDead},
				{ID: "dead-2", Status: domain.StatusDead},
			}, nil
		},
	}
	store := &memoryArchive{}
	svc := New(repo, WithClock(fixedClock()), WithArchive(store))

	n, err := svc.ArchiveDead(context.Background(), 10)
	if err != nil {
		t.Fatalf("ArchiveDead returned error: %v", err)
	}
	if n != 2 {
		t.Errorf("archived = %d, want 2", n)
	}
	if _, ok := store.saved["jobs/dead-1.json"]; !ok {
		t.Error("missing archived object jobs/dead-1.json")
	}
}

func TestArchiveDeadUnconfigured(t *testing.T) {
	svc := New(&mockRepository{}, WithClock(fixedClock()))

	if _, err := svc.ArchiveDead(context.Background(), 10); !errors.Is(err, domain.ErrArchiveNotConfigured) {
		t.Errorf("ArchiveDead error = %v, want ErrArchiveNotConfigured", err)
	}
}

func TestEstimateWithoutEstimator(t *testing.T) {
	svc := New(&mockRepository{}, WithClock(fixedClock()))

	if _, err := svc.EstimateRuntime(context.Background(), "job-1"); !errors.Is(err, domain.ErrModelNotTrained) {
		t.Errorf("EstimateRuntime error = %v, want ErrModelNotTrained", err)
	}
}

// stubEstimator satisfies RuntimeEstimator for filtering assertions.
type stubEstimator struct {
	trained []*domain.Job
}

func (s *stubEstimator) Train(jobs []*domain.Job) (predict.Report, error) {
	s.trained = jobs
	return predict.Report{Samples: len(jobs), R2: 0.9}, nil
}

func (s *stubEstimator) Predict(*domain.Job) (int64, error) { return 42, nil }

func TestTrainEstimatorFiltersMissingRuntimes(t *testing.T) {
	runtime := int64(1500)
	repo := &mockRepository{
		listJobsFunc: func(context.Context, domain.JobFilter) ([]*domain.Job, error) {
			return []*domain.Job{
				{ID: "a", Status: domain.StatusCompleted, RuntimeMS: &runtime},
				{ID: "b", Status: domain.StatusCompleted}, // no recorded runtime
			}, nil
		},
	}
	est := &stubEstimator{}
	svc := New(repo, WithClock(fixedClock()), WithEstimator(est))

	report, err := svc.TrainEstimator(context.Background())
	if err != nil {
		t.Fatalf("TrainEstimator returned error: %v", err)
	}
	if len(est.trained) != 1 {
		t.Errorf("trained on %d samples, want 1", len(est.trained))
	}
	if report.Samples != 1 {
		t.Errorf("report samples = %d, want 1", report.Samples)
	}
}
