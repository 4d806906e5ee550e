package domain

import "errors"

// Validation errors. The caller fixes the input and retries.
var (
	// ErrTypeRequired indicates the job type is empty.
	ErrTypeRequired = errors.New("job type is required")

	// ErrInvalidPriority indicates priority is outside [1,10].
	ErrInvalidPriority = errors.New("priority must be between 1 and 10")

	// ErrInvalidMaxAttempts indicates max_attempts is outside [1,10].
	ErrInvalidMaxAttempts = errors.New("max attempts must be between 1 and 10")

	// ErrInvalidLeaseSeconds indicates lease_seconds is outside [5,300].
	ErrInvalidLeaseSeconds = errors.New("lease seconds must be between 5 and 300")

	// ErrWorkerIDRequired indicates the worker id is empty.
	ErrWorkerIDRequired = errors.New("worker id is required")

	// ErrInvalidLimit indicates a sweep limit is negative.
	ErrInvalidLimit = errors.New("limit must not be negative")
)

// State errors returned by the store and refined by the engine.
var (
	// ErrJobNotFound indicates no job exists with the given id.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists indicates a job with the given id already exists.
	ErrJobExists = errors.New("job already exists")

	// ErrJobConflict is the generic precondition failure of a conditional
	// update: the row was not in the state the caller expected.
	ErrJobConflict = errors.New("job state conflict")

	// ErrJobNotQueued indicates the job is not in the queued state.
	ErrJobNotQueued = errors.New("job is not queued")

	// ErrJobNotRunning indicates the job is not in the running state.
	ErrJobNotRunning = errors.New("job is not running")

	// ErrJobNotReady indicates the job's backoff window has not elapsed.
	ErrJobNotReady = errors.New("job is not ready yet")

	// ErrJobLeased indicates another worker holds a valid lease.
	ErrJobLeased = errors.New("job is already leased")

	// ErrJobNotLeased indicates the job has no valid lease to start from.
	ErrJobNotLeased = errors.New("job has no valid lease")
)

// Infrastructure errors.
var (
	// ErrStorageUnavailable indicates a transient store failure; the caller
	// may retry.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrModelNotTrained indicates no runtime model has been trained yet.
	ErrModelNotTrained = errors.New("runtime model is not trained")

	// ErrNotEnoughSamples indicates too few completed jobs carry a recorded
	// runtime for training.
	ErrNotEnoughSamples = errors.New("not enough completed jobs to train the model")

	// ErrArchiveNotConfigured indicates no archive backend is configured.
	ErrArchiveNotConfigured = errors.New("archive is not configured")
)
