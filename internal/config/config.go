// Package config defines the environment-driven configuration for the
// smartflow server and worker binaries. Values are loaded from SMARTFLOW_*
// variables via the internal/env loader; unset fields keep the defaults
// applied before loading.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rezkam/smartflow/internal/domain"
	"github.com/rezkam/smartflow/internal/env"
)

// Server defaults.
const (
	DefaultStorageDSN          = "scheduler.db"
	DefaultServerPort          = 8000
	DefaultLeaseSeconds        = 30
	DefaultBackoff             = "10s,30s,90s,300s"
	DefaultModelPath           = "model.json"
	DefaultShutdownTimeout     = 10 * time.Second
	DefaultReconcileInterval   = 15 * time.Second
	DefaultReconcileLimit      = 100
	DefaultWorkerConcurrency   = 4
	DefaultWorkerPollInterval  = 1 * time.Second
	DefaultWorkerFailRate      = 0.3
	DefaultWorkerAPIURL        = "http://localhost:8000"
	DefaultStorageMaxOpenConns = 25
	DefaultStorageMaxIdleConns = 5
)

// ServerConfig holds the scheduler server configuration.
type ServerConfig struct {
	// StorageDSN is a postgres:// URL or a SQLite file path.
	StorageDSN  string `env:"SMARTFLOW_STORAGE_DSN"`
	AutoMigrate bool   `env:"SMARTFLOW_STORAGE_AUTO_MIGRATE"`

	Host string `env:"SMARTFLOW_SERVER_HOST"`
	Port int    `env:"SMARTFLOW_SERVER_PORT"`

	// HintURL is a redis:// URL for the ready-queue hint. Empty selects the
	// in-process hint.
	HintURL string `env:"SMARTFLOW_HINT_URL"`

	DefaultLeaseSeconds int    `env:"SMARTFLOW_DEFAULT_LEASE_SECONDS"`
	Backoff             string `env:"SMARTFLOW_BACKOFF"`

	ModelPath string `env:"SMARTFLOW_MODEL_PATH"`

	// ArchiveBackend selects the dead-job archive: "fs", "gcs" or empty
	// (archiving disabled).
	ArchiveBackend string `env:"SMARTFLOW_ARCHIVE_BACKEND"`
	ArchiveDir     string `env:"SMARTFLOW_ARCHIVE_DIR"`
	ArchiveBucket  string `env:"SMARTFLOW_ARCHIVE_BUCKET"`

	StorageMaxOpenConns int `env:"SMARTFLOW_STORAGE_MAX_OPEN_CONNS"`
	StorageMaxIdleConns int `env:"SMARTFLOW_STORAGE_MAX_IDLE_CONNS"`

	ShutdownTimeout time.Duration `env:"SMARTFLOW_SHUTDOWN_TIMEOUT"`

	OTelEnabled bool `env:"SMARTFLOW_OTEL_ENABLED"`
}

// Validate checks field constraints. Implements env.Validator.
func (c *ServerConfig) Validate() error {
	if c.StorageDSN == "" {
		return fmt.Errorf("storage DSN must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("server port must be in [1,65535], got %d", c.Port)
	}
	if c.DefaultLeaseSeconds < domain.MinLeaseSeconds || c.DefaultLeaseSeconds > domain.MaxLeaseSeconds {
		return fmt.Errorf("default lease seconds must be in [%d,%d], got %d",
			domain.MinLeaseSeconds, domain.MaxLeaseSeconds, c.DefaultLeaseSeconds)
	}
	if _, err := ParseBackoff(c.Backoff); err != nil {
		return err
	}
	switch c.ArchiveBackend {
	case "", "fs", "gcs":
	default:
		return fmt.Errorf("archive backend must be fs or gcs, got %q", c.ArchiveBackend)
	}
	if c.ArchiveBackend == "gcs" && c.ArchiveBucket == "" {
		return fmt.Errorf("archive bucket is required for the gcs backend")
	}
	return nil
}

// BackoffTable parses the configured backoff schedule. Validate has already
// verified it parses.
func (c *ServerConfig) BackoffTable() domain.BackoffTable {
	table, err := ParseBackoff(c.Backoff)
	if err != nil {
		return domain.DefaultBackoff
	}
	return table
}

// LoadServer loads the server configuration from the environment on top of
// the defaults.
func LoadServer() (*ServerConfig, error) {
	cfg := &ServerConfig{
		StorageDSN:          DefaultStorageDSN,
		AutoMigrate:         true,
		Port:                DefaultServerPort,
		DefaultLeaseSeconds: DefaultLeaseSeconds,
		Backoff:             DefaultBackoff,
		ModelPath:           DefaultModelPath,
		StorageMaxOpenConns: DefaultStorageMaxOpenConns,
		StorageMaxIdleConns: DefaultStorageMaxIdleConns,
		ShutdownTimeout:     DefaultShutdownTimeout,
	}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}
	return cfg, nil
}

// WorkerConfig holds the reference worker configuration.
type WorkerConfig struct {
	APIURL       string `env:"SMARTFLOW_API_URL"`
	WorkerID     string `env:"SMARTFLOW_WORKER_ID"`
	Concurrency  int    `env:"SMARTFLOW_WORKER_CONCURRENCY"`
	LeaseSeconds int    `env:"SMARTFLOW_LEASE_SECONDS"`

	PollInterval time.Duration `env:"SMARTFLOW_POLL_INTERVAL"`

	// FailRate is the simulated executor failure probability in [0,1].
	FailRate float64 `env:"SMARTFLOW_FAIL_RATE"`

	ReconcileInterval time.Duration `env:"SMARTFLOW_RECONCILE_INTERVAL"`
	ReconcileLimit    int           `env:"SMARTFLOW_RECONCILE_LIMIT"`
}

// Validate checks field constraints. Implements env.Validator.
func (c *WorkerConfig) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("API URL must not be empty")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be positive, got %d", c.Concurrency)
	}
	if c.LeaseSeconds < domain.MinLeaseSeconds || c.LeaseSeconds > domain.MaxLeaseSeconds {
		return fmt.Errorf("lease seconds must be in [%d,%d], got %d",
			domain.MinLeaseSeconds, domain.MaxLeaseSeconds, c.LeaseSeconds)
	}
	if c.FailRate < 0 || c.FailRate > 1 {
		return fmt.Errorf("fail rate must be in [0,1], got %v", c.FailRate)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile interval must be positive, got %v", c.ReconcileInterval)
	}
	if c.ReconcileLimit < 1 {
		return fmt.Errorf("reconcile limit must be positive, got %d", c.ReconcileLimit)
	}
	return nil
}

// LoadWorker loads the worker configuration from the environment on top of
// the defaults.
func LoadWorker() (*WorkerConfig, error) {
	cfg := &WorkerConfig{
		APIURL:            DefaultWorkerAPIURL,
		Concurrency:       DefaultWorkerConcurrency,
		LeaseSeconds:      DefaultLeaseSeconds,
		PollInterval:      DefaultWorkerPollInterval,
		FailRate:          DefaultWorkerFailRate,
		ReconcileInterval: DefaultReconcileInterval,
		ReconcileLimit:    DefaultReconcileLimit,
	}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load worker config: %w", err)
	}
	return cfg, nil
}

// ParseBackoff parses a comma-separated list of Go durations, e.g.
// "10s,30s,90s,300s", into a backoff table.
func ParseBackoff(s string) (domain.BackoffTable, error) {
	parts := strings.Split(s, ",")
	table := make(domain.BackoffTable, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid backoff entry %q: %w", part, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("backoff entry %q must be positive", part)
		}
		table = append(table, d)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("backoff table must not be empty")
	}
	return table, nil
}
