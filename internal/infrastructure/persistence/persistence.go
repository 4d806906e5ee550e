// Package persistence selects the job store backend from the storage DSN.
package persistence

import (
	"context"
	"strings"

	"github.com/rezkam/smartflow/internal/application/scheduler"
	"github.com/rezkam/smartflow/internal/infrastructure/persistence/postgres"
	"github.com/rezkam/smartflow/internal/infrastructure/persistence/sqlite"
)

// Store is a job repository with a lifecycle.
type Store interface {
	scheduler.Repository
	Close() error
}

// postgresStore adapts the pgx pool's void Close to the Store interface.
type postgresStore struct {
	*postgres.Store
}

func (s postgresStore) Close() error {
	s.Store.Close()
	return nil
}

// Open opens the job store selected by the DSN: postgres:// and
// postgresql:// URLs select PostgreSQL, anything else is treated as a SQLite
// file path.
func Open(ctx context.Context, dsn string, autoMigrate bool, maxOpenConns, maxIdleConns int) (Store, error) {
	if IsPostgres(dsn) {
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:          dsn,
			AutoMigrate:  autoMigrate,
			MaxOpenConns: maxOpenConns,
			MaxIdleConns: maxIdleConns,
		})
		if err != nil {
			return nil, err
		}
		return postgresStore{store}, nil
	}
	return sqlite.Open(ctx, dsn, autoMigrate)
}

// IsPostgres reports whether the DSN is a PostgreSQL URL.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
