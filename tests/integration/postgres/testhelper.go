// PostgreSQL integration tests. Skipped unless SMARTFLOW_TEST_POSTGRES_DSN
// points at a reachable database; the jobs table is truncated between tests.
package integration

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/smartflow/internal/infrastructure/persistence/postgres"
)

// SetupTestStore opens the test database, applies migrations and returns a
// clean store.
func SetupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("SMARTFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SMARTFLOW_TEST_POSTGRES_DSN not set, skipping postgres integration tests")
	}

	ctx := context.Background()
	store, err := postgres.NewStore(ctx, postgres.Config{
		DSN:         dsn,
		AutoMigrate: true,
	})
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	_, err = db.Exec("TRUNCATE TABLE jobs")
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = db.Exec("TRUNCATE TABLE jobs")
		_ = db.Close()
		store.Close()
	})
	return store
}
