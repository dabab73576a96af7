// Package testdb starts a throwaway Postgres for integration tests.
package testdb

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/safar/go-order-engine/migrations"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Setup starts a Postgres container, applies every migration and returns an
// open handle. The container is terminated when the test ends. Tests calling
// Setup are skipped under -short.
func Setup(t *testing.T) *sql.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")

	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "connection string")

	require.NoError(t, migrations.Up(dsn), "run migrations")

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err, "open database")
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("failed to close database: %s", err)
		}
	})

	require.NoError(t, db.PingContext(ctx), "ping database")

	return db
}
