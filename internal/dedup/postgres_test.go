package dedup_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/k1networth/cdc-relay/internal/dedup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// setupTestDatabase starts a PostgreSQL container and applies the embedded migrations.
// The test is skipped when no container runtime is available.
func setupTestDatabase(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container test skipped in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("cdc_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, dedup.Migrate(db))
	// Second run is a no-op.
	require.NoError(t, dedup.Migrate(db))
	return db
}

func TestPostgresStoreLifecycle(t *testing.T) {
	db := setupTestDatabase(t)
	s := dedup.NewPostgres(db)
	ctx := context.Background()
	e := dedup.Entry{EventID: "ev-1", DetailType: "CustomerDataChangeEvent", Source: "kinesis.inventory.customers"}

	ok, err := s.Begin(ctx, e)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Failed(ctx, e.EventID, errors.New("downstream timeout")))

	var status, lastErr string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT status, last_error FROM processed_events WHERE event_id=$1`, e.EventID).Scan(&status, &lastErr))
	assert.Equal(t, "failed", status)
	assert.Equal(t, "downstream timeout", lastErr)

	ok, err = s.Begin(ctx, e)
	require.NoError(t, err)
	assert.True(t, ok, "failed events are retried")

	require.NoError(t, s.Done(ctx, e.EventID))

	ok, err = s.Begin(ctx, e)
	require.NoError(t, err)
	assert.False(t, ok, "done events are skipped")

	var attempts int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT attempts FROM processed_events WHERE event_id=$1`, e.EventID).Scan(&attempts))
	assert.Equal(t, 3, attempts)
}
