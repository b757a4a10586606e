package database

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tclog "github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// TestImage is the PostgreSQL image the store and state tests run against
const TestImage = "postgres:16-alpine"

type quietLogger struct{}

func (quietLogger) Printf(string, ...any) {}

var _ tclog.Logger = quietLogger{}

// SetupTestDB starts a throwaway PostgreSQL container with the record and sync
// state tables already migrated. It returns a pool and the connection string;
// both are released when the test ends. It is skipped under -short.
func SetupTestDB(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL container in short mode")
	}

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, TestImage,
		postgres.WithDatabase("records"),
		postgres.WithUsername("record_sync"),
		postgres.WithPassword("record_sync"),
		postgres.BasicWaitStrategies(),
		tc.WithLogger(quietLogger{}),
	)
	tc.CleanupContainer(t, ctr)
	require.NoError(t, err)

	connString, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := NewFromConnectionString(connString)
	require.NoError(t, err)
	require.NoError(t, Up(m))
	srcErr, dbErr := m.Close()
	require.NoError(t, srcErr)
	require.NoError(t, dbErr)

	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool, connString
}
