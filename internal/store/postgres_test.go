package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

// setupPostgres starts a throwaway Postgres container and returns its URL.
// The test is skipped when no container runtime is available.
func setupPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("pong"),
		postgres.WithUsername("pong"),
		postgres.WithPassword("pong"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return url
}

func TestPostgres(t *testing.T) {
	url := setupPostgres(t)
	ctx := context.Background()

	pg, err := OpenPostgres(ctx, url, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pg.Close)

	// Running migrations twice is a no-op.
	require.NoError(t, runMigrations(pg.pool))

	runStoreSuite(t, func(t *testing.T) Store {
		_, err := pg.pool.Exec(ctx, `
			TRUNCATE bracket_matches, tournament_players, tournaments,
			         match_history, player_stats, accounts RESTART IDENTITY CASCADE`)
		require.NoError(t, err)
		return pg
	})
}
