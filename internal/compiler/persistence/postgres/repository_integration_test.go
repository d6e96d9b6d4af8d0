//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/duragraph/duragraph/internal/compiler/instr"
	compilerpostgres "github.com/duragraph/duragraph/internal/compiler/persistence/postgres"
	infrapostgres "github.com/duragraph/duragraph/internal/infrastructure/persistence/postgres"
	"github.com/duragraph/duragraph/internal/pkg/errors"
)

// Integration tests run against a throwaway Postgres container with the
// real migrations applied. Run with: go test -tags integration ./...

func setupDatabase(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("flowc"),
		tcpostgres.WithUsername("flowc"),
		tcpostgres.WithPassword("flowc"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, infrapostgres.RunMigrations(dsn, "file://../../../../migrations"))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func sampleHandler(service string) *instr.ServiceHandler {
	fc := instr.NewFlowContext()
	fc.Persist("limited")
	return &instr.ServiceHandler{
		Service:          service,
		ComponentsCalled: []string{"limiter"},
		FlowHandlers: []instr.FlowHandler{
			{
				ArrivingFlow: instr.Channel("speed", "f64", ""),
				Instruction: instr.NewSeq([]instr.FlowInstruction{
					instr.NewInitEvent("speed"),
					instr.NewUpdateCtx("speed", instr.EventRef("speed")),
				}),
			},
		},
		FlowsContext: fc,
	}
}

func TestCompiledServiceRepository_SaveAndFind_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := setupDatabase(t)
	repo := compilerpostgres.NewCompiledServiceRepository(pool)

	handler := sampleHandler("speed-limiter")
	require.NoError(t, repo.Save(ctx, "graph-1", "1.0.0", handler))

	loaded, err := repo.FindByServiceAndVersion(ctx, "graph-1", "speed-limiter", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, handler.Service, loaded.Service)
	assert.Equal(t, handler.ComponentsCalled, loaded.ComponentsCalled)
	require.Len(t, loaded.FlowHandlers, 1)
	assert.Equal(t, instr.ArrivingChannel, loaded.FlowHandlers[0].ArrivingFlow.Kind)
}

func TestCompiledServiceRepository_UpsertReplacesHandler_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := setupDatabase(t)
	repo := compilerpostgres.NewCompiledServiceRepository(pool)

	require.NoError(t, repo.Save(ctx, "graph-1", "1.0.0", sampleHandler("svc")))

	updated := sampleHandler("svc")
	updated.ComponentsCalled = []string{"limiter", "alarm"}
	require.NoError(t, repo.Save(ctx, "graph-1", "1.0.0", updated))

	loaded, err := repo.FindByServiceAndVersion(ctx, "graph-1", "svc", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"limiter", "alarm"}, loaded.ComponentsCalled)
}

func TestCompiledServiceRepository_MissingServiceNotFound_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := setupDatabase(t)
	repo := compilerpostgres.NewCompiledServiceRepository(pool)

	_, err := repo.FindByServiceAndVersion(ctx, "graph-1", "ghost", "1.0.0")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestCompiledServiceRepository_DeleteByGraph_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := setupDatabase(t)
	repo := compilerpostgres.NewCompiledServiceRepository(pool)

	require.NoError(t, repo.Save(ctx, "graph-1", "1.0.0", sampleHandler("a")))
	require.NoError(t, repo.Save(ctx, "graph-1", "1.0.0", sampleHandler("b")))
	require.NoError(t, repo.DeleteByGraph(ctx, "graph-1"))

	_, err := repo.FindByServiceAndVersion(ctx, "graph-1", "a", "1.0.0")
	require.Error(t, err)
}
