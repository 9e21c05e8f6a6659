//go:build integration

package repository

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/netrelay/dnsrelay/internal/core/domain"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("relay_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("5432").WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)

	schema, err := os.ReadFile(filepath.Join(".", "schema.sql"))
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)

	return db, func() {
		db.Close()
		pgContainer.Terminate(ctx)
	}
}

func TestPostgresRecordRepository_Integration(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPostgresRecordRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.Ping(ctx))

	require.NoError(t, repo.Put(ctx, domain.Record{Domain: "example.com", IPv4: []byte{93, 184, 216, 34}, TTL: 300}))

	recs, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "example.com", recs[0].Domain)

	require.NoError(t, repo.Delete(ctx, "example.com"))
	recs, err = repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestPostgresFilterRepository_Integration(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPostgresFilterRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, domain.Filter{Domain: "ads.example.com", Mode: domain.FilterReject}))
	filters, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, filters, 1)
	require.Equal(t, domain.FilterReject, filters[0].Mode)

	require.NoError(t, repo.Delete(ctx, "ads.example.com"))
	filters, err = repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Empty(t, filters)
}
