package database

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/require"
)

// TestPostgresEnv names the environment variable holding the connection string of a Postgres server that
// tests may create databases on.
const TestPostgresEnv = "EVENTLOADER_TEST_POSTGRES"

// WithTestDb runs action against a freshly created, empty database which is dropped afterwards.
// The calling test is skipped when TestPostgresEnv is not set.
func WithTestDb(t *testing.T, action func(db *pgxpool.Pool)) {
	connString := os.Getenv(TestPostgresEnv)
	if connString == "" {
		t.Skipf("%s not set, skipping postgres test", TestPostgresEnv)
	}
	ctx := context.Background()

	admin, err := pgx.Connect(ctx, connString)
	require.NoError(t, err)
	defer admin.Close(ctx)

	dbName := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	_, err = admin.Exec(ctx, "CREATE DATABASE "+dbName)
	require.NoError(t, err)
	defer func() {
		_, err := admin.Exec(ctx, "DROP DATABASE "+dbName)
		require.NoError(t, err)
	}()

	poolConfig, err := pgxpool.ParseConfig(connString)
	require.NoError(t, err)
	poolConfig.ConnConfig.Database = dbName
	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	require.NoError(t, err)
	defer db.Close()

	action(db)
}
