//go:build integration

package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against the embedded libSQL driver, which needs cgo.
// go test -tags integration ./joblog/db/...
func TestOpenLocalLibSQLSmoke(t *testing.T) {
	ctx := context.Background()
	cfg := storageConfig(t.TempDir())
	cfg.LocalDriver = "libsql"

	conn, err := Open(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "libsql", conn.Target.Driver)
	assert.FileExists(t, filepath.Join(cfg.DataDir, "job.db"))

	// Basic
	var v int
	require.NoError(t, conn.DB.QueryRowContext(ctx, "SELECT 1").Scan(&v))
	assert.Equal(t, 1, v)

	// JSON1 reads the params column
	_, err = conn.DB.ExecContext(ctx, `
		INSERT INTO job_records (collection, fingerprint, algorithm, params, store_mode, created_at, updated_at)
		VALUES ('smoke', 'ab', 'Ridge', '{"alpha":0.5}', 'none', 0, 0)`)
	require.NoError(t, err)

	var alpha float64
	require.NoError(t, conn.DB.QueryRowContext(ctx,
		"SELECT json_extract(params, '$.alpha') FROM job_records WHERE collection = 'smoke'").Scan(&alpha))
	assert.Equal(t, 0.5, alpha)

	// Migrations are idempotent under the turso dialect too.
	require.NoError(t, Migrate(ctx, conn.DB, conn.Target))
}
