package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Migrate ---

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	ps := requireDB(t)

	t.Run("schema tables exist", func(t *testing.T) {
		for _, table := range []string{"accounts", "recovery_records", "goose_db_version"} {
			var exists bool
			err := ps.pool.QueryRow(ctx,
				"SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)",
				table,
			).Scan(&exists)
			require.NoError(t, err)
			assert.True(t, exists, "table %s missing", table)
		}
	})

	t.Run("rerun is a no-op", func(t *testing.T) {
		before, err := ps.SchemaVersion(ctx)
		require.NoError(t, err)

		require.NoError(t, ps.Migrate(ctx, os.DirFS("../../migrations")))

		after, err := ps.SchemaVersion(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
		assert.Equal(t, int64(2), after)
	})

	t.Run("incomplete pending email rejected", func(t *testing.T) {
		_, err := ps.pool.Exec(ctx,
			"INSERT INTO accounts (username, password_hash, pending_email) VALUES ('store_ck', 'x', 'a@example.com')")
		assert.Error(t, err)
	})
}
