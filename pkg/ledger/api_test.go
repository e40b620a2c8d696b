package ledger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	icfg "sqlledger/internal/config"
	"sqlledger/internal/engine"
)

func sqliteConfig(t *testing.T) icfg.Config {
	t.Helper()
	dir := t.TempDir()
	migrations := filepath.Join(dir, "migrations")
	require.NoError(t, os.Mkdir(migrations, 0o755))
	c := icfg.Default()
	c.Connection = filepath.Join(dir, "app.db")
	c.Path = migrations
	return c
}

func write(t *testing.T, c icfg.Config, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(c.Path, name), []byte(content), 0o644))
}

func TestPublicAPI_InvalidConnection(t *testing.T) {
	ctx := context.Background()
	cfg := icfg.Config{Engine: "postgres", Connection: "invalid-dsn", Table: "dbmigration"}

	t.Run("RunUp", func(t *testing.T) {
		_, err := RunUp(ctx, cfg)
		require.Error(t, err)
	})
	t.Run("Init", func(t *testing.T) {
		require.Error(t, Init(ctx, cfg))
	})
	t.Run("Status", func(t *testing.T) {
		_, err := Status(ctx, cfg)
		require.Error(t, err)
	})
	t.Run("Plan", func(t *testing.T) {
		_, err := Plan(ctx, cfg)
		require.Error(t, err)
	})
}

func TestPublicAPI_UnknownEngine(t *testing.T) {
	_, err := Open(context.Background(), icfg.Config{Engine: "db2", Connection: "x"})
	require.Error(t, err)
}

func TestPublicAPI_SQLiteLifecycle(t *testing.T) {
	ctx := context.Background()
	c := sqliteConfig(t)
	write(t, c, "001_init.sql", "CREATE TABLE foo(id INT PRIMARY KEY);\n")
	write(t, c, "002_seed.sql", "INSERT INTO foo(id) VALUES (1);\n")
	write(t, c, "README.md", "not a migration")
	c.Exclude = []string{"*.md"}

	_, err := RunUp(ctx, c)
	require.Error(t, err, "ledger does not exist yet")

	require.NoError(t, Init(ctx, c))
	require.Error(t, Init(ctx, c), "ledger creation is not idempotent")

	units, err := Plan(ctx, c)
	require.NoError(t, err)
	require.Len(t, units, 2)
	require.Equal(t, "001_init.sql", units[0].Filename)

	applied, err := RunUp(ctx, c)
	require.NoError(t, err)
	require.Equal(t, []string{"001_init.sql", "002_seed.sql"}, applied)

	applied, err = RunUp(ctx, c)
	require.NoError(t, err)
	require.Empty(t, applied)

	units, err = Plan(ctx, c)
	require.NoError(t, err)
	require.Empty(t, units)

	rec, ok, err := Current(ctx, c)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "002_seed.sql", rec.Filename)

	write(t, c, "002_seed.sql", "INSERT INTO foo(id) VALUES (2);\n")
	write(t, c, "003_more.sql", "INSERT INTO foo(id) VALUES (3);\n")
	require.NoError(t, os.Remove(filepath.Join(c.Path, "001_init.sql")))

	rows, err := Status(ctx, c)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, StatusMissing, rows[0].Status)
	require.Equal(t, StatusChanged, rows[1].Status)
	require.Equal(t, StatusPending, rows[2].Status)
	require.Equal(t, "003_more.sql", rows[2].Filename)
}

func TestPublicAPI_HaltsOnFailure(t *testing.T) {
	ctx := context.Background()
	c := sqliteConfig(t)
	write(t, c, "001_init.sql", "CREATE TABLE foo(id INT PRIMARY KEY);\n")
	write(t, c, "002_bad.sql", "INSERT INTO nope VALUES (1);\n")
	write(t, c, "003_never.sql", "INSERT INTO foo VALUES (3);\n")
	require.NoError(t, Init(ctx, c))

	applied, err := RunUp(ctx, c)
	require.Error(t, err)
	require.True(t, engine.IsSQLExecutionError(err))
	require.Equal(t, []string{"001_init.sql"}, applied)

	rows, err := Status(ctx, c)
	require.NoError(t, err)
	require.Equal(t, StatusApplied, rows[0].Status)
	require.Equal(t, StatusPending, rows[1].Status)
	require.Equal(t, StatusPending, rows[2].Status)
}

func TestRegister(t *testing.T) {
	require.Error(t, Register("sqlite", nil))
	opener := func(context.Context, icfg.Config, *slog.Logger) (engine.Backend, error) { return nil, nil }
	require.NoError(t, Register("test-backend", opener))
	require.Contains(t, Backends(), "test-backend")
	require.Error(t, Register("test-backend", opener))
}
