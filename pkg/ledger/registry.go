package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	icfg "sqlledger/internal/config"
	"sqlledger/internal/driver/mysql"
	"sqlledger/internal/driver/oracle"
	"sqlledger/internal/driver/postgres"
	"sqlledger/internal/driver/sqlite"
	"sqlledger/internal/engine"
)

// Opener connects a backend for the given configuration.
type Opener func(ctx context.Context, c icfg.Config, logger *slog.Logger) (engine.Backend, error)

var backends = map[string]Opener{
	"sqlite": func(ctx context.Context, c icfg.Config, _ *slog.Logger) (engine.Backend, error) {
		return sqlite.Open(ctx, c.Connection, c.Table)
	},
	"postgres": func(ctx context.Context, c icfg.Config, _ *slog.Logger) (engine.Backend, error) {
		return postgres.Open(ctx, c.Connection, c.Table)
	},
	"mysql": func(ctx context.Context, c icfg.Config, _ *slog.Logger) (engine.Backend, error) {
		return mysql.Open(ctx, c.Connection, c.Table)
	},
	"oracle": func(ctx context.Context, c icfg.Config, logger *slog.Logger) (engine.Backend, error) {
		return oracle.Open(ctx, c.Connection, c.Table, oracle.SQLPlus{Path: c.SQLPlus}, logger)
	},
}

// Register adds a backend under name. Applications embedding the library use
// it for databases not built in.
func Register(name string, open Opener) error {
	if _, exists := backends[name]; exists {
		return fmt.Errorf("backend %q already registered", name)
	}
	backends[name] = open
	return nil
}

// Backends returns the registered backend names.
func Backends() []string {
	out := make([]string, 0, len(backends))
	for name := range backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
