// Package engine turns pending migrations into execution units, runs them
// through a database Backend and keeps the ledger of what has been applied.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"sqlledger/internal/ledger"
)

type Engine struct {
	backend Backend
	runner  CommandRunner
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for unit progress.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCommandRunner replaces the runner used for executable migrations.
func WithCommandRunner(r CommandRunner) Option {
	return func(e *Engine) {
		if r != nil {
			e.runner = r
		}
	}
}

func New(b Backend, opts ...Option) *Engine {
	e := &Engine{backend: b, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	if e.runner == nil {
		e.runner = &ExecRunner{Logger: e.logger}
	}
	return e
}

func (e *Engine) Backend() Backend { return e.backend }

func (e *Engine) Dialect() ledger.Dialect { return e.backend.Dialect() }

func (e *Engine) Close() error { return e.backend.Close() }

// CreateLedger creates the ledger table. It fails if the table exists, so it
// belongs to first-run bootstrap only.
func (e *Engine) CreateLedger(ctx context.Context) error {
	e.logger.Info("creating ledger", "table", e.Dialect().Table, "engine", e.Dialect().Name)
	return e.backend.Execute(ctx, e.Dialect().CreateTableSQL())
}

func (e *Engine) Execute(ctx context.Context, statement string, args ...any) error {
	return e.backend.Execute(ctx, statement, args...)
}

func (e *Engine) QueryResults(ctx context.Context, statement string, args ...any) ([][]any, error) {
	return e.backend.QueryResults(ctx, statement, args...)
}

// PerformedMigrations returns the ledger ordered by filename. The order is
// byte-wise regardless of the server's collation.
func (e *Engine) PerformedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := e.backend.QueryResults(ctx, e.Dialect().SelectPerformedSQL())
	if err != nil {
		return nil, err
	}
	out := make([]MigrationRecord, 0, len(rows))
	for _, r := range rows {
		if len(r) < 3 {
			return nil, NewSQLExecutionError(fmt.Sprintf("ledger row has %d columns, want 3", len(r)))
		}
		at, err := toTime(r[2])
		if err != nil {
			return nil, fmt.Errorf("ledger row %s: %w", toString(r[0]), err)
		}
		out = append(out, MigrationRecord{Filename: toString(r[0]), Hash: toString(r[1]), ExecutedAt: at})
	}
	slices.SortStableFunc(out, func(a, b MigrationRecord) int { return strings.Compare(a.Filename, b.Filename) })
	return out, nil
}

// Apply runs one unit and records it in the ledger.
func (e *Engine) Apply(ctx context.Context, u ExecutionUnit) error {
	started := time.Now()
	kind := "sql"
	if u.IsCommand() {
		kind = "command"
	}
	log := e.logger.With("filename", u.Filename, "sha1", u.Hash, "kind", kind)
	log.Info("applying migration")

	var err error
	switch {
	case u.IsCommand():
		if err = e.runner.Run(ctx, u); err == nil {
			err = e.backend.Execute(ctx, u.Record.SQL, u.Record.Args...)
		}
	default:
		if a, ok := e.backend.(UnitApplier); ok {
			err = a.ApplyUnit(ctx, u)
		} else if err = e.backend.Execute(ctx, u.Script); err == nil {
			err = e.backend.Execute(ctx, u.Record.SQL, u.Record.Args...)
		}
	}
	if err != nil {
		log.Error("migration failed", "error", err, "duration", time.Since(started))
		return fmt.Errorf("apply %s: %w", u.Filename, err)
	}
	log.Info("migration applied", "duration", time.Since(started))
	return nil
}

// ApplyAll applies every pending migration in order and stops at the first
// failure. Units applied before the failure stay applied.
func (e *Engine) ApplyAll(ctx context.Context, directory string, pending []PendingMigration) ([]string, error) {
	applied := make([]string, 0, len(pending))
	for u, err := range e.Units(directory, pending) {
		if err != nil {
			return applied, err
		}
		if err := e.Apply(ctx, u); err != nil {
			return applied, err
		}
		applied = append(applied, u.Filename)
	}
	return applied, nil
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp value %T", v)
}

func parseTime(s string) (time.Time, error) {
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp %q", s)
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	}
	return fmt.Sprint(v)
}
