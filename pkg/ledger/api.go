// Package ledger is the public API: it connects the configured backend, diffs
// the migration directory against the ledger and applies what is pending.
// The logger is taken from the context (see logging.ContextWithLogger).
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	icfg "sqlledger/internal/config"
	"sqlledger/internal/engine"
	"sqlledger/internal/logging"
	"sqlledger/internal/source"
)

// Status values reported by Status.
const (
	StatusApplied = "applied"
	StatusPending = "pending"
	StatusChanged = "changed"
	StatusMissing = "missing"
)

// StatusRow is one migration as seen from both the directory and the ledger.
type StatusRow struct {
	Filename   string
	Hash       string
	Status     string
	ExecutedAt time.Time
}

// Open connects the configured backend and wraps it in an Engine. Executable
// migrations see the engine and connection in SQLLEDGER_ENGINE and
// SQLLEDGER_CONNECTION.
func Open(ctx context.Context, c icfg.Config) (*engine.Engine, error) {
	open, ok := backends[c.Engine]
	if !ok {
		return nil, fmt.Errorf("unknown engine: %s", c.Engine)
	}
	logger := logging.FromContext(ctx)
	b, err := open(ctx, c, logger)
	if err != nil {
		return nil, err
	}
	runner := &engine.ExecRunner{
		Env:    []string{"SQLLEDGER_ENGINE=" + c.Engine, "SQLLEDGER_CONNECTION=" + c.Connection},
		Logger: logger,
	}
	return engine.New(b, engine.WithLogger(logger), engine.WithCommandRunner(runner)), nil
}

// Init creates the ledger table. Run it once, on first use.
func Init(ctx context.Context, c icfg.Config) error {
	e, err := Open(ctx, c)
	if err != nil {
		return err
	}
	defer e.Close()
	return e.CreateLedger(ctx)
}

// RunUp applies every pending migration in filename order and returns the
// filenames applied. It stops at the first failure.
func RunUp(ctx context.Context, c icfg.Config) ([]string, error) {
	e, err := Open(ctx, c)
	if err != nil {
		return nil, err
	}
	defer e.Close()
	pending, _, _, err := diff(ctx, e, c)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		logging.FromContext(ctx).Info("nothing to migrate")
		return nil, nil
	}
	return e.ApplyAll(ctx, c.Path, pending)
}

// Plan returns the units RunUp would apply, without running them.
func Plan(ctx context.Context, c icfg.Config) ([]engine.ExecutionUnit, error) {
	e, err := Open(ctx, c)
	if err != nil {
		return nil, err
	}
	defer e.Close()
	pending, _, _, err := diff(ctx, e, c)
	if err != nil {
		return nil, err
	}
	return e.Plan(c.Path, pending)
}

// Status lists every migration known to the directory or the ledger.
func Status(ctx context.Context, c icfg.Config) ([]StatusRow, error) {
	e, err := Open(ctx, c)
	if err != nil {
		return nil, err
	}
	defer e.Close()
	pending, candidates, performed, err := diff(ctx, e, c)
	if err != nil {
		return nil, err
	}
	drift := map[string]source.DriftKind{}
	for _, d := range source.Drift(candidates, performed) {
		drift[d.Record.Filename] = d.Kind
	}
	rows := make([]StatusRow, 0, len(performed)+len(pending))
	for _, r := range performed {
		status := StatusApplied
		if k, ok := drift[r.Filename]; ok {
			status = string(k)
		}
		rows = append(rows, StatusRow{Filename: r.Filename, Hash: r.Hash, Status: status, ExecutedAt: r.ExecutedAt})
	}
	for _, p := range pending {
		rows = append(rows, StatusRow{Filename: p.Filename, Hash: p.Hash, Status: StatusPending})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Filename < rows[j].Filename })
	return rows, nil
}

// Current returns the last applied migration by filename order; ok is false
// when the ledger is empty.
func Current(ctx context.Context, c icfg.Config) (rec engine.MigrationRecord, ok bool, err error) {
	e, err := Open(ctx, c)
	if err != nil {
		return rec, false, err
	}
	defer e.Close()
	performed, err := e.PerformedMigrations(ctx)
	if err != nil || len(performed) == 0 {
		return rec, false, err
	}
	return performed[len(performed)-1], true, nil
}

func diff(ctx context.Context, e *engine.Engine, c icfg.Config) ([]engine.PendingMigration, []engine.PendingMigration, []engine.MigrationRecord, error) {
	candidates, err := source.Scan(c.Path, c.Exclude)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("scan %s: %w", c.Path, err)
	}
	performed, err := e.PerformedMigrations(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return source.Pending(candidates, performed), candidates, performed, nil
}
