package engine

import (
	"context"
	"time"

	"sqlledger/internal/ledger"
)

// PendingMigration is a candidate migration that is not recorded in the ledger yet.
type PendingMigration struct {
	Filename string
	Hash     string
}

// MigrationRecord is one row of the ledger.
type MigrationRecord struct {
	Filename   string
	Hash       string
	ExecutedAt time.Time
}

// Statement is a SQL statement with its bound arguments.
type Statement struct {
	SQL  string
	Args []any
}

// ExecutionUnit is what one pending migration turns into.
//
// For a .sql file Script holds the header followed by the file's lines and
// Command is empty. For anything else Command is the program to run and Script
// holds only the header. Text is the complete statement text: Script plus the
// ledger insert with its values inlined.
type ExecutionUnit struct {
	Filename string
	Hash     string
	Command  string
	Script   string
	Record   Statement
	Text     string
}

// IsCommand reports whether the unit runs an external program.
func (u ExecutionUnit) IsCommand() bool { return u.Command != "" }

// Backend is the contract every database adapter implements. Connecting is
// the adapter's constructor; every error it returns from Execute or
// QueryResults is a *SQLExecutionError.
type Backend interface {
	Dialect() ledger.Dialect
	Execute(ctx context.Context, statement string, args ...any) error
	// QueryResults runs a query and returns every row before returning.
	QueryResults(ctx context.Context, statement string, args ...any) ([][]any, error)
	Close() error
}

// UnitApplier is implemented by backends that run a SQL unit differently from
// the default of executing Script and then Record.
type UnitApplier interface {
	ApplyUnit(ctx context.Context, unit ExecutionUnit) error
}
