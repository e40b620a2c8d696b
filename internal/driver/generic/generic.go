// Package generic is the base adapter for client/server databases reached
// through database/sql. It keeps one session open for the engine's lifetime,
// runs every statement in its own transaction and rolls back explicitly on
// failure, since these servers otherwise hold the failed transaction open.
package generic

import (
	"context"
	"database/sql"
	"errors"

	"sqlledger/internal/engine"
	"sqlledger/internal/ledger"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Conn struct {
	db      *sql.DB
	session *sql.Conn
	dialect ledger.Dialect
}

// New pins a session from db. db is closed if that fails.
func New(ctx context.Context, db *sql.DB, d ledger.Dialect) (*Conn, error) {
	s, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, engine.WrapSQL(err)
	}
	return &Conn{db: db, session: s, dialect: d}, nil
}

func (c *Conn) Dialect() ledger.Dialect { return c.dialect }

// Execute runs statement as a single statement and commits it.
func (c *Conn) Execute(ctx context.Context, statement string, args ...any) error {
	return c.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, statement, args...)
		return err
	})
}

// ApplyUnit runs the unit's script and its ledger insert in one transaction.
func (c *Conn) ApplyUnit(ctx context.Context, u engine.ExecutionUnit) error {
	return c.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, u.Script); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, u.Record.SQL, u.Record.Args...)
		return err
	})
}

// InTx runs fn in a transaction on the session. Any failure rolls back and is
// returned as a *engine.SQLExecutionError.
func (c *Conn) InTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.session.BeginTx(ctx, nil)
	if err != nil {
		return engine.WrapSQL(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return engine.WrapSQL(err)
	}
	return engine.WrapSQL(tx.Commit())
}

func (c *Conn) QueryResults(ctx context.Context, statement string, args ...any) ([][]any, error) {
	return QueryAll(ctx, c.session, statement, args...)
}

func (c *Conn) Close() error {
	return errors.Join(c.session.Close(), c.db.Close())
}

// QueryAll runs a query and reads every row into memory. Byte slices are
// copied since the driver may reuse them.
func QueryAll(ctx context.Context, q Querier, statement string, args ...any) ([][]any, error) {
	rows, err := q.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, engine.WrapSQL(err)
	}
	defer func() { _ = rows.Close() }()
	cols, err := rows.Columns()
	if err != nil {
		return nil, engine.WrapSQL(err)
	}
	out := [][]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, engine.WrapSQL(err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = append([]byte(nil), b...)
			}
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.WrapSQL(err)
	}
	return out, nil
}
