// Package sqlite is the embedded, file-based backend. SQLite runs a whole
// multi-statement script in one call and commits each statement on its own,
// so nothing here begins, commits or rolls back a transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	_ "modernc.org/sqlite"

	"sqlledger/internal/driver/generic"
	"sqlledger/internal/engine"
	"sqlledger/internal/ledger"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

type DB struct {
	db      *sql.DB
	session *sql.Conn
	dialect ledger.Dialect
}

// DSN turns a locator (file path, ":memory:" or "file:" URI) into a driver DSN.
func DSN(locator string) string {
	l := strings.TrimSpace(locator)
	if l == "" || l == ":memory:" || strings.HasPrefix(l, "file:") {
		if l == "" {
			return ":memory:"
		}
		return l
	}
	// '?', '#' and '%' in the path would otherwise end or alter the URI path
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", (&url.URL{Path: l}).EscapedPath())
}

// Open connects to the database at locator.
func Open(ctx context.Context, locator, table string) (*DB, error) {
	d, err := ledger.New("sqlite", table)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(DriverName, DSN(locator))
	if err != nil {
		return nil, engine.WrapSQL(err)
	}
	return New(ctx, db, d)
}

// New pins one session of db; an in-memory database lives only as long as it.
func New(ctx context.Context, db *sql.DB, d ledger.Dialect) (*DB, error) {
	s, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, engine.WrapSQL(err)
	}
	return &DB{db: db, session: s, dialect: d}, nil
}

func (d *DB) Dialect() ledger.Dialect { return d.dialect }

// Execute runs statement as one script. Bound arguments are only valid for a
// single statement.
func (d *DB) Execute(ctx context.Context, statement string, args ...any) error {
	_, err := d.session.ExecContext(ctx, statement, args...)
	return engine.WrapSQL(err)
}

func (d *DB) QueryResults(ctx context.Context, statement string, args ...any) ([][]any, error) {
	return generic.QueryAll(ctx, d.session, statement, args...)
}

func (d *DB) Close() error {
	return errors.Join(d.session.Close(), d.db.Close())
}
