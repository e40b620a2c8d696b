// Package ledger describes the table that records applied migrations and the
// per-backend SQL used to create, append to and read it.
//
// The table has exactly three columns: filename, sha1 and executed_dt. It carries
// no keys or indexes; one row per filename is kept by the engine, not the schema.
package ledger

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultTable is the ledger table name used when none is configured.
const DefaultTable = "dbmigration"

// Column sizes of the ledger table.
const (
	FilenameSize = 255
	HashSize     = 40
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*)?$`)

// ValidateIdentifier reports whether name can be interpolated into SQL as a
// table name (optionally schema qualified).
func ValidateIdentifier(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// Dialect holds everything that differs between backends when talking to the ledger.
type Dialect struct {
	Name          string
	Table         string
	TimestampType string
	// Now is the SQL expression for the current timestamp.
	Now string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder func(n int) string
	// BackslashEscapes is set for servers that treat '\' as an escape inside literals.
	BackslashEscapes bool
}

func question(int) string { return "?" }

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

func colon(n int) string { return fmt.Sprintf(":%d", n) }

// SQLite returns the dialect of the embedded backend.
func SQLite(table string) Dialect {
	return Dialect{Name: "sqlite", Table: table, TimestampType: "datetime", Now: "datetime()", Placeholder: question}
}

// MySQL returns the dialect of MySQL-class servers.
func MySQL(table string) Dialect {
	return Dialect{Name: "mysql", Table: table, TimestampType: "datetime", Now: "now()", Placeholder: question, BackslashEscapes: true}
}

// Postgres returns the dialect of Postgres-class servers.
func Postgres(table string) Dialect {
	return Dialect{Name: "postgres", Table: table, TimestampType: "timestamp", Now: "now()", Placeholder: dollar}
}

// Oracle returns the dialect of Oracle-class servers. Unquoted identifiers are
// folded to upper case by the server, so the table is kept upper case here too.
func Oracle(table string) Dialect {
	return Dialect{Name: "oracle", Table: strings.ToUpper(table), TimestampType: "timestamp", Now: "sysdate", Placeholder: colon}
}

// New returns the dialect registered under name for the given table.
func New(name, table string) (Dialect, error) {
	if table == "" {
		table = DefaultTable
	}
	if err := ValidateIdentifier(table); err != nil {
		return Dialect{}, fmt.Errorf("ledger table: %w", err)
	}
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite(table), nil
	case "mysql":
		return MySQL(table), nil
	case "postgres", "postgresql":
		return Postgres(table), nil
	case "oracle":
		return Oracle(table), nil
	}
	return Dialect{}, fmt.Errorf("unknown dialect %q", name)
}

// CreateTableSQL is the DDL creating the ledger table. It has no trailing
// separator so that every backend can run it as a single statement.
func (d Dialect) CreateTableSQL() string {
	return fmt.Sprintf("CREATE TABLE %s (filename varchar(%d), sha1 varchar(%d), executed_dt %s)",
		d.Table, FilenameSize, HashSize, d.TimestampType)
}

// InsertSQL is the bound ledger insert; arguments are filename and hash.
func (d Dialect) InsertSQL() string {
	return fmt.Sprintf("INSERT INTO %s (filename, sha1, executed_dt) VALUES (%s, %s, %s)",
		d.Table, d.Placeholder(1), d.Placeholder(2), d.Now)
}

// InsertLiteral renders the ledger insert with the values inlined, for use
// inside scripts that cannot carry bound arguments.
func (d Dialect) InsertLiteral(filename, hash string) string {
	return fmt.Sprintf("INSERT INTO %s (filename, sha1, executed_dt) VALUES (%s, %s, %s);",
		d.Table, d.QuoteLiteral(filename), d.QuoteLiteral(hash), d.Now)
}

// SelectPerformedSQL reads the ledger in filename order.
func (d Dialect) SelectPerformedSQL() string {
	return fmt.Sprintf("SELECT filename, sha1, executed_dt FROM %s ORDER BY filename", d.Table)
}

// QuoteLiteral returns s as a SQL string literal.
func (d Dialect) QuoteLiteral(s string) string {
	if d.BackslashEscapes {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
