// Package postgres is the Postgres-class backend. It runs on the generic
// client/server base through pgx's database/sql driver, and may pin the
// session to a schema with SET search_path before anything else runs.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"sqlledger/internal/driver/generic"
	"sqlledger/internal/ledger"
)

// SchemaKey is the descriptor key consumed here and never passed to the driver.
const SchemaKey = "schema"

var schemaRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\s*,\s*[A-Za-z_][A-Za-z0-9_$]*)*$`)

// psycopg-style aliases accepted in descriptors.
var keyAliases = map[string]string{
	"database": "dbname",
	"passwd":   "password",
}

type DB struct {
	*generic.Conn
	Schema string
}

// ConnString splits a connection descriptor into a pgx connection string and
// the optional schema. Mappings are rendered as keyword/value settings;
// anything else (URL or keyword/value string) is returned unchanged.
func ConnString(descriptor string) (string, string, error) {
	d, ok, err := generic.Mapping(descriptor)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return strings.TrimSpace(descriptor), "", nil
	}
	schema, _ := d.Pop(SchemaKey)
	parts := make([]string, 0, len(d))
	for _, k := range d.Keys() {
		v, _ := d.String(k)
		if alias, ok := keyAliases[k]; ok {
			k = alias
		}
		parts = append(parts, k+"="+quoteValue(v))
	}
	return strings.Join(parts, " "), schema, nil
}

func quoteValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Open parses descriptor and connects.
func Open(ctx context.Context, descriptor, table string) (*DB, error) {
	d, err := ledger.New("postgres", table)
	if err != nil {
		return nil, err
	}
	connString, schema, err := ConnString(descriptor)
	if err != nil {
		return nil, err
	}
	cfg, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("postgres connection: %w", err)
	}
	return New(ctx, stdlib.OpenDB(*cfg), d, schema)
}

// New wraps db and applies schema, if any, as the first statement of the session.
func New(ctx context.Context, db *sql.DB, d ledger.Dialect, schema string) (*DB, error) {
	schema = strings.TrimSpace(schema)
	if schema != "" && !schemaRe.MatchString(schema) {
		_ = db.Close()
		return nil, fmt.Errorf("invalid schema %q", schema)
	}
	c, err := generic.New(ctx, db, d)
	if err != nil {
		return nil, err
	}
	p := &DB{Conn: c, Schema: schema}
	if schema != "" {
		if err := p.Execute(ctx, "SET search_path = "+schema); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return p, nil
}
