// Package mysql is the MySQL-class backend, a plain instance of the generic
// client/server base. The driver runs one statement per call unless the
// descriptor turns on multiStatements.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"sqlledger/internal/driver/generic"
	"sqlledger/internal/ledger"
)

type DB struct {
	*generic.Conn
}

// Config maps a connection descriptor onto a driver config. The keys follow
// the MySQLdb connect arguments, matched without regard to case; unknown keys
// become DSN parameters. A descriptor that is not a mapping is parsed as a
// driver DSN.
func Config(descriptor string) (*mysql.Config, error) {
	d, ok, err := generic.Mapping(descriptor)
	if err != nil {
		return nil, err
	}
	if !ok {
		cfg, err := mysql.ParseDSN(strings.TrimSpace(descriptor))
		if err != nil {
			return nil, fmt.Errorf("mysql connection: %w", err)
		}
		return cfg, nil
	}
	cfg := mysql.NewConfig()
	host, port := "127.0.0.1", "3306"
	for _, k := range d.Keys() {
		v, _ := d.String(k)
		switch strings.ToLower(k) {
		case "host":
			host = v
		case "port":
			port = v
		case "user":
			cfg.User = v
		case "passwd", "password":
			cfg.Passwd = v
		case "db", "database", "dbname":
			cfg.DBName = v
		case "unix_socket":
			cfg.Net, cfg.Addr = "unix", v
		case "multistatements", "parsetime":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("mysql connection: %s: %w", k, err)
			}
			if strings.EqualFold(k, "parseTime") {
				cfg.ParseTime = b
			} else {
				cfg.MultiStatements = b
			}
		default:
			if cfg.Params == nil {
				cfg.Params = map[string]string{}
			}
			cfg.Params[k] = v
		}
	}
	if cfg.Net != "unix" {
		cfg.Net, cfg.Addr = "tcp", net.JoinHostPort(host, port)
	}
	return cfg, nil
}

// Open parses descriptor and connects.
func Open(ctx context.Context, descriptor, table string) (*DB, error) {
	d, err := ledger.New("mysql", table)
	if err != nil {
		return nil, err
	}
	cfg, err := Config(descriptor)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connection: %w", err)
	}
	return New(ctx, sql.OpenDB(connector), d)
}

func New(ctx context.Context, db *sql.DB, d ledger.Dialect) (*DB, error) {
	c, err := generic.New(ctx, db, d)
	if err != nil {
		return nil, err
	}
	return &DB{Conn: c}, nil
}
