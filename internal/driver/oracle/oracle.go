// Package oracle is the Oracle-class backend.
//
// The driver cannot run a script of several statements, so Execute picks one
// of two paths from the text itself: a statement without a ';' goes through
// the driver and is committed or rolled back, anything with a ';' is piped to
// sqlplus. sqlplus reports failures only in its output, so any "ERROR" in
// stdout fails the call. Every .sql unit contains a ';' (at least the ledger
// insert), so units always take the sqlplus path. Scripts start with
// ScriptPrologue: left to its defaults sqlplus carries on past a failed
// statement and commits on exit, which would record the ledger row of a
// failed unit.
package oracle

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"os/exec"
	"strings"

	"sqlledger/internal/driver/generic"
	"sqlledger/internal/engine"
	"sqlledger/internal/ledger"
)

// Separator selects the script path when present in a statement.
const Separator = ";"

// ScriptPrologue makes sqlplus stop at the first failed statement and roll
// back everything the script did.
const ScriptPrologue = "WHENEVER SQLERROR EXIT SQL.SQLCODE ROLLBACK"

// DefaultSQLPlus is the client binary used when none is configured.
const DefaultSQLPlus = "sqlplus"

// ScriptRunner feeds a script to an external SQL client.
type ScriptRunner interface {
	RunScript(ctx context.Context, connect, script string) (stdout, stderr string, err error)
}

// SQLPlus runs "sqlplus -S <connect>" with the script on stdin.
type SQLPlus struct {
	Path string
}

func (s SQLPlus) RunScript(ctx context.Context, connect, script string) (string, string, error) {
	path := s.Path
	if path == "" {
		path = DefaultSQLPlus
	}
	cmd := exec.CommandContext(ctx, path, "-S", connect)
	cmd.Stdin = strings.NewReader(script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

type DB struct {
	*generic.Conn
	connect string
	runner  ScriptRunner
	logger  *slog.Logger
}

// Open connects through go-ora and keeps connect for the script runner. A nil
// runner means sqlplus from PATH.
func Open(ctx context.Context, connect, table string, runner ScriptRunner, logger *slog.Logger) (*DB, error) {
	d, err := ledger.New("oracle", table)
	if err != nil {
		return nil, err
	}
	ci, err := ParseConnect(connect)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("oracle", ci.URL())
	if err != nil {
		return nil, engine.WrapSQL(err)
	}
	return New(ctx, db, d, ci.EZConnect(), runner, logger)
}

func New(ctx context.Context, db *sql.DB, d ledger.Dialect, connect string, runner ScriptRunner, logger *slog.Logger) (*DB, error) {
	c, err := generic.New(ctx, db, d)
	if err != nil {
		return nil, err
	}
	if runner == nil {
		runner = SQLPlus{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DB{Conn: c, connect: connect, runner: runner, logger: logger}, nil
}

// Execute runs statement through the driver or, when it contains a
// separator, through the script runner. The script path takes no arguments.
func (o *DB) Execute(ctx context.Context, statement string, args ...any) error {
	if !strings.Contains(statement, Separator) {
		o.logger.Debug("executing single statement", "statement", statement)
		return o.Conn.Execute(ctx, statement, args...)
	}
	if len(args) > 0 {
		return engine.NewSQLExecutionError("bound arguments cannot be passed to a script")
	}
	return o.runScript(ctx, statement)
}

// ApplyUnit sends the full unit text, ledger insert included, as one script.
func (o *DB) ApplyUnit(ctx context.Context, u engine.ExecutionUnit) error {
	return o.Execute(ctx, u.Text)
}

func (o *DB) runScript(ctx context.Context, script string) error {
	o.logger.Debug("executing script", "script", script)
	stdout, stderr, err := o.runner.RunScript(ctx, o.connect, ScriptPrologue+"\n"+script)
	o.logger.Debug("script finished", "stdout", stdout, "stderr", stderr)
	if strings.Contains(stdout, "ERROR") {
		return engine.NewSQLExecutionError(stdout)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = err.Error()
		}
		return &engine.SQLExecutionError{Message: msg, Err: err}
	}
	return nil
}
