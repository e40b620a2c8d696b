package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CommandRunner runs the program behind an executable migration.
type CommandRunner interface {
	Run(ctx context.Context, unit ExecutionUnit) error
}

// ExecRunner starts the program as a child process in the migration directory.
// Env is appended to the inherited environment together with the unit's
// filename and hash.
type ExecRunner struct {
	Env    []string
	Logger *slog.Logger
}

func (r *ExecRunner) Run(ctx context.Context, u ExecutionUnit) error {
	// a relative path would be resolved against Dir a second time
	path, err := filepath.Abs(u.Command)
	if err != nil {
		return &SQLExecutionError{Message: fmt.Sprintf("command %s: %v", u.Command, err), Err: err}
	}
	cmd := exec.CommandContext(ctx, path)
	cmd.Dir = filepath.Dir(path)
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.Env = append(cmd.Env, "SQLLEDGER_FILENAME="+u.Filename, "SQLLEDGER_SHA1="+u.Hash)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()
	if l := r.Logger; l != nil {
		l.Debug("command finished", "command", u.Command,
			"stdout", strings.TrimSpace(stdout.String()), "stderr", strings.TrimSpace(stderr.String()))
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return &SQLExecutionError{Message: fmt.Sprintf("command %s: %v: %s", u.Command, err, msg), Err: err}
	}
	return nil
}
