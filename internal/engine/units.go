package engine

import (
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"sqlledger/internal/ledger"
)

// ScriptExt marks a migration file whose content is SQL. Anything else is run
// as a program.
const ScriptExt = ".sql"

// Header is the comment line that opens every unit.
func Header(filename, hash string) string {
	return fmt.Sprintf("-- start filename: %s sha1: %s", filename, hash)
}

// BuildUnit turns one pending migration into an ExecutionUnit for dialect d.
func BuildUnit(d ledger.Dialect, directory string, p PendingMigration) (ExecutionUnit, error) {
	path := filepath.Join(directory, p.Filename)
	u := ExecutionUnit{
		Filename: p.Filename,
		Hash:     p.Hash,
		Record:   Statement{SQL: d.InsertSQL(), Args: []any{p.Filename, p.Hash}},
	}
	lines := []string{Header(p.Filename, p.Hash)}
	if filepath.Ext(p.Filename) == ScriptExt {
		b, err := os.ReadFile(path)
		if err != nil {
			return ExecutionUnit{}, fmt.Errorf("read migration %s: %w", p.Filename, err)
		}
		lines = append(lines, splitLines(string(b))...)
	} else {
		u.Command = path
	}
	u.Script = strings.Join(lines, "\n")
	u.Text = u.Script + "\n" + d.InsertLiteral(p.Filename, p.Hash)
	return u, nil
}

// Units yields one ExecutionUnit per pending migration in ascending filename
// order. Nothing is read until the sequence is ranged over, and every range
// starts again from pending. A file that cannot be read ends the sequence with
// its error.
func (e *Engine) Units(directory string, pending []PendingMigration) iter.Seq2[ExecutionUnit, error] {
	d := e.backend.Dialect()
	return func(yield func(ExecutionUnit, error) bool) {
		for _, p := range sortPending(pending) {
			u, err := BuildUnit(d, directory, p)
			if err != nil {
				yield(ExecutionUnit{}, err)
				return
			}
			if !yield(u, nil) {
				return
			}
		}
	}
}

// Plan collects Units into a slice.
func (e *Engine) Plan(directory string, pending []PendingMigration) ([]ExecutionUnit, error) {
	out := make([]ExecutionUnit, 0, len(pending))
	for u, err := range e.Units(directory, pending) {
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func sortPending(pending []PendingMigration) []PendingMigration {
	sorted := slices.Clone(pending)
	slices.SortStableFunc(sorted, func(a, b PendingMigration) int {
		if c := strings.Compare(a.Filename, b.Filename); c != 0 {
			return c
		}
		return strings.Compare(a.Hash, b.Hash)
	})
	return sorted
}

// splitLines splits on \n, \r\n and \r without keeping the terminators. A
// trailing terminator does not produce an empty last line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}
