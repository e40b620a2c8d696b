package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sqlledger/internal/ledger"
)

type fakeBackend struct {
	dialect  ledger.Dialect
	executed []Statement
	rows     [][]any
	failOn   string
	ledger   map[string]string
}

func newFake() *fakeBackend {
	return &fakeBackend{dialect: ledger.SQLite(ledger.DefaultTable), ledger: map[string]string{}}
}

func (f *fakeBackend) Dialect() ledger.Dialect { return f.dialect }

func (f *fakeBackend) Execute(_ context.Context, statement string, args ...any) error {
	if f.failOn != "" && strings.Contains(statement, f.failOn) {
		return WrapSQL(errors.New("near \"" + f.failOn + "\": syntax error"))
	}
	f.executed = append(f.executed, Statement{SQL: statement, Args: args})
	if statement == f.dialect.InsertSQL() {
		f.ledger[args[0].(string)] = args[1].(string)
		f.rows = append(f.rows, []any{args[0], args[1], "2024-01-02 03:04:05"})
	}
	return nil
}

func (f *fakeBackend) QueryResults(context.Context, string, ...any) ([][]any, error) {
	return f.rows, nil
}

func (f *fakeBackend) Close() error { return nil }

type recordingRunner struct {
	ran []string
	err error
}

func (r *recordingRunner) Run(_ context.Context, u ExecutionUnit) error {
	r.ran = append(r.ran, u.Command)
	return r.err
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestUnits_OrderAndCount(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "001_init.sql", "CREATE TABLE a(id int);\n")
	writeFile(t, dir, "002_add_col.sql", "ALTER TABLE a ADD COLUMN b int;\n")
	writeFile(t, dir, "010_seed.sql", "INSERT INTO a(id) VALUES (1);\n")
	e := New(newFake())

	pending := []PendingMigration{
		{Filename: "010_seed.sql", Hash: "ccc"},
		{Filename: "001_init.sql", Hash: "aaa"},
		{Filename: "002_add_col.sql", Hash: "bbb"},
	}
	units, err := e.Plan(dir, pending)
	require.NoError(t, err)
	require.Len(t, units, 3)
	require.Equal(t, "001_init.sql", units[0].Filename)
	require.Equal(t, "002_add_col.sql", units[1].Filename)
	require.Equal(t, "010_seed.sql", units[2].Filename)
	require.Equal(t, "010_seed.sql", pending[0].Filename, "input must not be reordered")

	again, err := e.Plan(dir, pending)
	require.NoError(t, err)
	require.Equal(t, units, again)
}

func TestUnits_SQLFileContent(t *testing.T) {
	dir := t.TempDir()
	content := "-- create\nCREATE TABLE a(id int);\n\nCREATE INDEX a_id ON a(id);"
	writeFile(t, dir, "001_init.sql", content)
	e := New(newFake())

	units, err := e.Plan(dir, []PendingMigration{{Filename: "001_init.sql", Hash: "aaa"}})
	require.NoError(t, err)
	u := units[0]
	require.False(t, u.IsCommand())

	header := Header("001_init.sql", "aaa")
	parts := strings.SplitN(u.Text, header+"\n", 2)
	require.Len(t, parts, 2)
	require.Empty(t, parts[0])
	insert := ledger.SQLite(ledger.DefaultTable).InsertLiteral("001_init.sql", "aaa")
	require.Equal(t, content+"\n"+insert, parts[1])
	require.Equal(t, 1, strings.Count(u.Text, "INSERT INTO dbmigration"))

	require.Equal(t, header+"\n"+content, u.Script)
	require.Equal(t, []any{"001_init.sql", "aaa"}, u.Record.Args)
}

func TestUnits_Executable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "003_backfill.sh", "#!/bin/sh\necho secret-body\n")
	e := New(newFake())

	units, err := e.Plan(dir, []PendingMigration{{Filename: "003_backfill.sh", Hash: "ddd"}})
	require.NoError(t, err)
	u := units[0]
	require.Equal(t, filepath.Join(dir, "003_backfill.sh"), u.Command)
	require.Equal(t, Header("003_backfill.sh", "ddd"), u.Script)
	require.NotContains(t, u.Text, "secret-body")
	require.True(t, strings.HasSuffix(u.Text, "'003_backfill.sh', 'ddd', datetime());"))
}

func TestUnits_MissingFile(t *testing.T) {
	e := New(newFake())
	var errs int
	for _, err := range e.Units(t.TempDir(), []PendingMigration{{Filename: "001_gone.sql", Hash: "x"}}) {
		require.Error(t, err)
		errs++
	}
	require.Equal(t, 1, errs)
}

func TestUnits_Empty(t *testing.T) {
	e := New(newFake())
	units, err := e.Plan(t.TempDir(), nil)
	require.NoError(t, err)
	require.Empty(t, units)
}

func TestApplyAll_RecordsLedger(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "001_init.sql", "CREATE TABLE a(id int);")
	writeFile(t, dir, "002_add_col.sql", "ALTER TABLE a ADD COLUMN b int;")
	fb := newFake()
	e := New(fb)
	ctx := context.Background()

	applied, err := e.ApplyAll(ctx, dir, []PendingMigration{
		{Filename: "002_add_col.sql", Hash: "bbb"},
		{Filename: "001_init.sql", Hash: "aaa"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"001_init.sql", "002_add_col.sql"}, applied)

	performed, err := e.PerformedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, performed, 2)
	require.Equal(t, "001_init.sql", performed[0].Filename)
	require.Equal(t, "aaa", performed[0].Hash)
	require.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), performed[0].ExecutedAt)
	require.Equal(t, "002_add_col.sql", performed[1].Filename)
}

func TestApplyAll_HaltsOnFirstFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "001_init.sql", "CREATE TABLE a(id int);")
	writeFile(t, dir, "002_bad.sql", "CREAT TABLE broken;")
	writeFile(t, dir, "003_never.sql", "CREATE TABLE c(id int);")
	fb := newFake()
	fb.failOn = "CREAT TABLE"
	e := New(fb)

	applied, err := e.ApplyAll(context.Background(), dir, []PendingMigration{
		{Filename: "001_init.sql", Hash: "a"},
		{Filename: "002_bad.sql", Hash: "b"},
		{Filename: "003_never.sql", Hash: "c"},
	})
	require.Error(t, err)
	require.True(t, IsSQLExecutionError(err))
	require.Equal(t, []string{"001_init.sql"}, applied)
	require.NotContains(t, fb.ledger, "002_bad.sql")
	require.NotContains(t, fb.ledger, "003_never.sql")
}

func TestApply_CommandRecordsAfterRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "003_backfill.sh", "#!/bin/sh\n")
	fb := newFake()
	runner := &recordingRunner{}
	e := New(fb, WithCommandRunner(runner))

	applied, err := e.ApplyAll(context.Background(), dir, []PendingMigration{{Filename: "003_backfill.sh", Hash: "ddd"}})
	require.NoError(t, err)
	require.Equal(t, []string{"003_backfill.sh"}, applied)
	require.Equal(t, []string{filepath.Join(dir, "003_backfill.sh")}, runner.ran)
	require.Len(t, fb.executed, 1)
	require.Equal(t, fb.dialect.InsertSQL(), fb.executed[0].SQL)
}

func TestApply_CommandFailureSkipsLedger(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "003_backfill.sh", "#!/bin/sh\n")
	fb := newFake()
	e := New(fb, WithCommandRunner(&recordingRunner{err: NewSQLExecutionError("exit status 1")}))

	_, err := e.ApplyAll(context.Background(), dir, []PendingMigration{{Filename: "003_backfill.sh", Hash: "ddd"}})
	require.Error(t, err)
	require.Empty(t, fb.executed)
}

type applierBackend struct {
	*fakeBackend
	units []ExecutionUnit
}

func (a *applierBackend) ApplyUnit(_ context.Context, u ExecutionUnit) error {
	a.units = append(a.units, u)
	return nil
}

func TestApply_UsesUnitApplier(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "001_init.sql", "CREATE TABLE a(id int);")
	ab := &applierBackend{fakeBackend: newFake()}
	e := New(ab)

	_, err := e.ApplyAll(context.Background(), dir, []PendingMigration{{Filename: "001_init.sql", Hash: "a"}})
	require.NoError(t, err)
	require.Len(t, ab.units, 1)
	require.Empty(t, ab.executed)
}

func TestCreateLedger(t *testing.T) {
	fb := newFake()
	e := New(fb)
	require.NoError(t, e.CreateLedger(context.Background()))
	require.Equal(t, fb.dialect.CreateTableSQL(), fb.executed[0].SQL)
}

func TestPerformedMigrations_SortsByteWise(t *testing.T) {
	fb := newFake()
	fb.rows = [][]any{
		{"b.sql", "2", time.Unix(0, 0)},
		{[]byte("B.sql"), []byte("1"), []byte("2024-01-02T03:04:05Z")},
		{"a.sql", "3", nil},
	}
	performed, err := New(fb).PerformedMigrations(context.Background())
	require.NoError(t, err)
	require.Equal(t, "B.sql", performed[0].Filename)
	require.Equal(t, "a.sql", performed[1].Filename)
	require.Equal(t, "b.sql", performed[2].Filename)
	require.True(t, performed[1].ExecutedAt.IsZero())
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a\n", []string{"a"}},
		{"a\r\nb\rc\n", []string{"a", "b", "c"}},
		{"a\n\nb", []string{"a", "", "b"}},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, splitLines(tt.in), "splitLines(%q)", tt.in)
	}
}

func TestWrapSQL(t *testing.T) {
	require.NoError(t, WrapSQL(nil))
	base := errors.New("table dbmigration already exists")
	err := WrapSQL(base)
	require.Equal(t, "table dbmigration already exists", err.Error())
	require.ErrorIs(t, err, base)
	require.Same(t, err, WrapSQL(err))
}
