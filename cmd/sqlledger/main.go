package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	cfg "sqlledger/internal/config"
	"sqlledger/internal/logging"
	pub "sqlledger/pkg/ledger"
)

var (
	cfgFile string
)

func main() {
	root := &cobra.Command{
		Use:           "sqlledger",
		Short:         "Forward-only SQL migrations for sqlite, PostgreSQL, MySQL and Oracle",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	addCommonFlags(flags)
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to config YAML")

	root.AddCommand(cmdInit(flags), cmdStatus(flags), cmdPlan(flags), cmdUp(flags), cmdCurrent(flags), cmdCreate(flags))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func addCommonFlags(fs *pflag.FlagSet) {
	fs.String("engine", "sqlite", "Database engine: sqlite|postgres|mysql|oracle")
	fs.String("connection", "", "Connection descriptor (path, DSN, URL or JSON/YAML mapping)")
	fs.String("path", "./migrations", "Path to migrations directory")
	fs.String("table", "dbmigration", "Ledger table name")
	fs.String("sqlplus", "sqlplus", "sqlplus binary used for Oracle scripts")
	fs.StringSlice("exclude", nil, "Glob patterns of files to ignore in the migrations directory")
	fs.String("log_level", "info", "Log level: debug|info|warn|error")
	fs.String("log_format", "text", "Log format: text|json")
}

func loadConfig(flags *pflag.FlagSet) (cfg.Config, error) {
	return cfg.Load(flags, cfgFile)
}

// setup loads the configuration and puts the logger into the command context.
func setup(cmd *cobra.Command, flags *pflag.FlagSet) (context.Context, cfg.Config, error) {
	c, err := loadConfig(flags)
	if err != nil {
		return nil, c, err
	}
	logger, err := logging.New(c.LogLevel, c.LogFormat, os.Stderr)
	if err != nil {
		return nil, c, err
	}
	return logging.ContextWithLogger(cmd.Context(), logger), c, nil
}

func cmdInit(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{Use: "init", Short: "Create the ledger table", RunE: func(cmd *cobra.Command, args []string) error {
		ctx, c, err := setup(cmd, flags)
		if err != nil {
			return err
		}
		if err := pub.Init(ctx, c); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created ledger table %s\n", c.Table)
		return nil
	}}
}

func cmdUp(flags *pflag.FlagSet) *cobra.Command {
	var initFirst bool
	cmd := &cobra.Command{Use: "up", Short: "Apply all pending migrations", RunE: func(cmd *cobra.Command, args []string) error {
		ctx, c, err := setup(cmd, flags)
		if err != nil {
			return err
		}
		if initFirst {
			if err := pub.Init(ctx, c); err != nil {
				return err
			}
		}
		applied, err := pub.RunUp(ctx, c)
		w := cmd.OutOrStdout()
		for _, f := range applied {
			fmt.Fprintf(w, "applied\t%s\n", f)
		}
		return err
	}}
	cmd.Flags().BoolVar(&initFirst, "init", false, "Create the ledger table before migrating")
	return cmd
}

func cmdPlan(flags *pflag.FlagSet) *cobra.Command {
	var withSQL bool
	cmd := &cobra.Command{Use: "plan", Short: "Show what up would apply", RunE: func(cmd *cobra.Command, args []string) error {
		ctx, c, err := setup(cmd, flags)
		if err != nil {
			return err
		}
		units, err := pub.Plan(ctx, c)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, u := range units {
			switch {
			case withSQL && u.IsCommand():
				fmt.Fprintf(w, "-- exec %s\n%s\n", u.Command, u.Record.SQL)
			case withSQL:
				fmt.Fprintln(w, u.Text)
			case u.IsCommand():
				fmt.Fprintf(w, "exec\t%s\t%s\n", u.Hash, u.Filename)
			default:
				fmt.Fprintf(w, "sql\t%s\t%s\n", u.Hash, u.Filename)
			}
		}
		return nil
	}}
	cmd.Flags().BoolVar(&withSQL, "sql", false, "Print the SQL text of every unit")
	return cmd
}

func cmdStatus(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{Use: "status", Short: "Show migration status table", RunE: func(cmd *cobra.Command, args []string) error {
		ctx, c, err := setup(cmd, flags)
		if err != nil {
			return err
		}
		rows, err := pub.Status(ctx, c)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, "STATUS\tEXECUTED_AT\tSHA1\tFILENAME")
		for _, r := range rows {
			at := "-"
			if !r.ExecutedAt.IsZero() {
				at = r.ExecutedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Status, at, r.Hash, r.Filename)
		}
		return nil
	}}
}

func cmdCurrent(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{Use: "current", Short: "Print the last applied migration", RunE: func(cmd *cobra.Command, args []string) error {
		ctx, c, err := setup(cmd, flags)
		if err != nil {
			return err
		}
		rec, ok, err := pub.Current(ctx, c)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "none")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", rec.Filename, rec.ExecutedAt.Format(time.RFC3339))
		return nil
	}}
}

func cmdCreate(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new SQL migration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(flags)
			if err != nil {
				return err
			}
			path, err := createSQLTemplate(c.Path, args[0], time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			return nil
		},
	}
}

// createSQLTemplate writes an empty SQL migration. The timestamp prefix keeps
// filename order equal to creation order.
func createSQLTemplate(dir, name string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	file := fmt.Sprintf("%s_%s.sql", now.UTC().Format("20060102150405"), sanitizeName(name))
	full := fmt.Sprintf("%s%c%s", dir, os.PathSeparator, file)
	content := fmt.Sprintf("-- %s\n", sanitizeName(name))
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", err
	}
	return full, nil
}

func sanitizeName(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			out = append(out, r)
		} else if r == ' ' || r == '.' || r == '/' || r == '\\' {
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "migration"
	}
	return string(out)
}
