package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/docrules/internal/condition"
	"github.com/gyaneshwarpardhi/docrules/internal/config"
	"github.com/gyaneshwarpardhi/docrules/internal/cronexpr"
	"github.com/gyaneshwarpardhi/docrules/internal/rule"
	"github.com/gyaneshwarpardhi/docrules/internal/store/postgres"
)

func checkRulesCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "check-rules",
		Short: "Validate the config file and list its declarative rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			dry := rule.NewService(rule.NewInMemoryStore())
			now := time.Now()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTRIGGER\tPRIORITY\tACTIONS\tNEXT RUN")
			for _, spec := range cfg.Rules {
				r, err := dry.Build(spec)
				if err != nil {
					return fmt.Errorf("rule %q: %w", spec.Name, err)
				}
				next := "-"
				if r.IsScheduled() {
					if t, err := cronexpr.Next(r.CronExpression, r.Timezone, now); err == nil {
						next = t.Format(time.RFC3339)
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", r.Name, r.Trigger, r.Priority, len(r.Actions), next)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s: config version %s, %d rules OK\n", g.configPath, cfg.Version, len(cfg.Rules))
			return nil
		},
	}
}

func checkConditionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "check-condition EXPRESSION",
		Short:   "Parse a textual condition and print its structured form",
		Example: `  docrules check-condition 'mimeType == "application/pdf" AND NOT name contains "draft"'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := condition.Parse(args[0])
			if err != nil {
				return err
			}
			if err := condition.Validate(c); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(condition.ToSpec(c))
		},
	}
}

func validateCronCmd() *cobra.Command {
	var (
		tz    string
		count int
	)
	cmd := &cobra.Command{
		Use:     "validate-cron EXPRESSION",
		Short:   "Validate a cron expression and print its next occurrences",
		Example: `  docrules validate-cron "0 0 2 * * *" --timezone Europe/Berlin --count 3`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			times, err := cronexpr.NextN(args[0], tz, time.Now(), count)
			if err != nil {
				return err
			}
			for _, t := range times {
				fmt.Fprintln(cmd.OutOrStdout(), t.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tz, "timezone", rule.DefaultTimezone, "IANA timezone the expression is evaluated in")
	cmd.Flags().IntVarP(&count, "count", "n", 5, "Number of occurrences to print")
	return cmd
}

func migrateCmd(g *globals) *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:       "migrate up|down|version",
		Short:     "Manage the PostgreSQL schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				dsn = resolveDSN(g.configPath)
			}
			if dsn == "" {
				return errors.New("no database: pass --dsn, set postgres.dsn or DATABASE_URL")
			}
			m, err := postgres.NewMigrator(dsn)
			if err != nil {
				return err
			}
			defer m.Close()

			out := cmd.OutOrStdout()
			switch args[0] {
			case "up":
				if err := m.Up(); err != nil {
					return err
				}
			case "down":
				if err := m.Down(); err != nil {
					return err
				}
			}
			v, dirty, err := m.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "schema version %d", v)
			if dirty {
				fmt.Fprint(out, " (dirty)")
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL connection string (defaults to postgres.dsn, then DATABASE_URL)")
	return cmd
}

// resolveDSN reads postgres.dsn from the config, falling back to
// DATABASE_URL when the file is missing or invalid.
func resolveDSN(path string) string {
	if cfg, err := config.Load(path); err == nil && cfg.Postgres.DSN != "" {
		return cfg.Postgres.DSN
	}
	return strings.TrimSpace(os.Getenv("DATABASE_URL"))
}
