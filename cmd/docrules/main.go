// Command docrules runs the document automation rule engine and its tools.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gyaneshwarpardhi/docrules/internal/config"
)

const appName = "docrules"

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globals are the flags shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (g *globals) flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("global", pflag.ContinueOnError)
	fs.StringVarP(&g.configPath, "config", "c", "configs/docrules.yaml", "Path to the YAML config")
	fs.StringVar(&g.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	fs.StringVar(&g.logFormat, "log-format", "", "Log format override (text, json)")
	return fs
}

// logger builds the process logger from the config, with flag overrides.
func (g *globals) logger(c config.LogConf) *slog.Logger {
	if g.logLevel != "" {
		c.Level = g.logLevel
	}
	if g.logFormat != "" {
		c.Format = g.logFormat
	}
	level := slog.LevelInfo
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func rootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Document automation rule engine",
		Long: `docrules evaluates automation rules against documents.

Event rules run when a document event arrives over HTTP or NATS.
Scheduled rules run on cron expressions against recently modified documents.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().AddFlagSet(g.flagSet())

	cmd.AddCommand(
		serveCmd(g),
		checkRulesCmd(g),
		checkConditionCmd(),
		validateCronCmd(),
		migrateCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)
	return cmd
}
