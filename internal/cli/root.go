// Package cli implements the reportd command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph/config"
	"github.com/randalmurphal/reportgraph/pkg/research"
)

const version = "0.1.0"

// app carries what the root command resolves for its subcommands.
type app struct {
	cfgFile   string
	logLevel  string
	logFormat string

	settings research.Settings
	logger   *slog.Logger
}

// NewRootCmd builds the reportd command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "reportd",
		Short: "Interruptible research-report agent",
		Long: `reportd runs a research agent that searches the web, drafts an outline,
waits for a human to review it, and writes the approved sections.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (.yaml, .yml or .json)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format (text, json)")

	root.AddCommand(newServeCmd(a), newChatCmd(a), newTokenCmd(a))
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func (a *app) load(logOut io.Writer) error {
	cfg, err := config.Load(a.cfgFile, research.EnvBindings)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg = cfg.With("log.level", a.logLevel)
	}
	if a.logFormat != "" {
		cfg = cfg.With("log.format", a.logFormat)
	}

	a.settings, err = research.SettingsFromConfig(cfg)
	if err != nil {
		return err
	}
	a.logger, err = newLogger(logOut, a.settings.LogLevel, a.settings.LogFormat)
	return err
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
