package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/sadewadee/phpembed/internal/config"
	"github.com/sadewadee/phpembed/internal/phpengine"
)

// defaultConfigPath is read when --config is not given and the file exists.
const defaultConfigPath = "phpembed.yaml"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config    string
	LogLevel  string
	LogFormat string
	Format    string // "json" | "text"
}

// validFormats defines the allowed output formats.
var validFormats = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "phpembed",
		Short: "phpembed - PHP embedded in a Go process",
		Long: `Run PHP scripts, expressions and functions inside an embedded libphp
engine, or serve a PHP application over HTTP and WebSocket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "config file (default "+defaultConfigPath+" when present)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newEvalCommand(opts))
	cmd.AddCommand(newCallCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// loadConfig reads the configuration and applies the logging flags.
func (opts *RootOptions) loadConfig() (*config.Config, error) {
	path := opts.Config
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}

	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, &exitError{code: 2, err: err}
			}
			return nil, err
		}
	}

	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Logging.Format = opts.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, &exitError{code: 2, err: err}
	}
	return cfg, nil
}

// newLogger builds the configured logger. Commands whose stdout carries
// script output pass quiet so logs default to stderr.
func newLogger(cfg *config.Config, quiet bool) (*slog.Logger, io.Closer) {
	output := cfg.Logging.Output
	if quiet && (output == "" || output == "stdout") {
		output = "stderr"
	}
	w, closer := resolveLogOutput(output)
	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format, w)
	// Engine callbacks that run outside a session log here.
	phpengine.SetLogger(logger)
	return logger, closer
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "phpembed v%s\n", version)
			return nil
		},
	}
}
