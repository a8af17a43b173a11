// Package cli defines the command-line interface for mlopsctl.
package cli

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aast-innovation/mlopsctl/internal/logging"
)

const (
	// defaultConfigPath is the default path to the platform configuration file.
	defaultConfigPath = "platform.yaml"
)

// Options stores global CLI options shared between commands.
type Options struct {
	ConfigPath string
	Env        string
	LogLevel   logging.Level
	LogFormat  logging.Format
}

// Execute builds the root command, runs it with the provided args and logger, and returns any error.
func Execute(args []string, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewLogger(os.Stderr, logging.LevelInfo)
	}

	rootOpts := &Options{
		ConfigPath: defaultConfigPath,
		LogLevel:   logging.LevelInfo,
		LogFormat:  logging.FormatText,
	}

	var base baseEnv
	if err := parseEnv(&base); err != nil {
		return err
	}
	base.apply(rootOpts)

	rootCmd := newRootCommand(rootOpts, logger)
	rootCmd.SetArgs(args)

	return rootCmd.ExecuteContext(context.Background())
}

// newRootCommand constructs the root cobra.Command with global flags and subcommands.
func newRootCommand(opts *Options, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mlopsctl",
		Short:         "mlopsctl deploys and operates the predictive-maintenance MLOps platform",
		Long:          "mlopsctl is a declarative tool for the storage, development and inference stacks of the MLOps platform, its ETL jobs and its training/inference triggers, based on a platform.yaml definition.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := logging.ParseLevel(cmd.Flag("log-level").Value.String())
			format := logging.ParseFormat(cmd.Flag("log-format").Value.String())
			opts.LogLevel = level
			opts.LogFormat = format
			logger = logging.New(os.Stderr, format, level)
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
			logger.Debug("logger initialized", "level", slog.Level(level), "format", format)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", opts.ConfigPath, "Path to platform.yaml configuration file")
	cmd.PersistentFlags().StringVar(&opts.Env, "env", opts.Env, "Environment name (e.g. dev, prod)")
	cmd.PersistentFlags().String("log-level", strings.ToLower(slog.Level(opts.LogLevel).String()), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", string(opts.LogFormat), "Log format (text, json)")

	cmd.AddCommand(
		newRenderCommand(opts),
		newPreviewCommand(opts),
		newUpCommand(opts),
		newDestroyCommand(opts),
		newOutputsCommand(opts),
		newDoctorCommand(opts),
		newImagesCommand(opts),
		newETLCommand(opts),
		newJobCommand(opts, "training"),
		newJobCommand(opts, "inference"),
		newDataCommand(opts),
		newServeCommand(opts),
	)

	return cmd
}

// loggerKey is a private context key used to store a logger in command contexts.
type loggerKey struct{}

// LoggerFromContext extracts a logger from the context or falls back to a default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return logging.NewLogger(os.Stderr, logging.LevelInfo)
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return logging.NewLogger(os.Stderr, logging.LevelInfo)
}
