package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/avb-guard/internal/config"
	"github.com/oshokin/avb-guard/internal/logger"
	"github.com/oshokin/avb-guard/internal/outcome"
	"github.com/oshokin/avb-guard/internal/version"
)

// errBadLogLevel is returned for an unknown --log-level value.
var errBadLogLevel = errors.New("unknown log level")

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel overrides log_level from the settings file.
	logLevel string

	// rootCmd represents the base command of the boot-chain guard.
	rootCmd = &cobra.Command{
		Use:   "avbguard",
		Short: "Back up, verify, re-sign and flash the AVB boot chain.",
		Long: `avbguard keeps a trusted copy of the boot, init_boot and vbmeta partitions of
both A/B slots, detects OTA updates by content digest, and re-signs patched
boot images with a single pinned key before flashing them.

Exit codes: 0 success, 1 error, 2 nothing to do, 3 declined,
10 verification failure, 11 image too large, 12 write failure.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: applyLogLevel,
	}
)

// Execute runs the avbguard CLI and exits with the status code of the outcome.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	status := outcome.Classify(err)

	switch {
	case err == nil:
	case status.IsCritical():
		logger.ErrorKV(ctx, "Operation failed", "status", status.String(), "error", err)
	default:
		logger.WarnKV(ctx, "Operation stopped", "status", status.String(), "error", err)
	}

	_ = logger.Logger().Sync()

	os.Exit(status.ExitCode())
}

// applyLogLevel prefers the flag, then the settings file. A settings file
// that cannot be read is left for the command itself to report.
func applyLogLevel(cmd *cobra.Command, _ []string) error {
	name := logLevel

	if !cmd.Flags().Changed("log-level") {
		if settings, err := config.Load(configPath); err == nil {
			name = settings.LogLevel
		}
	}

	if name == "" {
		return nil
	}

	level, ok := logger.ParseLogLevel(name)
	if !ok {
		return fmt.Errorf("%w: %q", errBadLogLevel, name)
	}

	logger.SetLevel(level)

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level: debug, info, warn or error")
}
