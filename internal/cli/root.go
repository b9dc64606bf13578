// Package cli implements the architect command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/drinkits/attachment-architect/internal/config"
)

var (
	// Global flags
	configPath string
	logLevel   string

	// version is stamped by main.
	version = "dev"
)

// rootCmd is the base command for architect.
var rootCmd = &cobra.Command{
	Use:   "architect",
	Short: "Jira Data Center attachment duplicate audit",
	Long: `architect scans a Jira Data Center instance for duplicate attachments.

Every attachment is downloaded, hashed, and grouped by content so the
report shows exactly which files exist more than once, where they live,
and how much space the copies waste. Scans checkpoint as they go and can
be resumed after an interruption without losing progress.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
}

// Execute runs the root command.
func Execute(v string) error {
	version = v
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(testCmd)
}

// loadConfig reads the config file named by --config and applies env
// overrides. The log-level flag wins over the file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func setupLogging() error {
	level := logLevel
	if level == "" {
		// Peek at the config so file-configured levels apply before the
		// command body runs. Load errors surface later with context.
		if cfg, err := config.Load(configPath); err == nil {
			level = cfg.LogLevel
		} else {
			level = "info"
		}
	}
	parsed, err := parseLogLevel(level)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parsed})))
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
