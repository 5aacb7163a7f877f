package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/strata/internal/config"
	"github.com/hyperengineering/strata/internal/store"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var (
	flagConfigPath string
	flagDSN        string
)

var rootCmd = &cobra.Command{
	Use:     "strata",
	Short:   "Strata - layered batch ingestion pipeline",
	Long:    "Strata loads delimited record files through RAW, SILVER, and GOLD layers:\nraw rows are ingested verbatim with duplicate protection, coerced into typed\nrows, and folded incrementally into running aggregate statistics. Every step\nis idempotent, so loads can be re-run and resumed safely.",
	Version: Version,

	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "",
		"Config file path (default config/strata.yaml, overridable via STRATA_* env)")
	rootCmd.PersistentFlags().StringVar(&flagDSN, "dsn", "",
		"Database connection string (overrides config and STRATA_DATABASE_URL)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(reportCmd)
}

// loadCLIConfig resolves configuration for a command run, with the --dsn
// flag taking precedence over file and environment.
func loadCLIConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flagConfigPath != "" {
		cfg, err = config.LoadFromFile(flagConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if flagDSN != "" {
		cfg.Database.URL = flagDSN
	}
	return cfg, nil
}

// newLogger builds the process logger from config. Logs go to stderr so
// stdout stays clean for command output.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}
	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openStore connects to the configured database and applies pending
// migrations.
func openStore(ctx context.Context, cfg *config.Config) (*store.Postgres, error) {
	return store.Open(ctx, cfg.Database.URL, newLogger(cfg))
}
