package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ageniuscoder/mmchat/convsync/internal/config"
	"github.com/ageniuscoder/mmchat/convsync/internal/logging"
	"github.com/ageniuscoder/mmchat/convsync/internal/storage"
	"github.com/ageniuscoder/mmchat/convsync/internal/storage/postgres"
	"github.com/ageniuscoder/mmchat/convsync/internal/storage/sqlite"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "convsync",
	Short:         "Real-time conversation list server and client",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (environment and .env are used otherwise)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.MustLoad(), nil
}

func newLogger(cfg config.Config) *slog.Logger {
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat, nil)
	slog.SetDefault(logger)
	return logger
}

// database is what the commands need from either backend.
type database interface {
	Store() *storage.Store
	Migrate(ctx context.Context, fsys afero.Fs, path string) error
	Ping(ctx context.Context) error
	Close() error
}

func openDB(cfg config.Config) (database, error) {
	switch cfg.DBDriver {
	case "postgres":
		return postgres.New(cfg.PostgresDsn)
	case "sqlite", "":
		return sqlite.New(cfg.SQLITEDsn)
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DBDriver)
	}
}

// openFeed tails message inserts: LISTEN/NOTIFY on postgres, polling on
// sqlite.
func openFeed(ctx context.Context, cfg config.Config, db database, logger *slog.Logger) (storage.Feed, error) {
	if pg, ok := db.(*postgres.Postgres); ok {
		return pg.Listen(ctx, logger)
	}
	return storage.NewPollFeed(ctx, db.Store(), cfg.FeedInterval, logger)
}
