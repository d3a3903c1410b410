package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ageniuscoder/mmchat/convsync/internal/chat"
	"github.com/ageniuscoder/mmchat/convsync/internal/server"
)

var serveMigrate bool

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "apply the built-in schema on start")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and event-stream server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		logger := newLogger(cfg)
		if cfg.LogLevel != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}

		db, err := openDB(cfg)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		ctx := cmd.Context()
		if serveMigrate {
			if err := db.Migrate(ctx, nil, ""); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
		}

		store := db.Store()
		hub := chat.NewHub(store, logger)
		feed, err := openFeed(ctx, cfg, db, logger)
		if err != nil {
			return fmt.Errorf("starting change feed: %w", err)
		}

		srv := &http.Server{
			Addr:              cfg.Addr,
			Handler:           server.NewRouter(server.Deps{Store: store, Hub: hub, JWTSecret: cfg.JWTSecret, Logger: logger}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			hub.Run(ctx)
			return nil
		})
		g.Go(func() error {
			if err := hub.Fanout(ctx, feed.Messages()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			logger.Info("listening", "addr", cfg.Addr, "driver", cfg.DBDriver)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		err = g.Wait()
		logger.Info("server stopped")
		return err
	},
}
