package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ageniuscoder/mmchat/convsync/internal/auth"
	"github.com/ageniuscoder/mmchat/convsync/internal/channel"
	"github.com/ageniuscoder/mmchat/convsync/internal/config"
	"github.com/ageniuscoder/mmchat/convsync/internal/fetch"
	"github.com/ageniuscoder/mmchat/convsync/internal/filter"
	"github.com/ageniuscoder/mmchat/convsync/internal/inbox"
	"github.com/ageniuscoder/mmchat/convsync/internal/model"
	"github.com/ageniuscoder/mmchat/convsync/internal/notify"
)

var (
	watchUser   string
	watchToken  string
	watchQuery  string
	watchNotify bool
	watchEmail  bool
)

func init() {
	watchCmd.Flags().StringVar(&watchUser, "user", "", "user id to watch as")
	watchCmd.Flags().StringVar(&watchToken, "token", "", "session token (minted from the configured secret when empty)")
	watchCmd.Flags().StringVar(&watchQuery, "query", "", "only show conversations whose name contains this")
	watchCmd.Flags().BoolVar(&watchNotify, "notify", false, "show notifications from the local message store")
	watchCmd.Flags().BoolVar(&watchEmail, "email", false, "also mail direct-message notifications through SendGrid")
	_ = watchCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a user's conversation list live",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		token := watchToken
		if token == "" {
			if cfg.JWTSecret == "" {
				return errors.New("pass --token or configure a jwt secret")
			}
			if token, err = auth.NewToken(cfg.JWTSecret, watchUser, cfg.JWTTTLMin); err != nil {
				return err
			}
		}

		ctx := cmd.Context()
		conn, err := channel.Dial(ctx, cfg.ServerURL, token, channel.Options{Logger: logger})
		if err != nil {
			return err
		}
		defer conn.Close()

		view, err := inbox.Mount(ctx, inbox.Options{
			UserID:  watchUser,
			Channel: conn,
			Fetcher: fetch.New(cfg.ServerURL, token),
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		defer view.Close()
		view.Search(watchQuery)

		r := &renderer{w: color.Output, query: watchQuery}
		cancel := view.OnChange(func(list []model.Conversation) { r.render(filter.Apply(list, watchQuery)) })
		defer cancel()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			case <-conn.Done():
				if err := conn.Err(); err != nil {
					return fmt.Errorf("event connection lost: %w", err)
				}
				return nil
			}
		})
		if watchNotify {
			g.Go(func() error { return runNotifications(ctx, cfg, logger) })
		}

		<-view.Loaded()
		r.render(view.Results())

		err = g.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// runNotifications tails the local message store and surfaces alerts for
// watchUser.
func runNotifications(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	feed, err := openFeed(ctx, cfg, db, logger)
	if err != nil {
		return fmt.Errorf("starting change feed: %w", err)
	}

	sinks := notify.MultiSink{notify.NewTerminalSink(nil)}
	if watchEmail {
		if cfg.SendGridAPIKey == "" || cfg.SendGridTo == "" {
			return errors.New("email notifications need sendgrid_api_key and sendgrid_to")
		}
		email := notify.NewEmailSink(cfg.SendGridAPIKey, cfg.SendGridFrom, cfg.SendGridTo)
		email.DirectOnly = true
		sinks = append(sinks, email)
	}

	d := notify.NewDispatcher(notify.Config{
		UserID:         watchUser,
		DirectDuration: cfg.Notify.DirectDuration,
		GroupDuration:  cfg.Notify.GroupDuration,
		PreviewLength:  cfg.Notify.PreviewLength,
	}, db.Store(), sinks, logger)
	return d.Run(ctx, feed.Messages())
}

type renderer struct {
	mu    sync.Mutex
	w     io.Writer
	query string
}

func (r *renderer) render(list []model.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.w
	if w == nil {
		w = os.Stdout
	}
	header := color.New(color.FgCyan, color.Bold)
	title := fmt.Sprintf("%d conversations", len(list))
	if r.query != "" {
		title += fmt.Sprintf(" matching %q", r.query)
	}
	header.Fprintln(w, title)

	for _, c := range list {
		name := c.Name
		if c.IsGroup {
			name = "# " + name
		}
		line := "  " + name
		if c.UnreadCount > 0 {
			line = "  " + color.New(color.Bold).Sprint(name) + " " + color.YellowString("(%d)", c.UnreadCount)
		}
		if c.LastMessage != nil {
			line += color.HiBlackString("  %s", notify.Truncate(strings.ReplaceAll(*c.LastMessage, "\n", " "), 40))
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
}
