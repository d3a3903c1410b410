package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/ageniuscoder/mmchat/convsync/internal/model"
	"github.com/ageniuscoder/mmchat/convsync/internal/storage"
)

// Channel is the NOTIFY channel raised by the messages insert trigger.
const Channel = "message_inserted"

// recentWindow bounds how many delivered sequence numbers are remembered
// for deduplication.
const recentWindow = 4096

type source interface {
	storage.Tailer
	MessageBySeq(ctx context.Context, seq int64) (model.InsertedMessage, error)
}

// NotifyFeed turns trigger notifications into message inserts. Each
// notification carries the row's seq and is loaded by it, so rows arrive
// in commit order even when a later seq commits first. After the listener
// reconnects (a nil notification) the feed catches up from the highest seq
// it has seen, since notifications raised while disconnected are gone.
type NotifyFeed struct {
	listener *pq.Listener
	store    source
	out      chan model.InsertedMessage
	logger   *slog.Logger

	last   int64
	recent map[int64]struct{}
}

func (s *Postgres) Listen(ctx context.Context, logger *slog.Logger) (*NotifyFeed, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pg-feed")

	listener := pq.NewListener(s.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("listener event", "event", ev, "error", err)
		}
	})
	if err := listener.Listen(Channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen %s: %w", Channel, err)
	}

	store := s.Store()
	last, err := store.MaxSeq(ctx)
	if err != nil {
		listener.Close()
		return nil, err
	}

	f := newNotifyFeed(store, last, logger)
	f.listener = listener
	go f.run(ctx)
	return f, nil
}

func newNotifyFeed(store source, last int64, logger *slog.Logger) *NotifyFeed {
	return &NotifyFeed{
		store:  store,
		out:    make(chan model.InsertedMessage, 64),
		logger: logger,
		last:   last,
		recent: make(map[int64]struct{}),
	}
}

func (f *NotifyFeed) Messages() <-chan model.InsertedMessage { return f.out }

func (f *NotifyFeed) run(ctx context.Context) {
	defer close(f.out)
	defer f.listener.Close()

	// pq recommends pinging an idle listener now and then.
	idle := time.NewTicker(90 * time.Second)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-f.listener.Notify:
			if !f.handle(ctx, n) {
				return
			}
		case <-idle.C:
			go f.listener.Ping()
		}
	}
}

// handle delivers what one notification points at. It reports false when
// ctx ended mid-send.
func (f *NotifyFeed) handle(ctx context.Context, n *pq.Notification) bool {
	if n == nil {
		return f.catchUp(ctx)
	}
	seq, err := strconv.ParseInt(n.Extra, 10, 64)
	if err != nil {
		f.logger.Warn("bad notification payload, catching up", "payload", n.Extra, "error", err)
		return f.catchUp(ctx)
	}
	if f.seen(seq) {
		return true
	}
	msg, err := f.store.MessageBySeq(ctx, seq)
	if errors.Is(err, storage.ErrNotFound) {
		// deleted with its conversation before we got to it
		return true
	}
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		f.logger.Warn("loading notified message failed", "seq", seq, "error", err)
		return true
	}
	return f.send(ctx, msg)
}

func (f *NotifyFeed) catchUp(ctx context.Context) bool {
	for {
		batch, err := f.store.MessagesAfter(ctx, f.last, 100)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			f.logger.Warn("catching up failed", "after", f.last, "error", err)
			return true
		}
		for _, m := range batch {
			if f.seen(m.Seq) {
				continue
			}
			if !f.send(ctx, m) {
				return false
			}
		}
		if len(batch) < 100 {
			return true
		}
		f.last = batch[len(batch)-1].Seq
	}
}

func (f *NotifyFeed) send(ctx context.Context, m model.InsertedMessage) bool {
	select {
	case f.out <- m:
	case <-ctx.Done():
		return false
	}
	f.recent[m.Seq] = struct{}{}
	if m.Seq > f.last {
		f.last = m.Seq
	}
	if len(f.recent) > recentWindow {
		for seq := range f.recent {
			if seq <= f.last-recentWindow {
				delete(f.recent, seq)
			}
		}
	}
	return true
}

func (f *NotifyFeed) seen(seq int64) bool {
	_, ok := f.recent[seq]
	return ok
}
