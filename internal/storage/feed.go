package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/ageniuscoder/mmchat/convsync/internal/model"
)

// Feed delivers message-store inserts in commit order.
type Feed interface {
	Messages() <-chan model.InsertedMessage
}

// PollFeed tails the messages table by sequence number.
type PollFeed struct {
	store    *Store
	interval time.Duration
	out      chan model.InsertedMessage
	logger   *slog.Logger
}

// NewPollFeed starts tailing after the current newest message. The channel
// closes when ctx is done.
func NewPollFeed(ctx context.Context, store *Store, interval time.Duration, logger *slog.Logger) (*PollFeed, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	last, err := store.MaxSeq(ctx)
	if err != nil {
		return nil, err
	}
	f := &PollFeed{
		store:    store,
		interval: interval,
		out:      make(chan model.InsertedMessage, 64),
		logger:   logger.With("component", "feed"),
	}
	go f.run(ctx, last)
	return f, nil
}

func (f *PollFeed) Messages() <-chan model.InsertedMessage { return f.out }

func (f *PollFeed) run(ctx context.Context, last int64) {
	defer close(f.out)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var ok bool
		last, ok = Drain(ctx, f.store, last, f.out, f.logger)
		if !ok {
			return
		}
	}
}

// Tailer reads the message store in sequence order.
type Tailer interface {
	MessagesAfter(ctx context.Context, after int64, limit int) ([]model.InsertedMessage, error)
}

// Drain sends every message after last to out and returns the new high
// watermark. It reports false when ctx ended mid-send. Sequence numbers are
// only gap-free at read time when inserts commit in seq order, which holds
// for sqlite's single writer.
func Drain(ctx context.Context, store Tailer, last int64, out chan<- model.InsertedMessage, logger *slog.Logger) (int64, bool) {
	for {
		batch, err := store.MessagesAfter(ctx, last, 100)
		if err != nil {
			if ctx.Err() != nil {
				return last, false
			}
			logger.Warn("polling messages failed", "after", last, "error", err)
			return last, true
		}
		for _, m := range batch {
			select {
			case out <- m:
				last = m.Seq
			case <-ctx.Done():
				return last, false
			}
		}
		if len(batch) < 100 {
			return last, true
		}
	}
}
