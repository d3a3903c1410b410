// Package inbox wires one conversation-list view to the shared event
// channel: it owns the view's reconciler, room membership, subscriptions
// and search query for as long as the view is mounted.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/ageniuscoder/mmchat/convsync/internal/channel"
	"github.com/ageniuscoder/mmchat/convsync/internal/filter"
	"github.com/ageniuscoder/mmchat/convsync/internal/model"
	"github.com/ageniuscoder/mmchat/convsync/internal/reconcile"
	"github.com/ageniuscoder/mmchat/convsync/internal/rooms"
	"github.com/ageniuscoder/mmchat/convsync/internal/utils"
)

var ErrClosed = errors.New("inbox: view closed")

// Fetcher loads a conversation-list snapshot.
type Fetcher interface {
	Conversations(ctx context.Context) ([]model.Conversation, error)
}

type Options struct {
	UserID  string
	Channel channel.Channel
	Fetcher Fetcher
	Logger  *slog.Logger
}

type View struct {
	rec     *reconcile.Reconciler
	rooms   *rooms.Manager
	live    *filter.Live
	fetcher Fetcher
	logger  *slog.Logger

	mu     sync.Mutex
	unsubs []func()
	closed bool
	loaded chan struct{}
}

// Mount subscribes to push events, joins the user's room and starts the
// initial fetch in the background. A fetch that completes after Close is
// discarded.
func Mount(ctx context.Context, opts Options) (*View, error) {
	if opts.Channel == nil {
		return nil, errors.New("inbox: channel is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("inbox: fetcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "inbox", "user_id", opts.UserID)

	rec := reconcile.New(opts.Channel, logger)
	v := &View{
		rec:     rec,
		rooms:   rooms.NewManager(opts.Channel, logger),
		live:    filter.NewLive(rec.Conversations),
		fetcher: opts.Fetcher,
		logger:  logger,
		loaded:  make(chan struct{}),
	}

	v.unsubs = append(v.unsubs,
		opts.Channel.Subscribe(model.EventMessage, v.onMessage),
		opts.Channel.Subscribe(model.EventUnreadCount, v.onUnreadCount),
	)
	v.rooms.Activate(opts.UserID)

	go func() {
		defer close(v.loaded)
		list, err := v.fetcher.Conversations(ctx)
		if err != nil {
			v.logger.Warn("initial fetch failed", "error", err)
			return
		}
		if v.rec.Disposed() {
			v.logger.Debug("discarding fetch for closed view")
			return
		}
		v.rec.MergeSnapshot(list)
	}()
	return v, nil
}

func (v *View) onMessage(data json.RawMessage) {
	var ev model.MessageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		v.logger.Warn("dropping malformed message event", "error", err)
		return
	}
	if err := utils.Validate(ev); err != nil {
		v.logger.Warn("dropping invalid message event", "error", err)
		return
	}
	v.rec.ApplyMessageEvent(ev)
}

func (v *View) onUnreadCount(data json.RawMessage) {
	var ev model.UnreadCountEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		v.logger.Warn("dropping malformed unread count event", "error", err)
		return
	}
	if ev.ConversationID == "" {
		v.logger.Warn("dropping unread count event without conversation id")
		return
	}
	v.rec.ApplyUnreadCountEvent(ev)
}

// Loaded is closed once the initial fetch has finished, whatever its outcome.
func (v *View) Loaded() <-chan struct{} { return v.loaded }

// Refresh fetches a snapshot and merges it before returning.
func (v *View) Refresh(ctx context.Context) error {
	if v.isClosed() {
		return ErrClosed
	}
	list, err := v.fetcher.Conversations(ctx)
	if err != nil {
		return err
	}
	v.rec.MergeSnapshot(list)
	return nil
}

// Select marks the conversation read locally and on the server.
func (v *View) Select(id string) bool { return v.rec.Select(id) }

// Delete removes the conversation locally and asks the server to delete it.
func (v *View) Delete(id string) bool { return v.rec.Delete(id) }

// Search sets the filter query; Results reflects it immediately.
func (v *View) Search(query string) { v.live.SetQuery(query) }

func (v *View) Query() string { return v.live.Query() }

// Results is the conversation list filtered by the current query.
func (v *View) Results() []model.Conversation { return v.live.Results() }

// Conversations is the unfiltered list.
func (v *View) Conversations() []model.Conversation { return v.rec.Conversations() }

// OnChange calls fn with the unfiltered list after every change.
func (v *View) OnChange(fn func([]model.Conversation)) func() { return v.rec.OnChange(fn) }

func (v *View) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Close unsubscribes, leaves the room and disposes the reconciler. It is
// safe to call more than once.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	unsubs := v.unsubs
	v.unsubs = nil
	v.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	v.rooms.Deactivate()
	v.rec.Dispose()
}
