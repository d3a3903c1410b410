// Package reconcile owns the authoritative in-memory conversation list of a
// view and merges fetch snapshots, push events and local actions into it.
//
// Conflicts are resolved last-write-wins in processing order. Local fields
// (unread count, last message preview and time) survive a snapshot merge so
// a stale or narrower fetch cannot clobber fresher push-delivered state, and
// entries are only ever removed by a delete, never because a refetch
// omitted them.
package reconcile

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ageniuscoder/mmchat/convsync/internal/channel"
	"github.com/ageniuscoder/mmchat/convsync/internal/model"
)

// Emitter propagates local intent to the server.
type Emitter interface {
	Emit(event string, payload any, ack channel.AckFunc) error
}

// Reconciler is safe for concurrent use; every mutation is applied under
// one lock, which gives the single processing order the merge rules assume.
type Reconciler struct {
	mu       sync.Mutex
	list     []model.Conversation
	disposed bool

	watchers map[int]func([]model.Conversation)
	nextID   int
	version  uint64

	// delivery state, guarded by pubMu
	pubMu     sync.Mutex
	pending   []model.Conversation
	pendingV  uint64
	delivered uint64
	draining  bool

	emitter Emitter
	logger  *slog.Logger
}

// New creates an empty reconciler. Pass a nil logger for the default.
func New(emitter Emitter, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		list:     []model.Conversation{},
		watchers: make(map[int]func([]model.Conversation)),
		emitter:  emitter,
		logger:   logger.With("component", "reconciler"),
	}
}

// MergeSnapshot folds a fetched list into the current one. Server-owned
// fields come from the snapshot; unread count, last message and last
// message time keep their local value when it is set. Entries missing from
// the snapshot are retained ahead of the snapshot entries, which follow in
// snapshot order.
func (r *Reconciler) MergeSnapshot(snapshot []model.Conversation) {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		r.logger.Debug("snapshot discarded after dispose", "size", len(snapshot))
		return
	}

	local := make(map[string]model.Conversation, len(r.list))
	for _, c := range r.list {
		local[c.ID] = c
	}

	merged := make([]model.Conversation, 0, len(snapshot))
	seen := make(map[string]int, len(snapshot))
	for _, in := range snapshot {
		if in.ID == "" {
			r.logger.Warn("snapshot entry without id skipped", "name", in.Name)
			continue
		}
		if at, dup := seen[in.ID]; dup {
			merged[at] = mergeRecord(merged[at], in)
			continue
		}
		rec := in.Clone()
		if existing, ok := local[in.ID]; ok {
			rec = mergeRecord(existing, in)
		}
		if rec.UnreadCount < 0 {
			rec.UnreadCount = 0
		}
		seen[in.ID] = len(merged)
		merged = append(merged, rec)
	}

	retained := make([]model.Conversation, 0)
	for _, c := range r.list {
		if _, ok := seen[c.ID]; !ok {
			retained = append(retained, c)
		}
	}
	r.list = append(retained, merged...)
	out, v := r.snapshotLocked()
	r.mu.Unlock()

	r.logger.Debug("snapshot merged", "incoming", len(snapshot), "retained", len(retained), "total", len(out))
	r.publish(out, v)
}

// mergeRecord keeps the incoming server fields and the local preview,
// timestamp and unread count whenever those are set locally. is_group is a
// server field: the server never changes it after creation, so the only
// time a snapshot disagrees with the local value is when promoting a stub.
func mergeRecord(local, incoming model.Conversation) model.Conversation {
	out := incoming.Clone()
	if local.LastMessage != nil {
		v := *local.LastMessage
		out.LastMessage = &v
	}
	if local.LastMessageTime != nil {
		v := *local.LastMessageTime
		out.LastMessageTime = &v
	}
	out.UnreadCount = local.UnreadCount
	return out
}

// ApplyMessageEvent records a new message: the preview and timestamp are
// replaced (a zero timestamp keeps the old one) and the unread count goes up by exactly one, even for the
// conversation currently open. An unknown id becomes a stub at the front.
func (r *Reconciler) ApplyMessageEvent(ev model.MessageEvent) {
	if ev.ConversationID == "" {
		r.logger.Warn("message event without conversation id dropped")
		return
	}

	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	content := ev.Content
	var at *time.Time
	if !ev.CreatedAt.IsZero() {
		t := ev.CreatedAt
		at = &t
	}

	if i := r.indexLocked(ev.ConversationID); i >= 0 {
		c := &r.list[i]
		c.LastMessage = &content
		if at != nil {
			c.LastMessageTime = at
		}
		c.UnreadCount++
	} else {
		stub := model.NewStub(ev.ConversationID, ev.ConversationName, &content, at, 1)
		r.list = append([]model.Conversation{stub}, r.list...)
		r.logger.Debug("stub created from message", "conversation_id", ev.ConversationID)
	}
	out, v := r.snapshotLocked()
	r.mu.Unlock()

	r.publish(out, v)
}

// ApplyUnreadCountEvent sets the unread count to the server's value. An
// unknown id becomes a stub at the front unless the count is zero.
func (r *Reconciler) ApplyUnreadCountEvent(ev model.UnreadCountEvent) {
	if ev.ConversationID == "" {
		r.logger.Warn("unread count event without conversation id dropped")
		return
	}
	count := ev.UnreadCount
	if count < 0 {
		count = 0
	}

	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	if i := r.indexLocked(ev.ConversationID); i >= 0 {
		r.list[i].UnreadCount = count
	} else if count > 0 {
		stub := model.NewStub(ev.ConversationID, "", nil, nil, count)
		r.list = append([]model.Conversation{stub}, r.list...)
		r.logger.Debug("stub created from unread count", "conversation_id", ev.ConversationID, "count", count)
	} else {
		r.mu.Unlock()
		return
	}
	out, v := r.snapshotLocked()
	r.mu.Unlock()

	r.publish(out, v)
}

// Select marks a conversation read locally and tells the server without
// waiting for an answer. It reports whether the conversation was known.
func (r *Reconciler) Select(id string) bool {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return false
	}
	i := r.indexLocked(id)
	var out []model.Conversation
	var v uint64
	if i >= 0 {
		r.list[i].UnreadCount = 0
		out, v = r.snapshotLocked()
	}
	r.mu.Unlock()

	if out != nil {
		r.publish(out, v)
	}
	r.emit(model.EventMarkConversationRead, model.MarkReadRequest{ConversationID: id}, "conversation_id", id)
	return i >= 0
}

// Delete removes the conversation immediately and asks the server to
// delete it. There is no rollback: if the server keeps the conversation,
// the next snapshot brings it back.
func (r *Reconciler) Delete(id string) bool {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return false
	}
	i := r.indexLocked(id)
	var out []model.Conversation
	var v uint64
	if i >= 0 {
		r.list = append(r.list[:i:i], r.list[i+1:]...)
		out, v = r.snapshotLocked()
	}
	r.mu.Unlock()

	if out != nil {
		r.publish(out, v)
	}
	r.emit(model.EventDeleteConversation, id, "conversation_id", id)
	return i >= 0
}

func (r *Reconciler) emit(event string, payload any, attrs ...any) {
	if r.emitter == nil {
		return
	}
	logger := r.logger.With(attrs...).With("event", event)
	err := r.emitter.Emit(event, payload, func(ack channel.Ack) {
		if ack.Err != nil {
			logger.Warn("server rejected request", "error", ack.Err)
			return
		}
		logger.Debug("server acknowledged request")
	})
	if err != nil {
		logger.Warn("emit failed", "error", err)
	}
}

// Conversations returns a copy of the current list.
func (r *Reconciler) Conversations() []model.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyLocked()
}

// Get returns a copy of one conversation.
func (r *Reconciler) Get(id string) (model.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(id); i >= 0 {
		return r.list[i].Clone(), true
	}
	return model.Conversation{}, false
}

// OnChange registers fn to receive the list after every mutation. The
// returned function removes it.
func (r *Reconciler) OnChange(fn func([]model.Conversation)) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.watchers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.watchers, id)
		r.mu.Unlock()
	}
}

// Dispose stops the reconciler. Later operations, including late snapshot
// results, are ignored.
func (r *Reconciler) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disposed = true
	r.watchers = make(map[int]func([]model.Conversation))
}

func (r *Reconciler) Disposed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disposed
}

// publish hands list to the watchers. Lists are numbered when taken under
// r.mu; a list older than one already queued or delivered is dropped, so
// watchers always end on the newest state. One goroutine delivers at a
// time and the others leave their list for it, which also makes a mutation
// from inside a watcher safe.
func (r *Reconciler) publish(list []model.Conversation, v uint64) {
	r.pubMu.Lock()
	if v <= r.delivered || v <= r.pendingV {
		r.pubMu.Unlock()
		return
	}
	r.pending, r.pendingV = list, v
	if r.draining {
		r.pubMu.Unlock()
		return
	}
	r.draining = true
	defer func() {
		r.draining = false
		r.pubMu.Unlock()
	}()

	for r.pending != nil {
		next := r.pending
		r.pending = nil
		r.delivered = r.pendingV
		r.pubMu.Unlock()

		for _, fn := range r.watcherList() {
			fn(next)
		}
		r.pubMu.Lock()
	}
}

func (r *Reconciler) watcherList() []func([]model.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fns := make([]func([]model.Conversation), 0, len(r.watchers))
	for _, fn := range r.watchers {
		fns = append(fns, fn)
	}
	return fns
}

func (r *Reconciler) indexLocked(id string) int {
	for i := range r.list {
		if r.list[i].ID == id {
			return i
		}
	}
	return -1
}

// snapshotLocked copies the list and numbers the copy for publish.
func (r *Reconciler) snapshotLocked() ([]model.Conversation, uint64) {
	r.version++
	return r.copyLocked(), r.version
}

func (r *Reconciler) copyLocked() []model.Conversation {
	out := make([]model.Conversation, len(r.list))
	for i, c := range r.list {
		out[i] = c.Clone()
	}
	return out
}
