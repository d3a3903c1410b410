// Package notify turns message-store inserts into user-visible alerts.
//
// For every inserted message the dispatcher drops self-authored messages,
// resolves the owning conversation, checks that the current user is a
// member, and then hands a styled Notification to a Sink. Lookup failures
// drop the alert; they are logged and never reach the user.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/ageniuscoder/mmchat/convsync/internal/model"
	"github.com/ageniuscoder/mmchat/convsync/internal/storage"
)

// Lookup answers the two gates that guard every notification.
type Lookup interface {
	ConversationByID(ctx context.Context, id string) (model.Conversation, error)
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
}

type Config struct {
	UserID         string
	DirectDuration time.Duration
	GroupDuration  time.Duration
	PreviewLength  int
}

// Notification is an advisory alert for one message.
type Notification struct {
	MessageID        string
	ConversationID   string
	ConversationName string
	SenderID         string
	SenderName       string
	Title            string
	Body             string
	Style            Style
	CreatedAt        time.Time
}

type Dispatcher struct {
	cfg    Config
	lookup Lookup
	sink   Sink
	logger *slog.Logger
}

func NewDispatcher(cfg Config, lookup Lookup, sink Sink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PreviewLength <= 0 {
		cfg.PreviewLength = DefaultPreviewLength
	}
	return &Dispatcher{
		cfg:    cfg,
		lookup: lookup,
		sink:   sink,
		logger: logger.With("component", "notify", "user_id", cfg.UserID),
	}
}

// Handle decides whether msg deserves a notification and builds it.
func (d *Dispatcher) Handle(ctx context.Context, msg model.InsertedMessage) (Notification, bool) {
	logger := d.logger.With("message_id", msg.ID, "conversation_id", msg.ConversationID)

	if msg.SenderID == d.cfg.UserID {
		return Notification{}, false
	}

	conv, err := d.lookup.ConversationByID(ctx, msg.ConversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Debug("conversation not found, not notifying")
		} else {
			logger.Warn("conversation lookup failed, not notifying", "error", err)
		}
		return Notification{}, false
	}

	member, err := d.lookup.IsMember(ctx, msg.ConversationID, d.cfg.UserID)
	if err != nil {
		logger.Warn("membership lookup failed, not notifying", "error", err)
		return Notification{}, false
	}
	if !member {
		logger.Debug("not a member, not notifying")
		return Notification{}, false
	}

	sender := msg.SenderName
	if sender == "" {
		sender = "Someone"
	}

	n := Notification{
		MessageID:        msg.ID,
		ConversationID:   msg.ConversationID,
		ConversationName: conv.Name,
		SenderID:         msg.SenderID,
		SenderName:       sender,
		Body:             Truncate(msg.Content, d.cfg.PreviewLength),
		CreatedAt:        msg.CreatedAt,
	}
	if conv.IsGroup {
		n.Style = GroupMessageStyle(d.cfg.GroupDuration)
		n.Title = fmt.Sprintf("%s in %s", sender, conv.Name)
	} else {
		n.Style = DirectMessageStyle(d.cfg.DirectDuration)
		n.Title = sender
	}
	return n, true
}

// Run consumes feed until it closes or ctx is done, delivering every
// accepted notification to the sink.
func (d *Dispatcher) Run(ctx context.Context, feed <-chan model.InsertedMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-feed:
			if !ok {
				return nil
			}
			n, ok := d.Handle(ctx, msg)
			if !ok {
				continue
			}
			if err := d.sink.Notify(ctx, n); err != nil {
				d.logger.Warn("notification delivery failed", "message_id", msg.ID, "error", err)
			}
		}
	}
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n == 1 {
		return "…"
	}
	return string(runes[:n-1]) + "…"
}
