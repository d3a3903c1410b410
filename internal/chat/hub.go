// Package chat is the server end of the event stream: it upgrades
// authenticated connections, keeps per-user rooms, answers client requests
// and fans message-store inserts out to the rooms of every participant.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ageniuscoder/mmchat/convsync/internal/model"
)

var (
	ErrForbiddenRoom = errors.New("chat: cannot join another user's room")
	ErrHubStopped    = errors.New("chat: hub stopped")
	ErrGone          = errors.New("chat: connection is no longer registered")
)

// Store is what the hub needs from persistence.
type Store interface {
	ConversationByID(ctx context.Context, id string) (model.Conversation, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
	MarkRead(ctx context.Context, conversationID, userID string) error
	LeaveConversation(ctx context.Context, conversationID, userID string) error
}

type membership struct {
	client *Client
	room   string
	join   bool
	reply  chan error
}

type delivery struct {
	room   string
	frames [][]byte
}

// Hub owns every connection and room. All of its maps are touched only by
// the Run goroutine.
type Hub struct {
	store  Store
	logger *slog.Logger

	register   chan *Client
	unregister chan *Client
	members    chan membership
	deliver    chan delivery
	done       chan struct{}

	clients map[*Client]bool
	// room key -> set of client connections (multi-tab / multi-device)
	rooms map[string]map[*Client]bool
}

func NewHub(store Store, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		store:      store,
		logger:     logger.With("component", "hub"),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		members:    make(chan membership),
		deliver:    make(chan delivery, 256),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
	}
}

// Run serves the hub until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			c.closeSend()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = true
			h.logger.Debug("client connected", "user_id", c.UserID, "conn", c.ID)
		case c := <-h.unregister:
			h.drop(c)
		case m := <-h.members:
			m.reply <- h.membership(m)
		case d := <-h.deliver:
			for c := range h.rooms[d.room] {
				for _, f := range d.frames {
					if !c.enqueue(f) {
						h.logger.Warn("dropped slow client", "user_id", c.UserID, "conn", c.ID)
						h.drop(c)
						break
					}
				}
			}
		}
	}
}

func (h *Hub) membership(m membership) error {
	if !m.join {
		h.removeFromRoom(m.client, m.room)
		return nil
	}
	if !h.clients[m.client] {
		return ErrGone
	}
	if m.room != model.RoomKey(m.client.UserID) {
		return ErrForbiddenRoom
	}
	if h.rooms[m.room] == nil {
		h.rooms[m.room] = make(map[*Client]bool)
	}
	h.rooms[m.room][m.client] = true
	m.client.rooms[m.room] = true
	return nil
}

func (h *Hub) removeFromRoom(c *Client, room string) {
	delete(c.rooms, room)
	if set, ok := h.rooms[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) drop(c *Client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		h.removeFromRoom(c, room)
	}
	c.closeSend()
	h.logger.Debug("client disconnected", "user_id", c.UserID, "conn", c.ID)
}

func (h *Hub) request(m membership) error {
	m.reply = make(chan error, 1)
	select {
	case h.members <- m:
	case <-h.done:
		return ErrHubStopped
	}
	return <-m.reply
}

func (h *Hub) join(c *Client, room string) error {
	return h.request(membership{client: c, room: room, join: true})
}

func (h *Hub) leave(c *Client, room string) error {
	return h.request(membership{client: c, room: room})
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// SendToRoom queues frames for every connection in room.
func (h *Hub) SendToRoom(room string, frames ...[]byte) {
	select {
	case h.deliver <- delivery{room: room, frames: frames}:
	case <-h.done:
	}
}

// PublishInserted pushes a message event and the recipient's fresh unread
// count to the room of every participant except the sender.
func (h *Hub) PublishInserted(ctx context.Context, msg model.InsertedMessage) error {
	conv, err := h.store.ConversationByID(ctx, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("loading conversation %s: %w", msg.ConversationID, err)
	}

	ev := model.MessageEvent{
		ConversationID:   msg.ConversationID,
		SenderID:         msg.SenderID,
		Content:          msg.Content,
		CreatedAt:        msg.CreatedAt,
		ConversationName: conv.Name,
	}
	if !conv.IsGroup {
		ev.ConversationName = msg.SenderName
	}
	msgFrame, err := encode(model.EventMessage, ev)
	if err != nil {
		return err
	}

	for _, p := range conv.Participants {
		if p.ID == msg.SenderID {
			continue
		}
		frames := [][]byte{msgFrame}
		n, err := h.store.UnreadCount(ctx, msg.ConversationID, p.ID)
		if err != nil {
			h.logger.Warn("unread count failed", "conversation_id", msg.ConversationID, "user_id", p.ID, "error", err)
		} else if f, err := encode(model.EventUnreadCount, model.UnreadCountEvent{ConversationID: msg.ConversationID, UnreadCount: n}); err == nil {
			frames = append(frames, f)
		}
		h.SendToRoom(model.RoomKey(p.ID), frames...)
	}
	return nil
}

// Fanout publishes every message from feed until it closes or ctx ends.
func (h *Hub) Fanout(ctx context.Context, feed <-chan model.InsertedMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-feed:
			if !ok {
				return nil
			}
			if err := h.PublishInserted(ctx, msg); err != nil {
				h.logger.Warn("publish failed", "message_id", msg.ID, "error", err)
			}
		}
	}
}
