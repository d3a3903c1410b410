// Package model holds the conversation-list shapes shared by the server,
// the event channel and the client-side reconciler.
package model

import "time"

// Event names carried on the shared event connection.
const (
	EventJoin                 = "join"
	EventLeave                = "leave"
	EventMessage              = "message"
	EventUnreadCount          = "conversationUnreadCount"
	EventMarkConversationRead = "markConversationRead"
	EventDeleteConversation   = "deleteConversation"
	EventAck                  = "ack"
)

// StubName is shown for a conversation known only from a push event.
const StubName = "New conversation"

type Participant struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Email  string  `json:"email"`
	Avatar *string `json:"avatar,omitempty"`
}

// Conversation is one entry of a user's conversation list.
// LastMessage and LastMessageTime are nil until a message is known.
type Conversation struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	IsGroup         bool          `json:"is_group"`
	Participants    []Participant `json:"participants"`
	Avatar          *string       `json:"avatar,omitempty"`
	LastMessage     *string       `json:"last_message"`
	LastMessageTime *time.Time    `json:"last_message_time"`
	UnreadCount     int           `json:"unread_count"`
}

// Clone returns a copy that shares no pointers with c.
func (c Conversation) Clone() Conversation {
	out := c
	if c.Participants != nil {
		out.Participants = make([]Participant, len(c.Participants))
		for i, p := range c.Participants {
			if p.Avatar != nil {
				p.Avatar = ptr(*p.Avatar)
			}
			out.Participants[i] = p
		}
	}
	if c.Avatar != nil {
		out.Avatar = ptr(*c.Avatar)
	}
	if c.LastMessage != nil {
		out.LastMessage = ptr(*c.LastMessage)
	}
	if c.LastMessageTime != nil {
		out.LastMessageTime = ptr(*c.LastMessageTime)
	}
	return out
}

// NewStub builds the placeholder entry for a conversation id that arrived
// in an event before any snapshot contained it.
func NewStub(id, name string, preview *string, at *time.Time, unread int) Conversation {
	if name == "" {
		name = StubName
	}
	return Conversation{
		ID:              id,
		Name:            name,
		IsGroup:         false,
		Participants:    []Participant{},
		LastMessage:     preview,
		LastMessageTime: at,
		UnreadCount:     unread,
	}
}

// MessageEvent is the payload of a "message" push.
type MessageEvent struct {
	ConversationID   string    `json:"conversation_id" validate:"required"`
	SenderID         string    `json:"sender_id,omitempty"`
	Content          string    `json:"content"`
	CreatedAt        time.Time `json:"created_at"`
	ConversationName string    `json:"conversation_name,omitempty"`
}

// UnreadCountEvent is the payload of a "conversationUnreadCount" push.
type UnreadCountEvent struct {
	ConversationID string `json:"conversationId" validate:"required"`
	UnreadCount    int    `json:"unread_count" validate:"gte=0"`
}

// MarkReadRequest is the payload of a "markConversationRead" emit.
type MarkReadRequest struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

// InsertedMessage is one row delivered by the message-store change feed.
type InsertedMessage struct {
	Seq            int64     `json:"-"`
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// RoomKey names the per-user notification room.
func RoomKey(userID string) string {
	return "user-" + userID
}

func ptr[T any](v T) *T {
	return &v
}
