package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ageniuscoder/mmchat/convsync/internal/model"
	"github.com/ageniuscoder/mmchat/convsync/internal/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 256
	opTimeout      = 10 * time.Second
)

type Client struct {
	ID     string
	Hub    *Hub
	Conn   *websocket.Conn
	UserID string

	mu     sync.Mutex
	send   chan []byte
	closed bool

	// owned by the hub goroutine
	rooms map[string]bool
}

func newClient(h *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		ID:     uuid.NewString(),
		Hub:    h,
		Conn:   conn,
		UserID: userID,
		send:   make(chan []byte, sendBuffer),
		rooms:  make(map[string]bool),
	}
}

// enqueue queues a frame without blocking. It reports false when the
// buffer is full or the client is gone.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// start runs the pumps; the connection is closed when either one ends.
func (c *Client) start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.remove(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.Hub.logger.Debug("read failed", "user_id", c.UserID, "error", err)
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))

		var env model.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.Hub.logger.Debug("dropping undecodable frame", "user_id", c.UserID, "error", err)
			continue
		}
		c.handle(env)
	}
}

// handle answers one client request. Requests carrying an ack id always get
// an ack frame back, with the error text when the request failed.
func (c *Client) handle(env model.Envelope) {
	logger := c.Hub.logger.With("user_id", c.UserID, "event", env.Event)
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var err error
	switch env.Event {
	case model.EventJoin, model.EventLeave:
		var room string
		if err = json.Unmarshal(env.Data, &room); err != nil {
			err = fmt.Errorf("room must be a string: %w", err)
			break
		}
		if env.Event == model.EventJoin {
			err = c.Hub.join(c, room)
		} else {
			err = c.Hub.leave(c, room)
		}

	case model.EventMarkConversationRead:
		var req model.MarkReadRequest
		if err = json.Unmarshal(env.Data, &req); err != nil {
			break
		}
		if err = utils.Validate(req); err != nil {
			break
		}
		if err = c.Hub.store.MarkRead(ctx, req.ConversationID, c.UserID); err != nil {
			break
		}
		frame, ferr := encode(model.EventUnreadCount, model.UnreadCountEvent{ConversationID: req.ConversationID})
		if ferr == nil {
			c.Hub.SendToRoom(model.RoomKey(c.UserID), frame)
		}

	case model.EventDeleteConversation:
		var id string
		if err = json.Unmarshal(env.Data, &id); err != nil {
			break
		}
		if id == "" {
			err = errors.New("conversation id is required")
			break
		}
		err = c.Hub.store.LeaveConversation(ctx, id, c.UserID)

	default:
		err = fmt.Errorf("unknown event %q", env.Event)
	}

	if err != nil {
		logger.Debug("request failed", "error", err)
	}
	if env.Ack != "" && !c.enqueue(ackFrame(env.Ack, nil, err)) {
		logger.Warn("could not queue ack")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
