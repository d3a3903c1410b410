package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ageniuscoder/mmchat/convsync/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Options tune Dial. The zero value is usable.
type Options struct {
	Dialer *websocket.Dialer
	Header http.Header
	Logger *slog.Logger
}

// Conn is one physical event connection. It is shared process-wide and is
// safe for concurrent Subscribe and Emit calls. Frames are dispatched one
// at a time, in arrival order, from a single read goroutine.
type Conn struct {
	id     string
	ws     *websocket.Conn
	logger *slog.Logger
	reg    *registry
	send   chan []byte

	pendingMu sync.Mutex
	pending   map[string]AckFunc

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// URL turns a server base URL (http, https, ws or wss) into the event
// endpoint URL carrying token.
func URL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	}
	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens the event connection to base authenticated with token.
func Dial(ctx context.Context, base, token string, opts Options) (*Conn, error) {
	wsURL, err := URL(base, token)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, wsURL, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return newConn(ws, opts.Logger), nil
}

func newConn(ws *websocket.Conn, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	c := &Conn{
		id:      id,
		ws:      ws,
		logger:  logger.With("component", "channel", "conn_id", id),
		reg:     newRegistry(),
		send:    make(chan []byte, sendBuffer),
		pending: make(map[string]AckFunc),
		done:    make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()
	return c
}

// ID identifies this connection for logging and room bookkeeping.
func (c *Conn) ID() string { return c.id }

// Done is closed once the connection has shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection shut down, nil while it is open or after
// a clean Close.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Subscribe registers h for event. Registrations are not deduplicated:
// callers must call the returned function on teardown.
func (c *Conn) Subscribe(event string, h Handler) func() {
	return c.reg.add(event, h)
}

// Handlers reports how many handlers are registered for event.
func (c *Conn) Handlers(event string) int {
	return c.reg.count(event)
}

// Emit queues event for the server without waiting. When ack is non-nil the
// frame carries a correlation id and ack runs once the server answers or
// the connection closes.
func (c *Conn) Emit(event string, payload any, ack AckFunc) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}
	env := model.Envelope{Event: event, Data: data}
	if ack != nil {
		env.Ack = uuid.NewString()
		c.pendingMu.Lock()
		c.pending[env.Ack] = ack
		c.pendingMu.Unlock()
	}
	frame, err := json.Marshal(env)
	if err != nil {
		c.dropPending(env.Ack)
		return fmt.Errorf("encoding %s frame: %w", event, err)
	}

	select {
	case <-c.done:
		c.dropPending(env.Ack)
		return ErrClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.dropPending(env.Ack)
		return ErrBufferFull
	}
}

// Close shuts the connection down. Pending acknowledgements resolve with
// ErrClosed. Safe to call more than once.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = cause
		c.errMu.Unlock()

		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = c.ws.Close()

		c.pendingMu.Lock()
		pending := c.pending
		c.pending = make(map[string]AckFunc)
		c.pendingMu.Unlock()
		for _, ack := range pending {
			ack(Ack{Err: ErrClosed})
		}

		if cause != nil {
			c.logger.Warn("event connection lost", "error", cause)
		} else {
			c.logger.Debug("event connection closed")
		}
	})
}

func (c *Conn) dropPending(id string) {
	if id == "" {
		return
	}
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Conn) resolve(env model.Envelope) {
	c.pendingMu.Lock()
	ack, ok := c.pending[env.Ack]
	delete(c.pending, env.Ack)
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Debug("ack for unknown request", "ack", env.Ack)
		return
	}
	res := Ack{Data: env.Data}
	if env.Error != "" {
		res.Err = errors.New(env.Error)
	}
	ack(res)
}

func (c *Conn) readPump() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				c.shutdown(nil)
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.shutdown(nil)
				} else {
					c.shutdown(err)
				}
			}
			return
		}
		// Any frame proves the peer is alive.
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var env model.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.logger.Debug("dropping undecodable frame", "error", err)
			continue
		}
		if env.Event == model.EventAck {
			c.resolve(env)
			continue
		}
		if n := c.reg.dispatch(env.Event, env.Data); n == 0 {
			c.logger.Debug("no handler for event", "event", env.Event)
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.shutdown(fmt.Errorf("write: %w", err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}
