// Package rooms keeps the shared event connection joined to the current
// user's notification room.
package rooms

import (
	"log/slog"
	"sync"

	"github.com/ageniuscoder/mmchat/convsync/internal/channel"
	"github.com/ageniuscoder/mmchat/convsync/internal/model"
)

// Emitter is the part of the event channel the manager needs.
type Emitter interface {
	Emit(event string, payload any, ack channel.AckFunc) error
}

// Manager joins room "user-{id}" on Activate and leaves it on Deactivate.
// Repeated calls with the same state are no-ops.
type Manager struct {
	mu     sync.Mutex
	room   string
	ch     Emitter
	logger *slog.Logger
}

func NewManager(ch Emitter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{ch: ch, logger: logger.With("component", "rooms")}
}

// Activate joins the room of userID, leaving any other room first.
func (m *Manager) Activate(userID string) {
	if userID == "" {
		return
	}
	room := model.RoomKey(userID)

	m.mu.Lock()
	prev := m.room
	if prev == room {
		m.mu.Unlock()
		return
	}
	m.room = room
	m.mu.Unlock()

	if prev != "" {
		m.leave(prev)
	}
	m.join(room)
}

// Deactivate leaves the current room, if any. Failures are logged only;
// the server drops memberships of closed connections.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	room := m.room
	m.room = ""
	m.mu.Unlock()

	if room != "" {
		m.leave(room)
	}
}

// Room returns the joined room key or "".
func (m *Manager) Room() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room
}

func (m *Manager) join(room string) {
	err := m.ch.Emit(model.EventJoin, room, func(ack channel.Ack) {
		if ack.Err != nil {
			m.logger.Warn("join rejected", "room", room, "error", ack.Err)
			return
		}
		m.logger.Info("joined room", "room", room, "ack", string(ack.Data))
	})
	if err != nil {
		m.logger.Warn("join emit failed", "room", room, "error", err)
	}
}

func (m *Manager) leave(room string) {
	if err := m.ch.Emit(model.EventLeave, room, nil); err != nil {
		m.logger.Debug("leave emit failed", "room", room, "error", err)
		return
	}
	m.logger.Info("left room", "room", room)
}
