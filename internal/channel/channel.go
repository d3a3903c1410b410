// Package channel is the client side of the shared, authenticated event
// connection. Components subscribe to event names and emit requests; they
// never own the connection itself.
package channel

import (
	"encoding/json"
	"errors"
	"sync"
)

var (
	ErrClosed     = errors.New("channel: connection closed")
	ErrBufferFull = errors.New("channel: send buffer full")
)

// Handler receives the raw data of one event.
type Handler func(data json.RawMessage)

// Ack is the server's answer to an emitted request.
type Ack struct {
	Data json.RawMessage
	Err  error
}

// AckFunc is called at most once per emitted request.
type AckFunc func(Ack)

// Channel is the capability set views get from the session.
type Channel interface {
	Subscribe(event string, h Handler) (unsubscribe func())
	Emit(event string, payload any, ack AckFunc) error
}

type entry struct {
	id uint64
	h  Handler
}

// registry keeps handlers per event name in registration order. Handlers are
// invoked without the lock held, so they may subscribe or unsubscribe.
type registry struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[string][]entry
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string][]entry)}
}

func (r *registry) add(event string, h Handler) func() {
	r.mu.Lock()
	r.next++
	id := r.next
	r.handlers[event] = append(r.handlers[event], entry{id: id, h: h})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(event, id) })
	}
}

func (r *registry) remove(event string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[event]
	for i, e := range list {
		if e.id != id {
			continue
		}
		next := make([]entry, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.handlers, event)
		} else {
			r.handlers[event] = next
		}
		return
	}
}

func (r *registry) dispatch(event string, data json.RawMessage) int {
	r.mu.RLock()
	list := r.handlers[event]
	r.mu.RUnlock()

	for _, e := range list {
		e.h(data)
	}
	return len(list)
}

func (r *registry) count(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}
