package channel

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Emitted records one request sent through a Bus.
type Emitted struct {
	Event string
	Data  json.RawMessage
}

// Responder answers requests emitted on a Bus. A nil result with a nil
// error acknowledges with no data.
type Responder func(event string, data json.RawMessage) (json.RawMessage, error)

// Bus is an in-process Channel. Publish delivers synchronously to
// subscribers; Emit records the request and answers it with the configured
// Responder.
type Bus struct {
	reg *registry

	mu        sync.Mutex
	emitted   []Emitted
	responder Responder
	closed    bool
}

func NewBus() *Bus {
	return &Bus{reg: newRegistry()}
}

func (b *Bus) Subscribe(event string, h Handler) func() {
	return b.reg.add(event, h)
}

func (b *Bus) Handlers(event string) int {
	return b.reg.count(event)
}

// Respond installs fn as the answer to emitted requests.
func (b *Bus) Respond(fn Responder) {
	b.mu.Lock()
	b.responder = fn
	b.mu.Unlock()
}

func (b *Bus) Emit(event string, payload any, ack AckFunc) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.emitted = append(b.emitted, Emitted{Event: event, Data: data})
	responder := b.responder
	b.mu.Unlock()

	if ack == nil {
		return nil
	}
	if responder == nil {
		ack(Ack{})
		return nil
	}
	resp, err := responder(event, data)
	ack(Ack{Data: resp, Err: err})
	return nil
}

// Publish delivers payload to the subscribers of event and reports how many
// handlers ran.
func (b *Bus) Publish(event string, payload any) (int, error) {
	var data json.RawMessage
	if raw, ok := payload.(json.RawMessage); ok {
		data = raw
	} else {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("encoding %s payload: %w", event, err)
		}
		data = encoded
	}
	return b.reg.dispatch(event, data), nil
}

// Emitted returns a copy of every request emitted so far.
func (b *Bus) Emitted() []Emitted {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Emitted, len(b.emitted))
	copy(out, b.emitted)
	return out
}

// Close makes later emits fail with ErrClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
