package channel

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_OrderAndNoDedup(t *testing.T) {
	r := newRegistry()
	var got []string
	h := func(tag string) Handler {
		return func(json.RawMessage) { got = append(got, tag) }
	}
	r.add("message", h("a"))
	r.add("message", h("b"))
	r.add("message", h("a"))

	n := r.dispatch("message", nil)

	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a", "b", "a"}, got)
}

func TestRegistry_UnsubscribeIsIdempotent(t *testing.T) {
	r := newRegistry()
	calls := 0
	unsub := r.add("message", func(json.RawMessage) { calls++ })
	other := r.add("message", func(json.RawMessage) {})

	unsub()
	unsub()
	assert.Equal(t, 1, r.count("message"))

	r.dispatch("message", nil)
	assert.Zero(t, calls)

	other()
	assert.Zero(t, r.count("message"))
}

func TestRegistry_UnsubscribeFromHandler(t *testing.T) {
	r := newRegistry()
	calls := 0
	var unsub func()
	unsub = r.add("message", func(json.RawMessage) {
		calls++
		unsub()
	})

	r.dispatch("message", nil)
	r.dispatch("message", nil)

	assert.Equal(t, 1, calls)
}

func TestBus_PublishAndEmit(t *testing.T) {
	b := NewBus()
	var seen []string
	b.Subscribe("message", func(data json.RawMessage) { seen = append(seen, string(data)) })

	n, err := b.Publish("message", map[string]string{"conversation_id": "c1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = b.Publish("message", json.RawMessage(`{"raw":true}`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{`{"conversation_id":"c1"}`, `{"raw":true}`}, seen)

	var ack Ack
	require.NoError(t, b.Emit("join", "user-1", func(a Ack) { ack = a }))
	assert.NoError(t, ack.Err)
	assert.Equal(t, []Emitted{{Event: "join", Data: json.RawMessage(`"user-1"`)}}, b.Emitted())
}

func TestBus_Responder(t *testing.T) {
	b := NewBus()
	b.Respond(func(event string, data json.RawMessage) (json.RawMessage, error) {
		if event == "deleteConversation" {
			return nil, errors.New("not allowed")
		}
		return json.RawMessage(`"ok"`), nil
	})

	var acks []Ack
	require.NoError(t, b.Emit("join", "user-1", func(a Ack) { acks = append(acks, a) }))
	require.NoError(t, b.Emit("deleteConversation", "c1", func(a Ack) { acks = append(acks, a) }))
	require.NoError(t, b.Emit("leave", "user-1", nil))

	require.Len(t, acks, 2)
	assert.Equal(t, `"ok"`, string(acks[0].Data))
	assert.EqualError(t, acks[1].Err, "not allowed")
	assert.Len(t, b.Emitted(), 3)
}

func TestBus_Closed(t *testing.T) {
	b := NewBus()
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Emit("join", "user-1", nil), ErrClosed)
}

func TestBus_EncodingError(t *testing.T) {
	b := NewBus()
	assert.Error(t, b.Emit("join", make(chan int), nil))
	_, err := b.Publish("message", make(chan int))
	assert.Error(t, err)
}
