package model

import "encoding/json"

// Envelope is the JSON text frame exchanged on the event connection in both
// directions. Ack carries the correlation id of a request that wants an
// acknowledgement; the reply is an EventAck frame with the same id.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
	Error string          `json:"error,omitempty"`
}
