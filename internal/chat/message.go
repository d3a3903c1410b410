package chat

import (
	"encoding/json"

	"github.com/ageniuscoder/mmchat/convsync/internal/model"
)

// encode wraps payload in an event frame.
func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(model.Envelope{Event: event, Data: data})
}

func ackFrame(id string, data any, err error) []byte {
	env := model.Envelope{Event: model.EventAck, Ack: id}
	if data != nil {
		env.Data, _ = json.Marshal(data)
	}
	if err != nil {
		env.Error = err.Error()
	}
	b, _ := json.Marshal(env)
	return b
}
