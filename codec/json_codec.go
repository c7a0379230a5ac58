package codec

import (
	"encoding/json"

	"github.com/nirikshan/nestjs-ipc-bro/ipcerr"
	"github.com/nirikshan/nestjs-ipc-bro/message"
)

// JSONCodec uses the standard library encoding/json. Human-readable,
// cross-language, easy to debug; the default for new deployments.
type JSONCodec struct{}

func (c *JSONCodec) Encode(m *message.Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, ipcerr.Wrap(ipcerr.SerializationFailed, err)
	}
	return data, nil
}

func (c *JSONCodec) Decode(data []byte) (*message.Message, error) {
	if len(data) == 0 {
		return &message.Message{}, nil
	}
	var m message.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, ipcerr.Wrap(ipcerr.DeserializationFailed, err)
	}
	return &m, nil
}

func (c *JSONCodec) Type() Type { return TypeJSON }
