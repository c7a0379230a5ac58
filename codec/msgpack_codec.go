package codec

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/nirikshan/nestjs-ipc-bro/ipcerr"
	"github.com/nirikshan/nestjs-ipc-bro/message"
)

// MsgpackCodec serializes the whole Message envelope with MessagePack
// instead of JSON. Same fields, same omitempty behavior (msgpack struct tags
// mirror the json ones on message.Message). Field names are still present,
// so for small envelopes it is only moderately smaller on the wire than
// JSON: the saving comes from dropping JSON's quoting and punctuation.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(m *message.Message) ([]byte, error) {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return nil, ipcerr.Wrap(ipcerr.SerializationFailed, err)
	}
	return data, nil
}

func (c *MsgpackCodec) Decode(data []byte) (*message.Message, error) {
	if len(data) == 0 {
		return &message.Message{}, nil
	}
	var m message.Message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, ipcerr.Wrap(ipcerr.DeserializationFailed, err)
	}
	return &m, nil
}

func (c *MsgpackCodec) Type() Type { return TypeMsgpack }
