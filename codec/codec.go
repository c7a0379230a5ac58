// Package codec provides the serialization layer for the IPC fabric.
//
// It defines a pluggable Codec interface with two implementations:
//   - JSONCodec:    human-readable, cross-language, easy to debug.
//   - MsgpackCodec: compact binary format (MessagePack family), faster to
//     encode/decode and smaller on the wire.
//
// Per spec.md §3/§6, codec choice is per-endpoint configuration agreed out
// of band by both peers — it is never carried inside the frame itself, so
// unlike a length+type header this package never touches the 4-byte frame
// length prefix (see the framing package for that).
package codec

import "github.com/nirikshan/nestjs-ipc-bro/message"

// Type identifies the serialization format.
type Type byte

const (
	TypeJSON    Type = 0 // encoding/json
	TypeMsgpack Type = 1 // MessagePack (github.com/vmihailenco/msgpack/v5)
)

// Codec is the interface for serialization/deserialization of a
// *message.Message. Implementing this interface allows adding new formats
// without changing the framing or routing layers — the Strategy pattern.
type Codec interface {
	Encode(m *message.Message) ([]byte, error)
	Decode(data []byte) (*message.Message, error)
	Type() Type
}

// Get returns the codec implementation for the given type. Both endpoints of
// a connection must be configured with the same Type; the fabric does not
// negotiate or advertise it.
func Get(t Type) Codec {
	if t == TypeMsgpack {
		return &MsgpackCodec{}
	}
	return &JSONCodec{}
}
