// Package framing implements the length-prefixed wire framing described in
// spec.md §4.1. It is deliberately minimal: no magic number, version, or
// per-frame codec byte — the codec is agreed out of band per endpoint (see
// the codec package), so all this layer does is delimit messages on a byte
// stream.
//
// Frame layout: u32 big-endian length (covers only the payload) followed by
// exactly that many bytes of payload. The codec never sees the length
// prefix; this package never looks inside the payload.
package framing

import (
	"encoding/binary"
	"io"
)

// LengthPrefixSize is the number of bytes used for the length header.
const LengthPrefixSize = 4

// Encode prepends a 4-byte big-endian length prefix to payload and writes
// both to w in a single call, so concurrent writers sharing w must still
// serialize around Encode to avoid interleaving (see the transport package).
func Encode(w io.Writer, payload []byte) error {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	_, err := w.Write(buf)
	return err
}

// Decode reads exactly one frame from r: a 4-byte length header followed by
// that many payload bytes. It uses io.ReadFull so partial reads never yield
// a truncated frame.
func Decode(r io.Reader) ([]byte, error) {
	header := make([]byte, LengthPrefixSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// SplitStream peels off as many complete frames as possible from buf,
// returning the decoded payloads in arrival order and the unconsumed tail.
//
// Edge-case policy (spec.md §4.1): if fewer than 4 bytes remain, or fewer
// than 4+length bytes remain, splitting stops and the tail is returned
// unchanged — a frame is never partially decoded, and a declared length that
// would require more bytes than currently present never advances the
// buffer past the incomplete frame.
func SplitStream(buf []byte) (messages [][]byte, remaining []byte) {
	offset := 0
	for {
		if len(buf)-offset < LengthPrefixSize {
			break
		}
		length := int(binary.BigEndian.Uint32(buf[offset : offset+LengthPrefixSize]))
		frameEnd := offset + LengthPrefixSize + length
		if frameEnd > len(buf) {
			break
		}
		payload := make([]byte, length)
		copy(payload, buf[offset+LengthPrefixSize:frameEnd])
		messages = append(messages, payload)
		offset = frameEnd
	}
	remaining = make([]byte, len(buf)-offset)
	copy(remaining, buf[offset:])
	return messages, remaining
}
