package transport

import (
	"net"

	"github.com/nirikshan/nestjs-ipc-bro/framing"
)

// readChunkSize is how much we ask the OS for per raw Read call. Frames
// larger than this simply take more reads to accumulate; it is not a
// message size limit.
const readChunkSize = 64 * 1024

// Reader accumulates bytes from a net.Conn and peels off whole frames with
// framing.SplitStream, per spec.md §3 PooledSocket ("an accumulated inbound
// buffer") and §4.3 ("bytes arriving on member i are appended to buffer i
// and splitStream is applied").
type Reader struct {
	raw     net.Conn
	buf     []byte
	pending [][]byte
}

// NewReader creates a Reader over raw. The buffer starts empty and is reset
// to empty on any disconnect (the caller simply discards the Reader).
func NewReader(raw net.Conn) *Reader {
	return &Reader{raw: raw}
}

// Next blocks until one complete frame's payload is available, reading more
// from the socket as needed. It returns the underlying connection's error
// (commonly io.EOF) once the peer closes or the read fails.
func (r *Reader) Next() ([]byte, error) {
	if len(r.pending) > 0 {
		msg := r.pending[0]
		r.pending = r.pending[1:]
		return msg, nil
	}

	chunk := make([]byte, readChunkSize)
	for {
		n, err := r.raw.Read(chunk)
		if n > 0 {
			r.buf = append(r.buf, chunk[:n]...)
			messages, remaining := framing.SplitStream(r.buf)
			r.buf = remaining
			if len(messages) > 0 {
				r.pending = messages[1:]
				return messages[0], nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}
