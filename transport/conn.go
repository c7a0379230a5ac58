// Package transport provides the low-level, write-serialized connection and
// buffered frame reader shared by both the Gateway and the Client. It knows
// nothing about Message semantics — only raw frames — so both sides of the
// fabric can reuse it identically.
package transport

import (
	"net"
	"sync"

	"github.com/nirikshan/nestjs-ipc-bro/framing"
)

// Conn wraps a net.Conn with a write mutex so that concurrent writers
// (multiple goroutines routing or dispatching at once) never interleave
// frame bytes on the wire — the same discipline the teacher's per-connection
// writeMu enforced, generalized to any caller rather than one handleConn
// loop.
type Conn struct {
	Raw     net.Conn
	writeMu sync.Mutex
}

// New wraps an already-established net.Conn.
func New(raw net.Conn) *Conn {
	return &Conn{Raw: raw}
}

// WriteFrame serializes and writes payload as one length-prefixed frame,
// holding the write lock for the whole operation.
func (c *Conn) WriteFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return framing.Encode(c.Raw, payload)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.Raw.Close()
}
