package client

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nirikshan/nestjs-ipc-bro/transport"
)

// pooledSocket is one PooledSocket member from spec.md §3: an index, the
// underlying transport, connected/healthy flags, an inbound buffer
// (delegated to transport.Reader), an error count, and a lastUsed
// timestamp. Invariants enforced here: healthy implies connected;
// errorCount resets to zero on a successful (re)connect; the reader (and
// its buffer) is recreated, never reused, on reconnect.
type pooledSocket struct {
	index int

	mu     sync.Mutex
	conn   *transport.Conn
	reader *transport.Reader

	connected  atomic.Bool
	healthy    atomic.Bool
	errorCount atomic.Int32
	lastUsed   atomic.Int64 // UnixNano

	reconnectStop chan struct{}
}

func newPooledSocket(index int) *pooledSocket {
	return &pooledSocket{index: index}
}

// attach installs a freshly dialed raw connection as this member's
// transport, resetting errorCount and marking connected (not yet healthy —
// callers mark healthy only after REGISTER_ACK).
func (s *pooledSocket) attach(raw net.Conn) {
	s.mu.Lock()
	s.conn = transport.New(raw)
	s.reader = transport.NewReader(raw)
	s.mu.Unlock()
	s.errorCount.Store(0)
	s.connected.Store(true)
	s.touch()
}

func (s *pooledSocket) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

func (s *pooledSocket) lastUsedAt() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// markError increments errorCount and, at the >= 3 threshold from
// spec.md §4.3, marks the member unhealthy even while still connected.
func (s *pooledSocket) markError() {
	if s.errorCount.Add(1) >= unhealthyAfterErrors {
		s.healthy.Store(false)
	}
}

// markClosed clears connected and healthy, per spec.md §3 "a socket-close
// event clears connected and healthy".
func (s *pooledSocket) markClosed() {
	s.connected.Store(false)
	s.healthy.Store(false)
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.reader = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *pooledSocket) writeFrame(payload []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	err := conn.WriteFrame(payload)
	if err != nil {
		s.markError()
	}
	return err
}

// nextFrame blocks for the next decoded payload on this member's reader.
func (s *pooledSocket) nextFrame() ([]byte, error) {
	s.mu.Lock()
	r := s.reader
	s.mu.Unlock()
	if r == nil {
		return nil, net.ErrClosed
	}
	return r.Next()
}
