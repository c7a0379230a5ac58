package gateway

import (
	"net"

	"github.com/nirikshan/nestjs-ipc-bro/transport"
)

// frameReader is a tiny alias so gateway.go can name its per-connection
// reader without importing transport at every call site.
type frameReader = transport.Reader

func newFrameReader(raw net.Conn) *frameReader {
	return transport.NewReader(raw)
}
