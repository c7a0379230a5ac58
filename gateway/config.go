package gateway

import (
	"time"

	"github.com/nirikshan/nestjs-ipc-bro/codec"
)

// Default values named throughout spec.md §4.2/§4.3.
const (
	DefaultMaxDepth    = 100
	DefaultAcceptBurst = 64
	DefaultAcceptRate  = 200 // connections/sec sustained
)

// Config configures a Gateway, mirroring the teacher's Config-struct
// constructor convention rather than an env/flag parsing layer (out of
// scope per spec.md §1 "operational glue").
type Config struct {
	// SocketPath is the Unix domain socket path the Gateway listens on. Any
	// stale file at this path is unlinked before Listen.
	SocketPath string

	// Codec selects the wire codec this Gateway speaks. Both endpoints of
	// every connection must agree out of band; the Gateway itself never
	// interprets params/data, but still decodes the envelope (type,
	// to/from, context) to route it.
	Codec codec.Codec

	// MaxDepth caps IPCContext.Depth; a CALL whose context exceeds it is
	// refused with MAX_DEPTH_EXCEEDED. Zero means DefaultMaxDepth.
	MaxDepth int

	// AcceptBurst/AcceptRate configure the token-bucket limiter wrapping
	// the accept loop (spec.md has no direct equivalent; see SPEC_FULL.md
	// §10 domain stack for why this is the home we chose for
	// golang.org/x/time/rate). Zero means the Default* constants.
	AcceptBurst int
	AcceptRate  float64

	// HeartbeatGrace is stored but not read by the Gateway: heartbeats only
	// update a ServiceEntry's LastHeartbeat, and no service is expired,
	// dropped or logged for missing heartbeats.
	HeartbeatGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.Codec == nil {
		c.Codec = codec.Get(codec.TypeJSON)
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.AcceptBurst == 0 {
		c.AcceptBurst = DefaultAcceptBurst
	}
	if c.AcceptRate == 0 {
		c.AcceptRate = DefaultAcceptRate
	}
	if c.HeartbeatGrace == 0 {
		c.HeartbeatGrace = 90 * time.Second
	}
	return c
}
