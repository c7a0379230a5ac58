package client

import (
	"time"

	"github.com/nirikshan/nestjs-ipc-bro/codec"
)

// Default values named throughout spec.md §4.3/§4.4.
const (
	DefaultPoolSize             = 1
	DefaultReconnectDelay       = 5 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultHealthCheckInterval  = 30 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultCallTimeout          = 30 * time.Second
	DefaultRegistrationTimeout  = 5 * time.Second
	DefaultMaxDepth             = 100
	// reconnectBackoffMultiplier and reconnectMaxDelay implement the
	// "reconnectDelay * 1.5^attempt, clamped to 30s" rule from spec.md §4.3.
	reconnectBackoffMultiplier = 1.5
	reconnectMaxDelay          = 30 * time.Second
	// healthTickerIdleAfter is the "lastUsed older than 60s" threshold from
	// spec.md §4.3's health ticker.
	healthTickerIdleAfter = 60 * time.Second
	// unhealthyAfterErrors is the errorCount threshold from spec.md §4.3.
	unhealthyAfterErrors = 3
)

// Config configures a Client, mirroring the teacher's Config-struct
// constructor convention.
type Config struct {
	// ServiceName is this client's own service name, used as the chain
	// origin for freshly created contexts and sent in REGISTER.
	ServiceName string

	// SocketPath is the Gateway's Unix domain socket path to dial.
	SocketPath string

	// Codec selects the wire codec. Both ends must agree out of band.
	Codec codec.Codec

	// PoolSize is the number of parallel connections to the Gateway. The
	// Client always connects through its pool; when 1, the pool has a single
	// member whose REGISTER carries no poolIndex, and when >1, every member's
	// REGISTER carries its poolIndex.
	PoolSize int

	// DisableAutoReconnect turns off the pool's reconnect-on-drop behavior.
	// Auto-reconnect is on by default (spec.md §4.3), so the zero value of
	// this field — false — keeps the default behavior.
	DisableAutoReconnect bool
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	HealthCheckInterval  time.Duration
	HeartbeatInterval    time.Duration

	// CallTimeout is the default per-call timeout used both to derive a
	// freshly created context's deadline and to arm each CALL's timer when
	// no more restrictive context deadline applies.
	CallTimeout time.Duration

	// RegistrationTimeout bounds, for every pool member, both the dial and
	// the wait for REGISTER_ACK.
	RegistrationTimeout time.Duration

	// MaxDepth caps IPCContext.Depth on outgoing calls (spec.md §4.4 step 4).
	MaxDepth int
}

func (c Config) withDefaults() Config {
	if c.Codec == nil {
		c.Codec = codec.Get(codec.TypeJSON)
	}
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.RegistrationTimeout == 0 {
		c.RegistrationTimeout = DefaultRegistrationTimeout
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	return c
}
