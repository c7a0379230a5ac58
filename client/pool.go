package client

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nirikshan/nestjs-ipc-bro/ipcerr"
	"github.com/nirikshan/nestjs-ipc-bro/message"
	"github.com/nirikshan/nestjs-ipc-bro/obs"
	"github.com/nirikshan/nestjs-ipc-bro/roundrobin"
)

// pool maintains N parallel connections to the Gateway, per spec.md §4.3:
// round-robin health-aware selection, per-member reconnection with
// exponential backoff, and a per-socket inbound buffer whose decoded
// messages are multiplexed onto a single channel the Client core drains
// (response correlation is by message id, not by socket).
type pool struct {
	cfg         Config
	serviceName string

	members []*pooledSocket
	cursor  roundrobin.Cursor

	inbound chan *message.Message

	shuttingDown atomic.Bool
	wg           sync.WaitGroup

	healthTicker *time.Ticker
	healthDone   chan struct{}

	// onMemberDead is the out-of-band notification emitted when a member
	// exhausts maxReconnectAttempts (spec.md §4.3).
	onMemberDead func(index int)
}

func newPool(cfg Config, serviceName string, onMemberDead func(index int)) *pool {
	members := make([]*pooledSocket, cfg.PoolSize)
	for i := range members {
		members[i] = newPooledSocket(i)
	}
	return &pool{
		cfg:          cfg,
		serviceName:  serviceName,
		members:      members,
		inbound:      make(chan *message.Message, 64),
		onMemberDead: onMemberDead,
	}
}

// create opens every member concurrently and registers it with
// metadata.poolIndex = i. If any initial connect fails the whole operation
// fails and every successfully-opened member is torn down, per spec.md
// §4.3 "If any initial connect fails, the entire createPool operation
// fails; successful members are torn down."
func (p *pool) create() error {
	errs := make([]error, len(p.members))
	var wg sync.WaitGroup
	for i, m := range p.members {
		wg.Add(1)
		go func(i int, m *pooledSocket) {
			defer wg.Done()
			errs[i] = p.connectMember(m)
		}(i, m)
	}
	wg.Wait()

	var combined error
	for _, err := range errs {
		combined = multierr.Append(combined, err)
	}
	if combined != nil {
		// Abandon the whole pool: mark shutting-down first so the members
		// that DID connect don't race their own read loops into scheduling
		// a reconnect for a pool the caller is about to discard.
		p.shuttingDown.Store(true)
		for _, m := range p.members {
			m.markClosed()
		}
		p.wg.Wait()
		return ipcerr.Wrap(ipcerr.ConnectionFailed, combined)
	}

	p.startHealthTicker()
	return nil
}

// connectMember dials, sends REGISTER with this member's poolIndex, and
// waits for REGISTER_ACK (or an ERROR) within RegistrationTimeout. On
// success it starts the member's read loop and marks it healthy.
func (p *pool) connectMember(m *pooledSocket) error {
	raw, err := net.DialTimeout("unix", p.cfg.SocketPath, p.cfg.RegistrationTimeout)
	if err != nil {
		return ipcerr.Wrap(ipcerr.ConnectionFailed, err)
	}
	m.attach(raw)

	reg := &message.Message{Type: message.TypeRegister, ServiceName: p.serviceName}
	if p.cfg.PoolSize > 1 {
		// poolSize==1 sends a bare REGISTER with no poolIndex, per
		// spec.md §4.4 — only a genuine pool flags its members.
		reg.Metadata = message.WithPoolIndex(m.index)
	}
	payload, err := p.cfg.Codec.Encode(reg)
	if err != nil {
		m.markClosed()
		return ipcerr.Wrap(ipcerr.SerializationFailed, err)
	}
	if err := m.writeFrame(payload); err != nil {
		m.markClosed()
		return ipcerr.Wrap(ipcerr.ConnectionFailed, err)
	}

	ackCh := make(chan error, 1)
	go func() {
		frame, err := m.nextFrame()
		if err != nil {
			ackCh <- ipcerr.Wrap(ipcerr.ConnectionFailed, err)
			return
		}
		msg, err := p.cfg.Codec.Decode(frame)
		if err != nil {
			ackCh <- ipcerr.Wrap(ipcerr.DeserializationFailed, err)
			return
		}
		if msg.Type == message.TypeError {
			ackCh <- ipcerr.New(ipcerr.ConnectionFailed, errMessageOrDefault(msg))
			return
		}
		ackCh <- nil
	}()

	select {
	case err := <-ackCh:
		if err != nil {
			m.markClosed()
			return err
		}
		m.healthy.Store(true)
		p.wg.Add(1)
		go p.readLoop(m)
		return nil
	case <-time.After(p.cfg.RegistrationTimeout):
		m.markClosed()
		return ipcerr.New(ipcerr.ConnectionFailed, "registration timed out")
	}
}

func errMessageOrDefault(msg *message.Message) string {
	if msg.Error != nil && msg.Error.Message != "" {
		return msg.Error.Message
	}
	return "registration rejected"
}

// readLoop decodes frames off m until it errors (disconnect), forwarding
// each decoded message to the shared inbound channel.
func (p *pool) readLoop(m *pooledSocket) {
	defer p.wg.Done()
	for {
		payload, err := m.nextFrame()
		if err != nil {
			p.onMemberClosed(m)
			return
		}
		msg, err := p.cfg.Codec.Decode(payload)
		if err != nil {
			obs.L().Warn("client: dropping malformed frame", zap.Int("member", m.index), zap.Error(err))
			p.onMemberClosed(m)
			return
		}
		select {
		case p.inbound <- msg:
		default:
			// Inbound is a bounded relay buffer, not the spec's unbounded
			// per-socket byte buffer; an overrun here means the Client
			// core has stopped draining, which only happens during
			// shutdown.
			if !p.shuttingDown.Load() {
				p.inbound <- msg
			}
		}
	}
}

func (p *pool) onMemberClosed(m *pooledSocket) {
	m.markClosed()
	if p.shuttingDown.Load() {
		return
	}
	if !p.cfg.DisableAutoReconnect {
		go p.reconnectLoop(m)
	}
}

// reconnectLoop implements spec.md §4.3 reconnection: delay =
// reconnectDelay * 1.5^n, clamped to 30s, where n is the number of failed
// reconnect attempts so far in this loop, via
// cenkalti/backoff's exponential backoff stepped manually so
// maxReconnectAttempts can be enforced as an explicit cap (backoff.Retry's
// own infinite-retry default has no such cap).
func (p *pool) reconnectLoop(m *pooledSocket) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.ReconnectDelay
	b.Multiplier = reconnectBackoffMultiplier
	b.MaxInterval = reconnectMaxDelay
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	b.Reset()

	for attempt := 0; attempt < p.cfg.MaxReconnectAttempts; attempt++ {
		if p.shuttingDown.Load() {
			return
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		time.Sleep(delay)
		if p.shuttingDown.Load() {
			return
		}
		if err := p.connectMember(m); err == nil {
			return
		}
	}
	obs.L().Warn("client: pool member declared dead", zap.Int("member", m.index))
	if p.onMemberDead != nil {
		p.onMemberDead(m.index)
	}
}

// getConnection implements spec.md §4.3 selection: scan starting at the
// round-robin cursor, advance on every probe, return the first
// connected&&healthy member; fall back to the first connected-but-unhealthy
// member if none is healthy; fail NOT_CONNECTED if none is connected.
func (p *pool) getConnection() (*pooledSocket, error) {
	n := len(p.members)
	start := p.cursor.Next(n)

	var fallback *pooledSocket
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		m := p.members[idx]
		if !m.connected.Load() {
			continue
		}
		if m.healthy.Load() {
			m.touch()
			return m, nil
		}
		if fallback == nil {
			fallback = m
		}
	}
	if fallback != nil {
		fallback.touch()
		return fallback, nil
	}
	return nil, ipcerr.New(ipcerr.NotConnected, "no connected pool member")
}

// startHealthTicker writes a HEARTBEAT on every connected member whose
// lastUsed is older than 60s, per spec.md §4.3. A write failure marks the
// member unhealthy.
func (p *pool) startHealthTicker() {
	interval := p.cfg.HealthCheckInterval
	p.healthTicker = time.NewTicker(interval)
	p.healthDone = make(chan struct{})
	go func() {
		for {
			select {
			case <-p.healthDone:
				return
			case <-p.healthTicker.C:
				p.tickHealth()
			}
		}
	}()
}

func (p *pool) tickHealth() {
	now := time.Now()
	for _, m := range p.members {
		if !m.connected.Load() {
			continue
		}
		if now.Sub(m.lastUsedAt()) < healthTickerIdleAfter {
			continue
		}
		payload, err := p.cfg.Codec.Encode(&message.Message{
			Type: message.TypeHeartbeat, From: p.serviceName, Timestamp: now.UnixMilli(),
		})
		if err != nil {
			continue
		}
		if err := m.writeFrame(payload); err != nil {
			m.healthy.Store(false)
		}
	}
}

// shutdown implements spec.md §4.3 Shutdown: marks shutting-down so no
// reconnect is scheduled, stops the health ticker, and closes every member.
func (p *pool) shutdown() {
	p.shuttingDown.Store(true)
	if p.healthTicker != nil {
		p.healthTicker.Stop()
		close(p.healthDone)
	}
	for _, m := range p.members {
		m.markClosed()
	}
	p.wg.Wait()
}
