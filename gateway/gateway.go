// Package gateway implements the central message router: a single listener
// on a local domain socket, a connection registry, and the CALL/RESPONSE/
// HEARTBEAT routing rules from spec.md §4.2. The Gateway never interprets
// params/data — it reads just enough of the envelope (type, to/from,
// context) to route.
package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nirikshan/nestjs-ipc-bro/events"
	"github.com/nirikshan/nestjs-ipc-bro/internal/idgen"
	"github.com/nirikshan/nestjs-ipc-bro/ipccontext"
	"github.com/nirikshan/nestjs-ipc-bro/ipcerr"
	"github.com/nirikshan/nestjs-ipc-bro/message"
	"github.com/nirikshan/nestjs-ipc-bro/obs"
	"github.com/nirikshan/nestjs-ipc-bro/registry"
)

// connState is the per-connection state machine from spec.md §4.2:
// ACCEPTED -> REGISTERED -> CLOSED.
type connState int

const (
	stateAccepted connState = iota
	stateRegistered
	stateClosed
)

// Gateway is the broker process. It owns the registry and forwards
// CALL/RESPONSE frames between registered services; it never fabricates a
// successful RESPONSE and never validates method names.
type Gateway struct {
	cfg      Config
	reg      *registry.Registry
	events   *events.Bus
	listener net.Listener

	closeOnce chan struct{}
}

// New constructs a Gateway. Call Serve to start accepting connections.
func New(cfg Config) *Gateway {
	return &Gateway{
		cfg:       cfg.withDefaults(),
		reg:       registry.New(),
		events:    events.NewBus(),
		closeOnce: make(chan struct{}),
	}
}

// Events returns the Gateway's lifecycle/diagnostic event bus.
func (g *Gateway) Events() *events.Bus { return g.events }

// Serve unlinks any stale socket file at cfg.SocketPath, listens, and runs
// the accept loop until the listener is closed (via Close). Each accepted
// connection is admitted through a token-bucket limiter so a runaway local
// process flooding connection attempts cannot starve routing.
func (g *Gateway) Serve() error {
	if err := removeStaleSocket(g.cfg.SocketPath); err != nil {
		return err
	}
	ln, err := net.Listen("unix", g.cfg.SocketPath)
	if err != nil {
		return err
	}
	g.listener = ln

	limiter := rate.NewLimiter(rate.Limit(g.cfg.AcceptRate), g.cfg.AcceptBurst)
	ctx := context.Background()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-g.closeOnce:
				return nil
			default:
				return err
			}
		}
		if err := limiter.Wait(ctx); err != nil {
			conn.Close()
			continue
		}
		go g.handleConn(conn)
	}
}

// Close stops the accept loop and closes the listener. In-flight
// connections are left to close on their own (via read error).
func (g *Gateway) Close() error {
	select {
	case <-g.closeOnce:
		// already closed
	default:
		close(g.closeOnce)
	}
	if g.listener != nil {
		return g.listener.Close()
	}
	return nil
}

func removeStaleSocket(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// handleConn owns one accepted socket end to end: it reads frames
// sequentially (per-connection FIFO, spec.md §5) and routes each according
// to the connection's current state.
func (g *Gateway) handleConn(raw net.Conn) {
	connID := idgen.New()
	conn := registry.NewConn(connID, raw)
	defer func() {
		conn.Close()
		g.onDisconnect(connID)
	}()

	state := stateAccepted
	reader := newFrameReader(raw)

	for {
		payload, err := reader.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				obs.L().Debug("gateway: connection read error", zap.String("connID", connID), zap.Error(err))
			}
			return
		}

		msg, err := g.cfg.Codec.Decode(payload)
		if err != nil {
			g.replyError(conn, "", ipcerr.InvalidMessage, "malformed payload")
			return // poisoned connection, per spec.md §4.1
		}

		switch state {
		case stateAccepted:
			if msg.Type != message.TypeRegister {
				g.replyError(conn, "", ipcerr.InvalidMessage, "expected REGISTER")
				return
			}
			state = g.handleRegister(conn, msg)
			if state == stateClosed {
				return
			}
		case stateRegistered:
			switch msg.Type {
			case message.TypeCall:
				g.handleCall(conn, msg)
			case message.TypeResponse:
				g.handleResponse(msg)
			case message.TypeHeartbeat:
				g.reg.Touch(connID, time.Now())
			default:
				g.replyError(conn, "", ipcerr.InvalidMessage, "unexpected message type while registered")
				// does not close, per spec.md §4.2
			}
		}
	}
}

func (g *Gateway) handleRegister(conn *registry.Conn, msg *message.Message) connState {
	pooled := false
	if _, ok := msg.PoolIndex(); ok {
		pooled = true
	}
	outcome := g.reg.Register(conn, msg.ServiceName, msg.Methods, msg.Version, msg.Metadata, pooled)
	switch outcome {
	case registry.AlreadyRegistered:
		g.replyError(conn, "", ipcerr.ConnectionFailed, "Service already registered")
		return stateClosed
	default:
		g.write(conn, &message.Message{Type: message.TypeRegisterAck})
		g.events.Emit(events.Event{Kind: events.Registered, Fields: map[string]any{"service": msg.ServiceName}})
		return stateRegistered
	}
}

func (g *Gateway) handleCall(conn *registry.Conn, msg *message.Message) {
	callCtx, err := ipccontext.FromWire(msg.Context)
	if err != nil {
		g.respondError(conn, msg, ipcerr.CodeOf(err), err.Error())
		return
	}
	if ipccontext.IsDeadlineExceeded(callCtx) {
		g.respondError(conn, msg, ipcerr.DeadlineExceeded, "deadline already passed")
		return
	}
	if ipccontext.ExceedsDepth(callCtx, g.cfg.MaxDepth) {
		g.respondError(conn, msg, ipcerr.MaxDepthExceeded, "call depth cap exceeded")
		return
	}

	entry, ok := g.reg.Lookup(msg.To)
	if !ok {
		g.events.Emit(events.Event{Kind: events.ServiceNotFound, Fields: map[string]any{"caller": msg.From, "target": msg.To}})
		g.respondServiceNotFound(conn, msg)
		return
	}

	payload, err := g.cfg.Codec.Encode(msg)
	if err != nil {
		g.respondError(conn, msg, ipcerr.SerializationFailed, err.Error())
		return
	}

	for attempt := 0; attempt < 2; attempt++ {
		egress := entry.NextEgress()
		if egress == nil {
			break
		}
		if err := egress.WriteFrame(payload); err == nil {
			return
		}
		if remaining := entry.DropMember(egress.ID); !remaining {
			break
		}
		// retry once against the remaining members, per spec.md §4.2.
	}
	g.respondServiceNotFound(conn, msg)
}

// handleResponse routes a RESPONSE back to the originating caller's
// primary connection — never a pool member, since responses follow the
// caller-side correlation rather than egress fanout (spec.md §4.2, §9 open
// question "RESPONSE routing when caller is pool-registered"). If the
// caller has disconnected, the RESPONSE is dropped silently.
func (g *Gateway) handleResponse(msg *message.Message) {
	entry, ok := g.reg.Lookup(msg.To)
	if !ok {
		return
	}
	primary := entry.Primary()
	if primary == nil {
		return
	}
	g.write(primary, msg)
}

func (g *Gateway) onDisconnect(connID string) {
	g.reg.Disconnect(connID)
}

// write serializes and writes msg to conn, logging (not propagating) any
// error. CALL forwarding does not go through write: handleCall writes the
// frame itself so a failed write can drop the member and retry.
func (g *Gateway) write(conn *registry.Conn, msg *message.Message) {
	payload, err := g.cfg.Codec.Encode(msg)
	if err != nil {
		obs.L().Warn("gateway: failed to encode outgoing message", zap.Error(err))
		return
	}
	if err := conn.WriteFrame(payload); err != nil {
		obs.L().Debug("gateway: failed to write frame", zap.Error(err))
	}
}

func (g *Gateway) replyError(conn *registry.Conn, id string, code ipcerr.Code, msgText string) {
	g.write(conn, &message.Message{
		Type:  message.TypeError,
		ID:    id,
		Error: &message.ErrorPayload{Code: string(code), Message: msgText},
	})
}

// respondError sends a RESPONSE(status=error) back to the original CALL's
// connection, reversing from/to and preserving the original id and context,
// per spec.md §7 "the Gateway never unilaterally fabricates successful
// RESPONSEs... it emits an error RESPONSE with the original id".
func (g *Gateway) respondError(conn *registry.Conn, call *message.Message, code ipcerr.Code, msgText string) {
	resp := &message.Message{
		Type:    message.TypeResponse,
		ID:      call.ID,
		From:    call.To,
		To:      call.From,
		Status:  message.StatusError,
		Error:   &message.ErrorPayload{Code: string(code), Message: msgText},
		Context: call.Context,
	}
	g.write(conn, resp)
}

// respondServiceNotFound sends SERVICE_NOT_FOUND, including the list of
// currently registered services for diagnostics, per spec.md §4.2 routing
// rule 2.
func (g *Gateway) respondServiceNotFound(conn *registry.Conn, call *message.Message) {
	services := g.reg.ConnectedServices()
	resp := &message.Message{
		Type:   message.TypeResponse,
		ID:     call.ID,
		From:   call.To,
		To:     call.From,
		Status: message.StatusError,
		Error: &message.ErrorPayload{
			Code:    string(ipcerr.ServiceNotFound),
			Message: "no such service: " + call.To,
		},
		Context:  call.Context,
		Metadata: map[string]any{"connectedServices": services},
	}
	g.write(conn, resp)
}
