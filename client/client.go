// Package client implements the per-service RPC library: connection pool
// management, outgoing CALL issuance with pending-request tracking,
// incoming CALL dispatch against locally registered handlers, automatic
// context propagation through nested calls, and heartbeats.
package client

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nirikshan/nestjs-ipc-bro/events"
	"github.com/nirikshan/nestjs-ipc-bro/internal/execctx"
	"github.com/nirikshan/nestjs-ipc-bro/ipccontext"
	"github.com/nirikshan/nestjs-ipc-bro/ipcerr"
	"github.com/nirikshan/nestjs-ipc-bro/message"
	"github.com/nirikshan/nestjs-ipc-bro/obs"
)

// Client is the library linked into a service: it owns the local
// transport (always via its connection pool), the pending-request table,
// and the handler registry.
type Client struct {
	cfg      Config
	handlers *HandlerRegistry
	events   *events.Bus
	pending  *pendingMap

	pool *pool

	connected atomic.Bool
	shutdown  atomic.Bool

	heartbeatStop chan struct{}
}

// New constructs a Client. Register handlers on the returned Client before
// calling Connect; the handler set is sealed at Connect.
func New(cfg Config) *Client {
	return &Client{
		cfg:      cfg.withDefaults(),
		handlers: NewHandlerRegistry(),
		events:   events.NewBus(),
		pending:  newPendingMap(),
	}
}

// Handlers returns the registry to populate before Connect.
func (c *Client) Handlers() *HandlerRegistry { return c.handlers }

// Events returns the lifecycle event bus (spec.md §6: connected,
// disconnected, registered, method-executed, response-received, log).
func (c *Client) Events() *events.Bus { return c.events }

// Connect seals the handler registry, opens the pool (poolSize connections,
// each REGISTERed), and starts the heartbeat timer, per spec.md §4.4.
func (c *Client) Connect() error {
	c.handlers.Seal()

	p := newPool(c.cfg, c.cfg.ServiceName, c.onMemberDead)
	if err := p.create(); err != nil {
		return err
	}
	c.pool = p
	c.connected.Store(true)

	go c.dispatchLoop()
	c.startHeartbeat()
	c.events.Emit(events.Event{Kind: events.Connected, Fields: map[string]any{"service": c.cfg.ServiceName}})
	c.events.Emit(events.Event{Kind: events.Registered, Fields: map[string]any{"service": c.cfg.ServiceName}})
	return nil
}

func (c *Client) onMemberDead(index int) {
	c.events.Emit(events.Event{Kind: events.Log, Fields: map[string]any{
		"level": "warn", "msg": "pool member declared dead", "member": index,
	}})
}

// Disconnect stops the heartbeat, fails every pending entry with
// CONNECTION_LOST (or NOT_CONNECTED, since this is an explicit disconnect,
// per spec.md §4.4), and closes the transport.
func (c *Client) Disconnect() {
	if !c.shutdown.CompareAndSwap(false, true) {
		return
	}
	c.connected.Store(false)
	c.stopHeartbeat()
	if c.pool != nil {
		c.pool.shutdown()
	}
	for _, p := range c.pending.drainAll() {
		c.completePending(p, callResult{Err: ipcerr.New(ipcerr.NotConnected, "client disconnected")})
	}
	c.events.Emit(events.Event{Kind: events.Disconnected, Fields: map[string]any{"service": c.cfg.ServiceName}})
}

func (c *Client) startHeartbeat() {
	c.heartbeatStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.heartbeatStop:
				return
			case <-ticker.C:
				// The pool's own health ticker already covers idle
				// members (spec.md §4.3); this timer is the Client-core
				// contract named in spec.md §4.4 and is intentionally a
				// no-op tick when the pool is already keeping members warm.
			}
		}
	}()
}

func (c *Client) stopHeartbeat() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
	}
}

// dispatchLoop drains the pool's demultiplexed inbound stream and routes
// each message to either RESPONSE correlation or incoming-CALL dispatch.
func (c *Client) dispatchLoop() {
	for msg := range c.pool.inbound {
		switch msg.Type {
		case message.TypeResponse:
			c.handleResponse(msg)
		case message.TypeCall:
			go c.dispatchCall(msg)
		case message.TypeError:
			obs.L().Warn("client: received ERROR frame", zap.String("message", errString(msg)))
		}
	}
}

func errString(msg *message.Message) string {
	if msg.Error != nil {
		return msg.Error.Message
	}
	return ""
}

// Call issues an outgoing CALL to target.method, per spec.md §4.4.
func (c *Client) Call(target, method string, params any, opts ...CallOption) (any, error) {
	options := applyOptions(opts)

	if !c.connected.Load() {
		return nil, ipcerr.New(ipcerr.NotConnected, "client not connected")
	}

	callCtx := c.resolveContext(options)
	// Append the callee's name, not the caller's own: chain records the
	// path a causal tree has traversed, so each hop's CALL carries the
	// chain up to and including the service about to handle it (spec.md
	// §8 scenario 1: B calls A.echo -> chain=["B","A"]; scenario 2's
	// A->B->C->D nesting extends by the next hop at every level).
	callCtx = ipccontext.Extend(callCtx, target)

	if ipccontext.IsDeadlineExceeded(callCtx) {
		return nil, ipcerr.New(ipcerr.DeadlineExceeded, "context deadline already passed")
	}
	if ipccontext.ExceedsDepth(callCtx, c.cfg.MaxDepth) {
		return nil, ipcerr.New(ipcerr.MaxDepthExceeded, "call depth cap exceeded")
	}

	id := ipccontext.NewRequestID()
	call := &message.Message{
		Type: message.TypeCall, ID: id, From: c.cfg.ServiceName, To: target,
		Method: method, Params: params, Context: callCtx.ToWire(),
	}

	timeout := options.timeout
	if timeout == 0 {
		timeout = c.cfg.CallTimeout
	}
	if remaining := time.Until(callCtx.Deadline); remaining < timeout {
		timeout = remaining
	}

	result := make(chan callResult, 1)
	pr := &pendingRequest{id: id, call: call, result: result, createdAt: time.Now()}
	pr.timer = time.AfterFunc(timeout, func() {
		if p, ok := c.pending.completeOnce(id); ok {
			c.completePending(p, callResult{Err: ipcerr.New(ipcerr.Timeout, "call timed out")})
		}
	})
	c.pending.insert(pr)

	payload, err := c.cfg.Codec.Encode(call)
	if err != nil {
		if p, ok := c.pending.completeOnce(id); ok {
			p.timer.Stop()
		}
		return nil, ipcerr.Wrap(ipcerr.SerializationFailed, err)
	}

	sock, err := c.pool.getConnection()
	if err != nil {
		if p, ok := c.pending.completeOnce(id); ok {
			p.timer.Stop()
		}
		return nil, err
	}
	if err := sock.writeFrame(payload); err != nil {
		if p, ok := c.pending.completeOnce(id); ok {
			p.timer.Stop()
		}
		return nil, ipcerr.Wrap(ipcerr.ConnectionLost, err)
	}

	res := <-result
	c.events.Emit(events.Event{Kind: events.ResponseReceived, Fields: map[string]any{
		"requestId": id, "success": res.Err == nil,
	}})
	return res.Data, res.Err
}

// resolveContext picks the context to use per spec.md §4.4 step 2: an
// explicit override, else the pinned execution context of a nested call,
// else a freshly created root context.
func (c *Client) resolveContext(options callOptions) ipccontext.Context {
	if options.context != nil {
		return *options.context
	}
	if ambient, ok := execctx.Current(); ok {
		return ambient
	}
	timeout := options.timeout
	if timeout == 0 {
		timeout = c.cfg.CallTimeout
	}
	return ipccontext.New(c.cfg.ServiceName, timeout)
}

// handleResponse correlates an inbound RESPONSE to its pendingRequest and
// completes it exactly once, per spec.md §4.4.
func (c *Client) handleResponse(msg *message.Message) {
	p, ok := c.pending.completeOnce(msg.ID)
	if !ok {
		obs.L().Debug("client: dropping RESPONSE with no matching pending entry", zap.String("id", msg.ID))
		return
	}
	p.timer.Stop()

	if msg.Status == message.StatusError {
		code := ipcerr.ExecutionFailed
		msgText := "remote execution failed"
		if msg.Error != nil {
			if msg.Error.Code != "" {
				code = ipcerr.Code(msg.Error.Code)
			}
			if msg.Error.Message != "" {
				msgText = msg.Error.Message
			}
		}
		c.completePending(p, callResult{Err: &ipcerr.Error{Code: code, Message: msgText, Stack: errStack(msg)}})
		return
	}
	c.completePending(p, callResult{Data: msg.Data})
}

func errStack(msg *message.Message) string {
	if msg.Error != nil {
		return msg.Error.Stack
	}
	return ""
}

func (c *Client) completePending(p *pendingRequest, res callResult) {
	select {
	case p.result <- res:
	default:
	}
}

// dispatchCall implements spec.md §4.4 incoming-CALL dispatch.
func (c *Client) dispatchCall(msg *message.Message) {
	callCtx, err := ipccontext.FromWire(msg.Context)
	if err != nil {
		c.replyError(msg, ipcerr.CodeOf(err), err.Error())
		return
	}
	if ipccontext.IsDeadlineExceeded(callCtx) {
		c.replyError(msg, ipcerr.DeadlineExceeded, "deadline already passed")
		return
	}

	handler, ok := c.handlers.Lookup(msg.Method)
	if !ok {
		c.replyMethodNotFound(msg)
		return
	}

	restore := execctx.Pin(callCtx)
	result, err := c.invoke(handler, msg.Params, callCtx)
	restore()

	success := err == nil
	c.events.Emit(events.Event{Kind: events.MethodExecuted, Fields: map[string]any{
		"method": msg.Method, "requestId": msg.ID, "success": success,
	}})

	if err != nil {
		code := ipcerr.ExecutionFailed
		if ipcErr, ok := err.(*ipcerr.Error); ok {
			code = ipcErr.Code
		}
		c.replyError(msg, code, err.Error())
		return
	}
	c.replySuccess(msg, result)
}

// invoke recovers a handler panic into an EXECUTION_FAILED error so the
// execctx restore above always runs and the caller always gets a
// RESPONSE, never a dropped connection.
func (c *Client) invoke(h Handler, params any, ctx ipccontext.Context) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ipcerr.Newf(ipcerr.ExecutionFailed, "handler panicked: %v", r)
		}
	}()
	return h(params, ctx)
}

func (c *Client) replySuccess(call *message.Message, data any) {
	c.sendResponse(&message.Message{
		Type: message.TypeResponse, ID: call.ID, From: call.To, To: call.From,
		Status: message.StatusSuccess, Data: data, Context: call.Context,
	})
}

func (c *Client) replyError(call *message.Message, code ipcerr.Code, msgText string) {
	c.sendResponse(&message.Message{
		Type: message.TypeResponse, ID: call.ID, From: call.To, To: call.From,
		Status: message.StatusError, Context: call.Context,
		Error: &message.ErrorPayload{Code: string(code), Message: msgText},
	})
}

func (c *Client) replyMethodNotFound(call *message.Message) {
	c.sendResponse(&message.Message{
		Type: message.TypeResponse, ID: call.ID, From: call.To, To: call.From,
		Status: message.StatusError, Context: call.Context,
		Error: &message.ErrorPayload{
			Code:    string(ipcerr.MethodNotFound),
			Message: "method not found: " + call.Method,
		},
		Metadata: map[string]any{"availableMethods": c.handlers.Methods()},
	})
}

func (c *Client) sendResponse(resp *message.Message) {
	payload, err := c.cfg.Codec.Encode(resp)
	if err != nil {
		obs.L().Warn("client: failed to encode RESPONSE", zap.Error(err))
		return
	}
	sock, err := c.pool.getConnection()
	if err != nil {
		obs.L().Warn("client: no connection available to send RESPONSE", zap.Error(err))
		return
	}
	if err := sock.writeFrame(payload); err != nil {
		obs.L().Warn("client: failed to write RESPONSE", zap.Error(err))
	}
}
