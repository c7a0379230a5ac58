package gateway

import (
	"net"
	"testing"
	"time"

	"github.com/nirikshan/nestjs-ipc-bro/codec"
	"github.com/nirikshan/nestjs-ipc-bro/framing"
	"github.com/nirikshan/nestjs-ipc-bro/ipccontext"
	"github.com/nirikshan/nestjs-ipc-bro/message"
)

// harness drives Gateway.handleConn over an in-memory net.Pipe, standing in
// for a real Unix socket so these tests don't touch the filesystem.
type harness struct {
	g    *Gateway
	c    codec.Codec
	peer net.Conn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	g := New(Config{})
	client, peer := net.Pipe()
	go g.handleConn(client)
	return &harness{g: g, c: codec.Get(codec.TypeJSON), peer: peer}
}

func (h *harness) send(t *testing.T, m *message.Message) {
	t.Helper()
	payload, err := h.c.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := framing.Encode(h.peer, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func (h *harness) recv(t *testing.T) *message.Message {
	t.Helper()
	h.peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload, err := framing.Decode(h.peer)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	m, err := h.c.Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func TestRegisterThenAck(t *testing.T) {
	h := newHarness(t)
	h.send(t, &message.Message{Type: message.TypeRegister, ServiceName: "A", Methods: []string{"echo"}})
	ack := h.recv(t)
	if ack.Type != message.TypeRegisterAck {
		t.Fatalf("got %v, want REGISTER_ACK", ack.Type)
	}
}

func TestDuplicateRegistrationClosesSecondConnection(t *testing.T) {
	g := New(Config{})
	c1, p1 := net.Pipe()
	go g.handleConn(c1)
	hc1 := &harness{g: g, c: codec.Get(codec.TypeJSON), peer: p1}
	hc1.send(t, &message.Message{Type: message.TypeRegister, ServiceName: "A"})
	if ack := hc1.recv(t); ack.Type != message.TypeRegisterAck {
		t.Fatalf("first registration not acked: %v", ack.Type)
	}

	c2, p2 := net.Pipe()
	go g.handleConn(c2)
	hc2 := &harness{g: g, c: codec.Get(codec.TypeJSON), peer: p2}
	hc2.send(t, &message.Message{Type: message.TypeRegister, ServiceName: "A"})
	errMsg := hc2.recv(t)
	if errMsg.Type != message.TypeError || errMsg.Error == nil || errMsg.Error.Code != "CONNECTION_FAILED" {
		t.Fatalf("got %+v, want ERROR/CONNECTION_FAILED", errMsg)
	}
	p2.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := framing.Decode(p2); err == nil {
		t.Fatal("second connection should be closed after the ERROR frame")
	}
}

func TestServiceNotFoundRespondsWithError(t *testing.T) {
	h := newHarness(t)
	h.send(t, &message.Message{Type: message.TypeRegister, ServiceName: "A"})
	h.recv(t) // ack

	callCtx := ipccontext.New("A", time.Second)
	h.send(t, &message.Message{
		Type:    message.TypeCall,
		ID:      "req-1",
		From:    "A",
		To:      "ghost",
		Method:  "any",
		Context: callCtx.ToWire(),
	})
	resp := h.recv(t)
	if resp.Type != message.TypeResponse || resp.Status != message.StatusError {
		t.Fatalf("got %+v, want error RESPONSE", resp)
	}
	if resp.Error == nil || resp.Error.Code != "SERVICE_NOT_FOUND" {
		t.Fatalf("error = %+v, want SERVICE_NOT_FOUND", resp.Error)
	}
	if resp.ID != "req-1" {
		t.Fatalf("RESPONSE id = %q, want req-1 (preserved for pending-map correlation)", resp.ID)
	}
}

func TestCallWithExpiredDeadlineIsRefused(t *testing.T) {
	h := newHarness(t)
	h.send(t, &message.Message{Type: message.TypeRegister, ServiceName: "A"})
	h.recv(t)

	expired := ipccontext.New("A", -time.Second)
	h.send(t, &message.Message{
		Type:    message.TypeCall,
		ID:      "req-2",
		From:    "A",
		To:      "B",
		Method:  "any",
		Context: expired.ToWire(),
	})
	resp := h.recv(t)
	if resp.Error == nil || resp.Error.Code != "DEADLINE_EXCEEDED" {
		t.Fatalf("error = %+v, want DEADLINE_EXCEEDED", resp.Error)
	}
}

func TestRoundTripCallIsRoutedToCallee(t *testing.T) {
	g := New(Config{})

	calleeRaw, calleePeer := net.Pipe()
	go g.handleConn(calleeRaw)
	callee := &harness{g: g, c: codec.Get(codec.TypeJSON), peer: calleePeer}
	callee.send(t, &message.Message{Type: message.TypeRegister, ServiceName: "B", Methods: []string{"echo"}})
	callee.recv(t)

	callerRaw, callerPeer := net.Pipe()
	go g.handleConn(callerRaw)
	caller := &harness{g: g, c: codec.Get(codec.TypeJSON), peer: callerPeer}
	caller.send(t, &message.Message{Type: message.TypeRegister, ServiceName: "A"})
	caller.recv(t)

	ctx := ipccontext.New("A", 5*time.Second)
	caller.send(t, &message.Message{
		Type: message.TypeCall, ID: "req-3", From: "A", To: "B", Method: "echo",
		Params: map[string]any{"v": 42}, Context: ctx.ToWire(),
	})

	call := callee.recv(t)
	if call.Type != message.TypeCall || call.To != "B" || call.Method != "echo" {
		t.Fatalf("callee received %+v, want routed CALL", call)
	}

	callee.send(t, &message.Message{
		Type: message.TypeResponse, ID: call.ID, From: "B", To: "A",
		Status: message.StatusSuccess, Data: call.Params, Context: call.Context,
	})

	resp := caller.recv(t)
	if resp.Status != message.StatusSuccess {
		t.Fatalf("caller response = %+v, want success", resp)
	}
}
