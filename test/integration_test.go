// Package test exercises the Gateway and Client together over a real Unix
// domain socket, covering end-to-end request flows a unit test within a
// single package can't reach: cross-process-style registration, nested
// causal-context propagation, and pooled egress.
package test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nirikshan/nestjs-ipc-bro/client"
	"github.com/nirikshan/nestjs-ipc-bro/gateway"
	"github.com/nirikshan/nestjs-ipc-bro/ipccontext"
	"github.com/nirikshan/nestjs-ipc-bro/ipcerr"
)

func newTestGateway(t *testing.T) (string, func()) {
	t.Helper()
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "gw.sock")
	g := gateway.New(gateway.Config{SocketPath: sockPath})
	go g.Serve()
	waitForSocket(t, sockPath)
	return sockPath, func() { g.Close() }
}

func waitForSocket(t *testing.T, sockPath string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(sockPath); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("gateway socket never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestClient(sockPath, name string, poolSize int) *client.Client {
	return client.New(client.Config{
		ServiceName: name,
		SocketPath:  sockPath,
		PoolSize:    poolSize,
		CallTimeout: 2 * time.Second,
	})
}

func TestEchoJSONCodec(t *testing.T) {
	sockPath, teardown := newTestGateway(t)
	defer teardown()

	a := newTestClient(sockPath, "A", 1)
	a.Handlers().Register("echo", func(params any, _ ipccontext.Context) (any, error) {
		return params, nil
	})
	if err := a.Connect(); err != nil {
		t.Fatalf("A.Connect: %v", err)
	}
	defer a.Disconnect()

	b := newTestClient(sockPath, "B", 1)
	if err := b.Connect(); err != nil {
		t.Fatalf("B.Connect: %v", err)
	}
	defer b.Disconnect()

	result, err := b.Call("A", "echo", map[string]any{"v": 42.0})
	if err != nil {
		t.Fatalf("B.Call(A.echo): %v", err)
	}
	got, ok := result.(map[string]any)
	if !ok || got["v"] != 42.0 {
		t.Fatalf("result = %#v, want {v:42}", result)
	}
}

// TestNestedDepthThree drives A -> B -> C -> D and checks the terminal
// handler sees depth 4 and the full accumulated chain.
func TestNestedDepthThree(t *testing.T) {
	sockPath, teardown := newTestGateway(t)
	defer teardown()

	var observedDepth int
	var observedChain []string

	d := newTestClient(sockPath, "D", 1)
	d.Handlers().Register("end", func(params any, ctx ipccontext.Context) (any, error) {
		observedDepth = ctx.Depth
		observedChain = ctx.Chain
		return map[string]any{"result": "done"}, nil
	})
	if err := d.Connect(); err != nil {
		t.Fatal(err)
	}
	defer d.Disconnect()

	c := newTestClient(sockPath, "C", 1)
	c.Handlers().Register("hop", func(params any, _ ipccontext.Context) (any, error) {
		return c.Call("D", "end", nil)
	})
	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	b := newTestClient(sockPath, "B", 1)
	b.Handlers().Register("hop", func(params any, _ ipccontext.Context) (any, error) {
		return b.Call("C", "hop", nil)
	})
	if err := b.Connect(); err != nil {
		t.Fatal(err)
	}
	defer b.Disconnect()

	a := newTestClient(sockPath, "A", 1)
	if err := a.Connect(); err != nil {
		t.Fatal(err)
	}
	defer a.Disconnect()

	result, err := a.Call("B", "hop", nil)
	if err != nil {
		t.Fatalf("A.Call(B.hop): %v", err)
	}
	got, ok := result.(map[string]any)
	if !ok || got["result"] != "done" {
		t.Fatalf("result = %#v, want {result:done}", result)
	}
	if observedDepth != 4 {
		t.Fatalf("observed depth at D = %d, want 4", observedDepth)
	}
	wantChain := []string{"A", "B", "C", "D"}
	if len(observedChain) != len(wantChain) {
		t.Fatalf("observed chain = %v, want %v", observedChain, wantChain)
	}
	for i, name := range wantChain {
		if observedChain[i] != name {
			t.Fatalf("observed chain = %v, want %v", observedChain, wantChain)
		}
	}
}

func TestMethodNotFound(t *testing.T) {
	sockPath, teardown := newTestGateway(t)
	defer teardown()

	b := newTestClient(sockPath, "B", 1)
	b.Handlers().Register("other", func(params any, _ ipccontext.Context) (any, error) { return nil, nil })
	if err := b.Connect(); err != nil {
		t.Fatal(err)
	}
	defer b.Disconnect()

	a := newTestClient(sockPath, "A", 1)
	if err := a.Connect(); err != nil {
		t.Fatal(err)
	}
	defer a.Disconnect()

	_, err := a.Call("B", "nosuch", map[string]any{})
	if !ipcerr.Is(err, ipcerr.MethodNotFound) {
		t.Fatalf("err = %v, want METHOD_NOT_FOUND", err)
	}
}

func TestServiceNotFound(t *testing.T) {
	sockPath, teardown := newTestGateway(t)
	defer teardown()

	a := newTestClient(sockPath, "A", 1)
	if err := a.Connect(); err != nil {
		t.Fatal(err)
	}
	defer a.Disconnect()

	_, err := a.Call("ghost", "any", map[string]any{})
	if !ipcerr.Is(err, ipcerr.ServiceNotFound) {
		t.Fatalf("err = %v, want SERVICE_NOT_FOUND", err)
	}
}

func TestTimeoutWithoutHandlerResponse(t *testing.T) {
	sockPath, teardown := newTestGateway(t)
	defer teardown()

	b := newTestClient(sockPath, "B", 1)
	hang := make(chan struct{})
	b.Handlers().Register("hang", func(params any, _ ipccontext.Context) (any, error) {
		<-hang
		return nil, nil
	})
	if err := b.Connect(); err != nil {
		t.Fatal(err)
	}
	defer func() { close(hang); b.Disconnect() }()

	a := newTestClient(sockPath, "A", 1)
	if err := a.Connect(); err != nil {
		t.Fatal(err)
	}
	defer a.Disconnect()

	start := time.Now()
	_, err := a.Call("B", "hang", map[string]any{}, client.WithTimeout(200*time.Millisecond))
	elapsed := time.Since(start)
	if !ipcerr.Is(err, ipcerr.Timeout) {
		t.Fatalf("err = %v, want TIMEOUT", err)
	}
	if elapsed > time.Second {
		t.Fatalf("took %v, want ~200ms", elapsed)
	}
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	sockPath, teardown := newTestGateway(t)
	defer teardown()

	a1 := newTestClient(sockPath, "A", 1)
	a1.Handlers().Register("ping", func(params any, _ ipccontext.Context) (any, error) { return "pong", nil })
	if err := a1.Connect(); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	defer a1.Disconnect()

	a2 := newTestClient(sockPath, "A", 1)
	if err := a2.Connect(); err == nil {
		t.Fatal("second registration of the same name should fail")
	}

	caller := newTestClient(sockPath, "C", 1)
	if err := caller.Connect(); err != nil {
		t.Fatal(err)
	}
	defer caller.Disconnect()

	if got, err := caller.Call("A", "ping", nil); err != nil || got != "pong" {
		t.Fatalf("first registration should stay usable: got (%v, %v), want pong", got, err)
	}
}

func TestPooledEgressServesAllCalls(t *testing.T) {
	sockPath, teardown := newTestGateway(t)
	defer teardown()

	echo := newTestClient(sockPath, "Echo", 3)
	echo.Handlers().Register("echo", func(params any, _ ipccontext.Context) (any, error) { return params, nil })
	if err := echo.Connect(); err != nil {
		t.Fatal(err)
	}
	defer echo.Disconnect()

	a := newTestClient(sockPath, "A", 1)
	if err := a.Connect(); err != nil {
		t.Fatal(err)
	}
	defer a.Disconnect()

	for i := 0; i < 9; i++ {
		if _, err := a.Call("Echo", "echo", map[string]any{"i": float64(i)}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
}

// TestGatewayRestartWithPoolReconnect kills the Gateway mid-session and
// brings up a replacement on the same socket path, then checks the
// Client's pool reconnects on its own within maxReconnectAttempts.
func TestGatewayRestartWithPoolReconnect(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "gw.sock")

	g := gateway.New(gateway.Config{SocketPath: sockPath})
	go g.Serve()
	waitForSocket(t, sockPath)

	b := newTestClient(sockPath, "B", 1)
	b.Handlers().Register("ping", func(params any, _ ipccontext.Context) (any, error) { return "pong", nil })
	if err := b.Connect(); err != nil {
		t.Fatal(err)
	}
	defer b.Disconnect()

	a := newTestClient(sockPath, "A", 1)
	if err := a.Connect(); err != nil {
		t.Fatal(err)
	}
	defer a.Disconnect()

	if _, err := a.Call("B", "ping", nil); err != nil {
		t.Fatalf("pre-restart call: %v", err)
	}

	g.Close()
	time.Sleep(50 * time.Millisecond)
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}

	g2 := gateway.New(gateway.Config{SocketPath: sockPath})
	go g2.Serve()
	defer g2.Close()
	waitForSocket(t, sockPath)

	var lastErr error
	for i := 0; i < 50; i++ {
		if _, err := a.Call("B", "ping", nil); err == nil {
			return
		} else {
			lastErr = err
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("pool never reconnected after gateway restart: %v", lastErr)
}
