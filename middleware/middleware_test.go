package middleware

import (
	"testing"
	"time"

	"github.com/nirikshan/nestjs-ipc-bro/ipccontext"
	"github.com/nirikshan/nestjs-ipc-bro/ipcerr"
)

func echoHandler(params any, _ ipccontext.Context) (any, error) {
	return params, nil
}

func TestLogging(t *testing.T) {
	handler := Logging("Arith.add")(echoHandler)
	result, err := handler(42, ipccontext.New("caller", time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Fatalf("result = %v, want 42", result)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1/s, burst=2: first two calls pass, the third is rejected.
	handler := RateLimit(1, 2)(echoHandler)
	ctx := ipccontext.New("caller", time.Second)

	for i := 0; i < 2; i++ {
		if _, err := handler(nil, ctx); err != nil {
			t.Fatalf("call %d should pass, got %v", i, err)
		}
	}
	_, err := handler(nil, ctx)
	if !ipcerr.Is(err, ipcerr.ExecutionFailed) {
		t.Fatalf("call 3 should be rate limited, got %v", err)
	}
}

func TestChain(t *testing.T) {
	chained := Chain(Logging("Arith.add"), RateLimit(100, 10))
	handler := chained(echoHandler)

	result, err := handler("hi", ipccontext.New("caller", time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "hi" {
		t.Fatalf("result = %v, want hi", result)
	}
}

func TestWrap(t *testing.T) {
	handler := Wrap(echoHandler, Logging("Arith.add"))
	result, err := handler(7, ipccontext.New("caller", time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 7 {
		t.Fatalf("result = %v, want 7", result)
	}
}
