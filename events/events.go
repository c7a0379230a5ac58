// Package events implements the small synchronous pub/sub bus backing the
// lifecycle callback hooks named in spec.md §6 as an external-collaborator
// interface ("callback hooks on lifecycle events"): connected, disconnected,
// registered, method-executed, response-received, log, plus the Gateway's
// own service-not-found diagnostic (spec.md §8 scenario 4).
package events

import "sync"

// Kind names one lifecycle event.
type Kind string

const (
	Connected        Kind = "connected"
	Disconnected     Kind = "disconnected"
	Registered       Kind = "registered"
	MethodExecuted   Kind = "method-executed"
	ResponseReceived Kind = "response-received"
	Log              Kind = "log"
	ServiceNotFound  Kind = "service-not-found"
)

// Event is one occurrence of a Kind with free-form fields, mirroring the
// structured records described in spec.md §6 (e.g.
// "method-executed {method, requestId, success, error?}").
type Event struct {
	Kind   Kind
	Fields map[string]any
}

// Bus is a synchronous, multi-subscriber event dispatcher. Emit calls every
// subscriber inline on the caller's goroutine — subscribers that need to do
// slow work should hand off themselves, matching the teacher's pattern of
// keeping hot paths (routing, dispatch) free of unbounded fan-out.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Kind][]func(Event)
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[Kind][]func(Event))}
}

// On registers fn to be called for every Event of the given kind.
func (b *Bus) On(kind Kind, fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[kind] = append(b.subscribers[kind], fn)
}

// Emit dispatches e to every subscriber registered for e.Kind.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	fns := append([]func(Event){}, b.subscribers[e.Kind]...)
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}
