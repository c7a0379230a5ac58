package client

import (
	"sync"

	"github.com/nirikshan/nestjs-ipc-bro/ipccontext"
)

// Handler is a locally registered method implementation: given the
// deserialized params and the inbound call's execution context, it returns
// a result value or an error. Returning an *ipcerr.Error with an explicit
// Code preserves that code on the wire; any other error defaults to
// EXECUTION_FAILED per spec.md §4.4.
type Handler func(params any, ctx ipccontext.Context) (any, error)

// HandlerRegistry is the unique mapping method name -> Handler described in
// spec.md §3. It is write-once before Connect (spec.md §5 "the handler
// registry is write-once at startup"). Reads are not lock-free: Lookup and
// Methods take a shared read lock, also after Seal.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	sealed   bool
}

// NewHandlerRegistry returns an empty, unsealed registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for method. Panics if called after
// Seal, since the spec requires the set to be fixed before Connect.
func (r *HandlerRegistry) Register(method string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		panic("client: cannot register handler " + method + " after Connect")
	}
	r.handlers[method] = h
}

// Seal freezes the registry; subsequent Register calls panic.
func (r *HandlerRegistry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Lookup returns the handler for method, if registered.
func (r *HandlerRegistry) Lookup(method string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[method]
	return h, ok
}

// Methods returns the registered method names, for REGISTER and for
// METHOD_NOT_FOUND's diagnostic list.
func (r *HandlerRegistry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
