package client

import (
	"sync"
	"time"

	"github.com/nirikshan/nestjs-ipc-bro/message"
)

// pendingRequest is the Client-side record of an outstanding CALL, per
// spec.md §3: the request id, the resolver/rejector (here, a Go channel),
// the timer, the originating CALL for diagnostics, and its creation time.
type pendingRequest struct {
	id        string
	call      *message.Message
	result    chan callResult
	timer     *time.Timer
	createdAt time.Time
}

// callResult is what a Call() invocation eventually receives: either Data
// or Err is set, never both.
type callResult struct {
	Data any
	Err  error
}

// pendingMap owns the request-id -> pendingRequest table. Insert, response-
// driven removal, and timeout-driven removal are serialized under one lock
// so a response and its timeout race can never complete the same caller
// twice (spec.md §5 "Pending-map discipline").
type pendingMap struct {
	mu      sync.Mutex
	entries map[string]*pendingRequest
}

func newPendingMap() *pendingMap {
	return &pendingMap{entries: make(map[string]*pendingRequest)}
}

// insert adds p, keyed by p.id. Spec invariant: at most one pending entry
// per request id — callers generate fresh ids, so collision is not handled
// beyond overwriting (which would indicate an id-generation bug upstream).
func (m *pendingMap) insert(p *pendingRequest) {
	m.mu.Lock()
	m.entries[p.id] = p
	m.mu.Unlock()
}

// completeOnce removes id's entry and returns it, but only the first
// caller (response handler or timeout) to call this for a given id gets a
// non-nil result — the second sees ok==false. This is what makes
// response-vs-timeout races resolve exactly once.
func (m *pendingMap) completeOnce(id string) (*pendingRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	delete(m.entries, id)
	return p, true
}

// drainAll removes and returns every pending entry, for disconnect/shutdown
// handling (spec.md §4.4 "fail every pending entry with CONNECTION_LOST").
func (m *pendingMap) drainAll() []*pendingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*pendingRequest, 0, len(m.entries))
	for _, p := range m.entries {
		out = append(out, p)
	}
	m.entries = make(map[string]*pendingRequest)
	return out
}
