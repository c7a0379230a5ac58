// Package registry implements the Gateway's connection registry: the
// in-memory map from service name to ServiceEntry, plus the secondary
// connection->entry index used to find "which service owns this socket" on
// disconnect (spec.md §3 ServiceEntry, §9 "Registry identity").
//
// Unlike the teacher this registry doesn't front an external discovery
// store — the Gateway process *is* the registry, and its entries hold live
// connection handles that cannot be marshalled into a distributed KV store.
// See DESIGN.md for why the teacher's etcd-backed registry was dropped
// rather than adapted.
package registry

import (
	"sync"
	"time"

	"github.com/nirikshan/nestjs-ipc-bro/framing"
)

// Conn is a single registered socket: a write-serialized wrapper around the
// raw transport so concurrent routing goroutines can safely share it.
// Gateway owns the underlying net.Conn; Conn only needs an io.Writer and a
// Close to stay decoupled from net.
type Conn struct {
	ID  string
	raw Writer
	mu  sync.Mutex
}

// Writer is the minimal surface Conn needs from the underlying transport.
type Writer interface {
	Write(p []byte) (int, error)
	Close() error
}

// NewConn wraps raw under the given connection id.
func NewConn(id string, raw Writer) *Conn {
	return &Conn{ID: id, raw: raw}
}

// WriteFrame serializes payload with the length-prefix framing and writes
// it atomically with respect to other WriteFrame calls on this Conn, so
// frames from different concurrent routings never interleave.
func (c *Conn) WriteFrame(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return framing.Encode(writerFunc(c.raw.Write), payload)
}

func (c *Conn) Close() error { return c.raw.Close() }

// writerFunc adapts a Write method value to an io.Writer.
type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// ServiceEntry is the per-registered-service-name record described in
// spec.md §3: a primary connection, an ordered list of pool members for
// pooled services, the advertised (informational) method list, timestamps,
// and the round-robin cursor used for pooled egress selection.
type ServiceEntry struct {
	Name          string
	Methods       []string
	Version       string
	Metadata      map[string]any
	ConnectedAt   time.Time
	LastHeartbeat time.Time

	mu                 sync.Mutex
	primary            *Conn
	pool               []*Conn
	currentSocketIndex int
}

// Primary returns the entry's primary connection.
func (e *ServiceEntry) Primary() *Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.primary
}

// Members returns the primary plus every pool member, useful for callers
// that want a snapshot of all sockets owned by this entry (e.g. on
// shutdown broadcast of a HEARTBEAT).
func (e *ServiceEntry) Members() []*Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Conn, 0, 1+len(e.pool))
	if e.primary != nil {
		out = append(out, e.primary)
	}
	return append(out, e.pool...)
}

// PoolSize returns the number of pool members (0 for a non-pooled entry).
func (e *ServiceEntry) PoolSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pool)
}

// NextEgress selects the connection to write the next CALL on: round-robin
// across pool members if any exist, otherwise the primary. Every pooled
// selection advances the round-robin cursor, matching spec.md §4.2 routing
// rule 3; returning the primary leaves the cursor unchanged.
func (e *ServiceEntry) NextEgress() *Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pool) == 0 {
		return e.primary
	}
	idx := e.currentSocketIndex % len(e.pool)
	e.currentSocketIndex = (e.currentSocketIndex + 1) % len(e.pool)
	return e.pool[idx]
}

// DropMember removes the connection (by id) that failed a write, whether it
// was a pool member or the primary, so the caller can retry NextEgress
// against whatever remains, per spec.md §4.2 "a write failure drops the
// member and retries once". Reports whether any connection remains
// reachable (pool non-empty or primary present).
func (e *ServiceEntry) DropMember(connID string) (remaining bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.primary != nil && e.primary.ID == connID {
		e.primary = nil
	}
	for i, m := range e.pool {
		if m.ID == connID {
			e.pool = append(e.pool[:i], e.pool[i+1:]...)
			if len(e.pool) > 0 {
				e.currentSocketIndex %= len(e.pool)
			} else {
				e.currentSocketIndex = 0
			}
			break
		}
	}
	return e.primary != nil || len(e.pool) > 0
}

// RegisterOutcome describes how Registry.Register resolved a REGISTER frame,
// per spec.md §4.2 registration rules.
type RegisterOutcome int

const (
	// Created means a new ServiceEntry was made; ack with REGISTER_ACK.
	Created RegisterOutcome = iota
	// Appended means conn joined an existing entry's pool; ack with
	// REGISTER_ACK.
	Appended
	// AlreadyRegistered means a non-pooled REGISTER arrived for a name that
	// already has an entry; reply ERROR CONNECTION_FAILED and close conn.
	// The existing entry is left untouched.
	AlreadyRegistered
)

// Registry is the Gateway's connection registry: name -> ServiceEntry and
// connection id -> owning ServiceEntry, updated together under one lock so
// the two indices never disagree (spec.md §9 "Registry identity").
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*ServiceEntry
	byConnID map[string]*ServiceEntry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byName:   make(map[string]*ServiceEntry),
		byConnID: make(map[string]*ServiceEntry),
	}
}

// Register applies the three registration rules from spec.md §4.2.
func (r *Registry) Register(conn *Conn, serviceName string, methods []string, version string, metadata map[string]any, pooled bool) RegisterOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.byName[serviceName]
	if !exists {
		entry = &ServiceEntry{
			Name:          serviceName,
			Methods:       methods,
			Version:       version,
			Metadata:      metadata,
			ConnectedAt:   time.Now(),
			LastHeartbeat: time.Now(),
			primary:       conn,
		}
		r.byName[serviceName] = entry
		r.byConnID[conn.ID] = entry
		return Created
	}

	if !pooled {
		return AlreadyRegistered
	}

	entry.mu.Lock()
	entry.pool = append(entry.pool, conn)
	entry.mu.Unlock()
	r.byConnID[conn.ID] = entry
	return Appended
}

// Lookup returns the ServiceEntry for name, if any.
func (r *Registry) Lookup(name string) (*ServiceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byName[name]
	return entry, ok
}

// OwnerOf returns the ServiceEntry that owns connID, if any.
func (r *Registry) OwnerOf(connID string) (*ServiceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byConnID[connID]
	return entry, ok
}

// ConnectedServices returns the names of every currently registered
// service, for diagnostics (spec.md §4.2 SERVICE_NOT_FOUND payload) and for
// the getConnectedServices testable property (spec.md §8).
func (r *Registry) ConnectedServices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// Disconnect removes connID from the registry, per spec.md §4.2 disconnect
// handling: if connID was an entry's primary, the whole entry (and its pool
// members) is removed; if it was a pool member, only that member is
// trimmed. Returns the affected service name (empty if connID was unknown)
// and whether the whole entry was removed.
func (r *Registry) Disconnect(connID string) (serviceName string, entryRemoved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byConnID[connID]
	if !ok {
		return "", false
	}
	delete(r.byConnID, connID)

	entry.mu.Lock()
	isPrimary := entry.primary != nil && entry.primary.ID == connID
	entry.mu.Unlock()

	if isPrimary {
		delete(r.byName, entry.Name)
		entry.mu.Lock()
		members := append([]*Conn{}, entry.pool...)
		entry.pool = nil
		entry.mu.Unlock()
		for _, m := range members {
			delete(r.byConnID, m.ID)
		}
		return entry.Name, true
	}

	entry.DropMember(connID)
	return entry.Name, false
}

// Touch updates an entry's LastHeartbeat when a HEARTBEAT arrives on connID.
func (r *Registry) Touch(connID string, now time.Time) {
	r.mu.RLock()
	entry, ok := r.byConnID[connID]
	r.mu.RUnlock()
	if ok {
		entry.mu.Lock()
		entry.LastHeartbeat = now
		entry.mu.Unlock()
	}
}
