// Package ipccontext implements id generation and the {root, chain, depth,
// deadline} causal context propagated with every CALL and RESPONSE, per
// spec.md §4.5.
package ipccontext

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/nirikshan/nestjs-ipc-bro/ipcerr"
	"github.com/nirikshan/nestjs-ipc-bro/message"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewID returns an id of the form "{prefix}-{ms-since-epoch}-{6-char base36
// random}". Uniqueness per process is sufficient; ids are opaque to the
// router. prefix is "req" for CALLs and "root" for the root of a causal
// chain (see NewRoot).
func NewID(prefix string) string {
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), randomBase36(6))
}

// NewRoot returns a fresh root correlation id ("root-...").
func NewRoot() string { return NewID("root") }

// NewRequestID returns a fresh CALL id ("req-...").
func NewRequestID() string { return NewID("req") }

func randomBase36(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(base36Alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failure is effectively unrecoverable entropy
			// starvation; degrade to a fixed but still-unique-enough digit
			// rather than panicking a live IPC connection.
			out[i] = base36Alphabet[0]
			continue
		}
		out[i] = base36Alphabet[idx.Int64()]
	}
	return string(out)
}

// Context is the causal-propagation tuple. message.IPCContext is its wire
// twin; Context is the type business code and the client/gateway operate on.
type Context struct {
	Root     string
	Chain    []string
	Depth    int
	Deadline time.Time
}

// New creates the root context for a freshly originated call, per
// spec.md §4.5: createContext(serviceName, timeoutMs).
func New(serviceName string, timeout time.Duration) Context {
	return Context{
		Root:     NewRoot(),
		Chain:    []string{serviceName},
		Depth:    1,
		Deadline: time.Now().Add(timeout),
	}
}

// Extend appends serviceName to the chain and increments depth, preserving
// root and deadline unchanged — the only two invariant fields across every
// hop, per spec.md §3.
func Extend(c Context, serviceName string) Context {
	chain := make([]string, len(c.Chain)+1)
	copy(chain, c.Chain)
	chain[len(c.Chain)] = serviceName
	return Context{
		Root:     c.Root,
		Chain:    chain,
		Depth:    c.Depth + 1,
		Deadline: c.Deadline,
	}
}

// IsDeadlineExceeded reports whether the context's deadline has passed. This
// is monotonic in wall-clock time: once true, it stays true.
func IsDeadlineExceeded(c Context) bool {
	return time.Now().After(c.Deadline)
}

// ExceedsDepth reports whether c.Depth is beyond the configured cap.
func ExceedsDepth(c Context, cap int) bool {
	return c.Depth > cap
}

// ToWire converts a Context to its wire representation.
func (c Context) ToWire() *message.IPCContext {
	return &message.IPCContext{
		Root:     c.Root,
		Chain:    append([]string(nil), c.Chain...),
		Depth:    c.Depth,
		Deadline: c.Deadline.UnixMilli(),
	}
}

// FromWire parses and validates a wire IPCContext, per spec.md §4.5
// validateContext: a string root, an array chain, a number depth >= 1, a
// number deadline. Anything else fails INVALID_CONTEXT.
func FromWire(w *message.IPCContext) (Context, error) {
	if w == nil {
		return Context{}, ipcerr.New(ipcerr.InvalidContext, "missing context")
	}
	if w.Root == "" {
		return Context{}, ipcerr.New(ipcerr.InvalidContext, "context.root must be a non-empty string")
	}
	if w.Chain == nil {
		return Context{}, ipcerr.New(ipcerr.InvalidContext, "context.chain must be an array")
	}
	if w.Depth < 1 {
		return Context{}, ipcerr.New(ipcerr.InvalidContext, "context.depth must be >= 1")
	}
	if w.Deadline == 0 {
		return Context{}, ipcerr.New(ipcerr.InvalidContext, "context.deadline must be a number")
	}
	return Context{
		Root:     w.Root,
		Chain:    append([]string(nil), w.Chain...),
		Depth:    w.Depth,
		Deadline: time.UnixMilli(w.Deadline),
	}, nil
}

// Validate is FromWire without the conversion, for callers that only need to
// check well-formedness.
func Validate(w *message.IPCContext) error {
	_, err := FromWire(w)
	return err
}
