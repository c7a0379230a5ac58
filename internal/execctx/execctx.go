// Package execctx implements the "current execution context" ambient scope
// described in spec.md §5 and §9: the ipccontext.Context a nested call()
// inherits must be task-local to the dispatching handler invocation, not a
// process global, and concurrent dispatches must see independent values.
//
// Go has no built-in task-local-storage primitive (no goroutine-scoped
// variables). Per the runtime notes in spec.md §9 ("the dispatcher wraps
// handler invocation with an explicit ambient scope whose lifetime matches
// the handler"), this package approximates task-local storage by keying a
// small table on the calling goroutine's runtime id, extracted from
// runtime.Stack. This never crosses a goroutine boundary — a handler that
// spawns its own goroutine and calls Call() from it will NOT see the pinned
// context, matching "concurrent dispatches see independent contexts" since
// that spawned goroutine is, in fact, a different task.
package execctx

import (
	"runtime"
	"strconv"
	"sync"

	"github.com/nirikshan/nestjs-ipc-bro/ipccontext"
)

var (
	mu    sync.RWMutex
	table = map[uint64]ipccontext.Context{}
)

// Pin installs c as the ambient execution context for the calling
// goroutine and returns a restore func. Callers MUST `defer restore()`
// immediately after Pin so the slot unwinds correctly on every exit path,
// including a handler panic.
func Pin(c ipccontext.Context) (restore func()) {
	id := goroutineID()
	mu.Lock()
	prev, had := table[id]
	table[id] = c
	mu.Unlock()
	return func() {
		mu.Lock()
		if had {
			table[id] = prev
		} else {
			delete(table, id)
		}
		mu.Unlock()
	}
}

// Current returns the ambient context pinned for the calling goroutine, if
// any is currently pinned.
func Current() (ipccontext.Context, bool) {
	id := goroutineID()
	mu.RLock()
	c, ok := table[id]
	mu.RUnlock()
	return c, ok
}

// goroutineID extracts the numeric id runtime.Stack prints as the first
// token of "goroutine NNN [state]:". It is only ever used as a map key for
// this package's own table, never exposed or relied on for anything else.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	line := buf[:n]

	const prefix = "goroutine "
	if len(line) <= len(prefix) {
		return 0
	}
	line = line[len(prefix):]

	end := 0
	for end < len(line) && line[end] != ' ' {
		end++
	}
	id, err := strconv.ParseUint(string(line[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
