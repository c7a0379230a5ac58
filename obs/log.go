// Package obs provides a thin global wrapper around zap.Logger so that the
// gateway and client packages can log without threading a logger through
// every constructor. Host processes install their own *zap.Logger once at
// startup; library code that runs before that call still logs safely to a
// no-op sink.
package obs

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var global atomic.Pointer[zap.Logger]

// Set installs logger as the process-wide logger. A nil logger installs a
// no-op sink instead of panicking, so tests can call Set(nil) to silence
// output.
func Set(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	global.Store(logger)
}

// L returns the installed logger, or a no-op logger if none was set.
func L() *zap.Logger {
	if logger := global.Load(); logger != nil {
		return logger
	}
	nop := zap.NewNop()
	global.Store(nop)
	return nop
}

// S is shorthand for L().Sugar().
func S() *zap.SugaredLogger { return L().Sugar() }
