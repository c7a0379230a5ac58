package middleware

import (
	"golang.org/x/time/rate"

	"github.com/nirikshan/nestjs-ipc-bro/ipccontext"
	"github.com/nirikshan/nestjs-ipc-bro/ipcerr"
)

// RateLimit caps invocations of the wrapped handler to r per second with
// bursts up to burst, using a token bucket. The limiter is built once in the
// outer closure (shared across every call through this chain) — building it
// per-call would hand every request a full bucket and defeat the limit.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(params any, ctx ipccontext.Context) (any, error) {
			if !limiter.Allow() {
				return nil, ipcerr.New(ipcerr.ExecutionFailed, "rate limit exceeded")
			}
			return next(params, ctx)
		}
	}
}
