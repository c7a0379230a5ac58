package middleware

import (
	"time"

	"go.uber.org/zap"

	"github.com/nirikshan/nestjs-ipc-bro/ipccontext"
	"github.com/nirikshan/nestjs-ipc-bro/obs"
)

// Logging records duration and outcome for every invocation of the method
// it wraps. method is fixed at registration time since a client.Handler
// call carries no method name of its own.
func Logging(method string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(params any, ctx ipccontext.Context) (any, error) {
			start := time.Now()
			result, err := next(params, ctx)
			fields := []zap.Field{
				zap.String("method", method),
				zap.Duration("duration", time.Since(start)),
				zap.String("root", ctx.Root),
			}
			if err != nil {
				obs.L().Warn("handler invocation failed", append(fields, zap.Error(err))...)
			} else {
				obs.L().Debug("handler invocation succeeded", fields...)
			}
			return result, err
		}
	}
}
