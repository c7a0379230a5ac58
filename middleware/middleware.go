// Package middleware implements an onion-model chain around a Client's
// locally registered handlers: cross-cutting concerns (logging, rate
// limiting) wrap the business handler without the handler itself knowing
// about them.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Call:     A.before → B.before → C.before → handler
//	Return:   handler → C.after → B.after → A.after
package middleware

import "github.com/nirikshan/nestjs-ipc-bro/client"

// HandlerFunc is a client.Handler in the middleware's vocabulary: the
// business handler and every middleware-wrapped handler share this
// signature, so a chain is just repeated decoration of the same type.
type HandlerFunc = client.Handler

// Middleware takes a handler and returns a new handler wrapping it.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one, with the first argument as the
// outermost layer (runs first on the way in, last on the way out).
//
//	wrapped := Chain(Logging("Arith.add"), RateLimit(50, 10))(handler)
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Wrap is a convenience for registering a handler through a middleware
// chain in one call: client.Handlers().Register(method, middleware.Wrap(h, ...)).
func Wrap(h HandlerFunc, mws ...Middleware) HandlerFunc {
	return Chain(mws...)(h)
}
