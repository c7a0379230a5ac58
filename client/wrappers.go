package client

import (
	"time"

	"github.com/nirikshan/nestjs-ipc-bro/ipccontext"
	"github.com/nirikshan/nestjs-ipc-bro/ipcerr"
)

// callOptions holds the per-call overrides from spec.md §6
// ("call(target, method, params, options?)").
type callOptions struct {
	timeout time.Duration
	context *ipccontext.Context
}

// CallOption configures a single Call.
type CallOption func(*callOptions)

// WithTimeout overrides the per-call timeout, backing callWithTimeout.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithContext overrides the resolved execution context entirely, bypassing
// both the ambient pinned context and fresh-context creation. Mostly useful
// for tests that need to drive a specific chain/depth/deadline.
func WithContext(ctx ipccontext.Context) CallOption {
	return func(o *callOptions) { o.context = &ctx }
}

func applyOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// CallAll issues parallel calls, one per target, and waits for all of them;
// the first error encountered is returned but every call is still allowed
// to complete before CallAll returns (spec.md §6 "callAll = parallel call").
func (c *Client) CallAll(calls []Invocation) ([]any, error) {
	results := make([]any, len(calls))
	errs := make([]error, len(calls))
	done := make(chan int, len(calls))

	for i, inv := range calls {
		go func(i int, inv Invocation) {
			results[i], errs[i] = c.Call(inv.Target, inv.Method, inv.Params, inv.Options...)
			done <- i
		}(i, inv)
	}
	for range calls {
		<-done
	}
	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Invocation is one leg of a CallAll/CallAllSettled batch.
type Invocation struct {
	Target  string
	Method  string
	Params  any
	Options []CallOption
}

// Settled is one outcome of CallAllSettled: exactly one of Value/Err is set.
type Settled struct {
	Value any
	Err   error
}

// CallAllSettled is CallAll's never-rethrow sibling: every call's outcome
// is reported individually (spec.md §6 "callAllSettled = parallel call that
// never rethrows").
func (c *Client) CallAllSettled(calls []Invocation) []Settled {
	out := make([]Settled, len(calls))
	done := make(chan int, len(calls))
	for i, inv := range calls {
		go func(i int, inv Invocation) {
			data, err := c.Call(inv.Target, inv.Method, inv.Params, inv.Options...)
			out[i] = Settled{Value: data, Err: err}
			done <- i
		}(i, inv)
	}
	for range calls {
		<-done
	}
	return out
}

// CallWithRetry retries a failing call with exponential backoff, skipping
// retry for the non-retryable codes named in spec.md §7
// (METHOD_NOT_FOUND, SERVICE_NOT_FOUND, INVALID_MESSAGE).
func (c *Client) CallWithRetry(target, method string, params any, maxRetries int, baseDelay time.Duration, opts ...CallOption) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		data, err := c.Call(target, method, params, opts...)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !ipcerr.Retryable(err) {
			return nil, err
		}
		if attempt < maxRetries {
			time.Sleep(baseDelay * time.Duration(1<<attempt))
		}
	}
	return nil, lastErr
}

// CallWithTimeout is Call with a per-call timeout override (spec.md §6
// "callWithTimeout = call with a per-call timeout override").
func (c *Client) CallWithTimeout(target, method string, params any, timeout time.Duration) (any, error) {
	return c.Call(target, method, params, WithTimeout(timeout))
}
