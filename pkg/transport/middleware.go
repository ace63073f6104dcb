package transport

import (
	"context"

	"github.com/chancetop/aistream-go/pkg/protocol"
)

// Middleware represents a transport middleware that can wrap a transport
// to add additional functionality like logging, tracing or metrics.
type Middleware interface {
	// Wrap wraps the given transport with middleware functionality
	Wrap(transport Transport) Transport
}

// MiddlewareFunc is an adapter to allow the use of ordinary functions as middleware
type MiddlewareFunc func(Transport) Transport

// Wrap implements the Middleware interface
func (f MiddlewareFunc) Wrap(t Transport) Transport {
	return f(t)
}

// ChainMiddleware chains multiple middleware together
func ChainMiddleware(middleware ...Middleware) Middleware {
	return MiddlewareFunc(func(transport Transport) Transport {
		// Apply middleware in reverse order so the first middleware is the outermost
		for i := len(middleware) - 1; i >= 0; i-- {
			if middleware[i] == nil {
				continue
			}
			transport = middleware[i].Wrap(transport)
		}
		return transport
	})
}

// middlewareTransport is a base type for middleware implementations
type middlewareTransport struct {
	next Transport
}

// Start delegates to the wrapped transport
func (m *middlewareTransport) Start(ctx context.Context, req *protocol.ResolvedRequest, handler Handler) error {
	return m.next.Start(ctx, req, handler)
}

// Cancel delegates to the wrapped transport
func (m *middlewareTransport) Cancel() {
	m.next.Cancel()
}

// Active delegates to the wrapped transport
func (m *middlewareTransport) Active() bool {
	return m.next.Active()
}

// Kind delegates to the wrapped transport
func (m *middlewareTransport) Kind() Kind {
	return m.next.Kind()
}

// ID delegates to the wrapped transport
func (m *middlewareTransport) ID() string {
	return m.next.ID()
}

// NewMiddlewareBase returns a transport that delegates every call to next.
// Middleware defined outside this package embed it and override the methods
// they decorate.
func NewMiddlewareBase(next Transport) Transport {
	return &middlewareTransport{next: next}
}
