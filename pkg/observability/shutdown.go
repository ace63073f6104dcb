// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for stream controllers and their transports.
package observability

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Shutdowner is implemented by the metrics and tracing providers.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Shutdown shuts down all providers concurrently and returns the first error.
// Nil entries are skipped.
func Shutdown(ctx context.Context, providers ...Shutdowner) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range providers {
		if p == nil {
			continue
		}
		p := p
		g.Go(func() error {
			return p.Shutdown(ctx)
		})
	}
	return g.Wait()
}
