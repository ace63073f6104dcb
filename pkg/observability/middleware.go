package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/chancetop/aistream-go/pkg/protocol"
	"github.com/chancetop/aistream-go/pkg/transport"
)

// MiddlewareConfig configures the enhanced observability middleware
type MiddlewareConfig struct {
	// Tracer creates one span per transport lifecycle and propagates it in
	// outbound request headers. Nil disables tracing.
	Tracer *TracingProvider
	// Metrics counts signals and open latency. Nil disables metrics.
	Metrics MetricsProvider

	// CaptureFrames records frame payloads as span event attributes.
	CaptureFrames bool
	// MaxCapturedBytes bounds each captured payload (default 1024).
	MaxCapturedBytes int
}

// EnhancedObservabilityMiddleware provides tracing and Prometheus metrics
// for every transport built by a factory.
type EnhancedObservabilityMiddleware struct {
	config MiddlewareConfig
}

// NewEnhancedObservabilityMiddleware creates a new enhanced observability middleware
func NewEnhancedObservabilityMiddleware(config MiddlewareConfig) *EnhancedObservabilityMiddleware {
	if config.MaxCapturedBytes <= 0 {
		config.MaxCapturedBytes = 1024
	}
	return &EnhancedObservabilityMiddleware{config: config}
}

// Wrap implements the transport.Middleware interface
func (m *EnhancedObservabilityMiddleware) Wrap(next transport.Transport) transport.Transport {
	return &observabilityTransport{
		Transport:  transport.NewMiddlewareBase(next),
		middleware: m,
	}
}

// observabilityTransport decorates Start and Cancel of the wrapped transport
type observabilityTransport struct {
	transport.Transport
	middleware *EnhancedObservabilityMiddleware

	mu      sync.Mutex
	span    trace.Span
	endOnce sync.Once
}

// Start opens the lifecycle span, injects its context into the request
// headers and instruments every signal.
func (ot *observabilityTransport) Start(ctx context.Context, req *protocol.ResolvedRequest, handler transport.Handler) error {
	cfg := ot.middleware.config
	kind := string(ot.Kind())
	start := time.Now()

	if cfg.Tracer != nil {
		var span trace.Span
		ctx, span = cfg.Tracer.StartLifecycleSpan(ctx, kind, req.Method, req.URL, req.TraceID)
		ot.mu.Lock()
		ot.span = span
		ot.mu.Unlock()

		req = withPropagation(ctx, cfg.Tracer, req)
	}

	var openedOnce sync.Once
	wrapped := func(sig transport.Signal) {
		if cfg.Metrics != nil {
			cfg.Metrics.RecordSignal(ctx, kind, sig.Type.String())
			if sig.Type == transport.SignalOpened {
				openedOnce.Do(func() {
					cfg.Metrics.RecordOpen(ctx, kind, time.Since(start))
				})
			}
		}
		ot.traceSignal(sig)
		handler(sig)
	}

	err := ot.Transport.Start(ctx, req, wrapped)
	if err != nil {
		ot.endSpan(func(span trace.Span) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		})
	}
	return err
}

// Cancel ends the lifecycle span and delegates.
func (ot *observabilityTransport) Cancel() {
	ot.Transport.Cancel()
	ot.endSpan(func(span trace.Span) {
		span.AddEvent("cancelled")
	})
}

func (ot *observabilityTransport) traceSignal(sig transport.Signal) {
	ot.mu.Lock()
	span := ot.span
	ot.mu.Unlock()
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Int("attempt", sig.Attempt),
	}
	if sig.StatusCode != 0 {
		attrs = append(attrs, attribute.Int("http.status_code", sig.StatusCode))
	}
	if sig.Event != "" {
		attrs = append(attrs, attribute.String("sse.event", sig.Event))
	}
	if ot.middleware.config.CaptureFrames && len(sig.Data) > 0 {
		data := sig.Data
		if len(data) > ot.middleware.config.MaxCapturedBytes {
			data = data[:ot.middleware.config.MaxCapturedBytes]
		}
		attrs = append(attrs, attribute.String("sse.data", string(data)))
	}
	span.AddEvent(sig.Type.String(), trace.WithAttributes(attrs...))

	switch {
	case sig.Type == transport.SignalCompleted:
		ot.endSpan(func(span trace.Span) {
			span.SetStatus(codes.Ok, "")
		})
	case sig.Type == transport.SignalFailed && sig.Final:
		ot.endSpan(func(span trace.Span) {
			span.SetStatus(codes.Error, failureDescription(sig))
		})
	}
}

func (ot *observabilityTransport) endSpan(finish func(trace.Span)) {
	ot.mu.Lock()
	span := ot.span
	ot.mu.Unlock()
	if span == nil {
		return
	}
	ot.endOnce.Do(func() {
		finish(span)
		span.End()
	})
}

// withPropagation returns a copy of req whose headers carry the W3C trace
// context of ctx.
func withPropagation(ctx context.Context, tracer *TracingProvider, req *protocol.ResolvedRequest) *protocol.ResolvedRequest {
	carrier := propagation.MapCarrier{}
	tracer.Inject(ctx, carrier)
	if len(carrier) == 0 {
		return req
	}

	out := *req
	out.Headers = make(map[string]string, len(req.Headers)+len(carrier))
	for k, v := range req.Headers {
		out.Headers[k] = v
	}
	for k, v := range carrier {
		out.Headers[k] = v
	}
	return &out
}

func failureDescription(sig transport.Signal) string {
	if sig.Err != nil {
		return sig.Err.Error()
	}
	if sig.StatusCode != 0 {
		return fmt.Sprintf("%d %s", sig.StatusCode, sig.StatusText)
	}
	return "failed"
}
