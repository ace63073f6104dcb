package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chancetop/aistream-go/pkg/logging"
	"github.com/chancetop/aistream-go/pkg/protocol"
)

// ObservabilityConfig configures NewObservabilityMiddleware.
type ObservabilityConfig struct {
	EnableMetrics bool           `json:"enable_metrics"`
	EnableLogging bool           `json:"enable_logging"`
	Logger        logging.Logger `json:"-"`
}

// ObservabilityMiddleware adds logging and in-process signal counters to
// every transport it wraps. One middleware instance aggregates over all the
// transports a factory creates.
type ObservabilityMiddleware struct {
	config  ObservabilityConfig
	metrics *transportMetrics
	logger  logging.Logger
}

// NewObservabilityMiddleware creates a new observability middleware
func NewObservabilityMiddleware(config ObservabilityConfig) *ObservabilityMiddleware {
	logger := config.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &ObservabilityMiddleware{
		config:  config,
		metrics: newTransportMetrics(),
		logger:  logger.WithFields(logging.String("component", "transport")),
	}
}

// Wrap implements the Middleware interface
func (om *ObservabilityMiddleware) Wrap(transport Transport) Transport {
	return &observabilityTransport{
		middlewareTransport: middlewareTransport{next: transport},
		middleware:          om,
	}
}

// GetMetrics returns the current metrics snapshot
func (om *ObservabilityMiddleware) GetMetrics() *TransportMetricsSnapshot {
	if !om.config.EnableMetrics {
		return nil
	}
	return om.metrics.snapshot()
}

// observabilityTransport wraps a transport with observability features
type observabilityTransport struct {
	middlewareTransport
	middleware *ObservabilityMiddleware
}

// Start wraps the handler so that every signal is logged and counted.
func (ot *observabilityTransport) Start(ctx context.Context, req *protocol.ResolvedRequest, handler Handler) error {
	om := ot.middleware
	kind := ot.Kind()
	start := time.Now()

	logger := om.logger.WithFields(
		logging.String("kind", string(kind)),
		logging.String("transport_id", ot.ID()),
		logging.String("trace_id", req.TraceID),
	)

	if om.config.EnableLogging {
		logger.Debug("Starting transport", logging.String("method", req.Method), logging.String("url", req.URL))
	}

	var opened atomic.Bool
	wrapped := func(sig Signal) {
		if om.config.EnableMetrics {
			om.metrics.incSignal(kind, sig.Type)
			if sig.Type == SignalOpened && opened.CompareAndSwap(false, true) {
				om.metrics.observeOpenLatency(kind, time.Since(start))
			}
		}
		if om.config.EnableLogging {
			switch sig.Type {
			case SignalFailed:
				fields := []logging.Field{
					logging.String("signal", sig.Type.String()),
					logging.Int("status", sig.StatusCode),
					logging.Int("attempt", sig.Attempt),
					logging.Bool("final", sig.Final),
				}
				if sig.Err != nil {
					fields = append(fields, logging.ErrorField(sig.Err))
				}
				logger.Warn("Transport signal", fields...)
			case SignalMessage:
				logger.Debug("Transport signal",
					logging.String("signal", sig.Type.String()),
					logging.String("event", sig.Event),
					logging.Int("bytes", len(sig.Data)))
			default:
				logger.Debug("Transport signal",
					logging.String("signal", sig.Type.String()),
					logging.Int("attempt", sig.Attempt),
					logging.Duration("elapsed", time.Since(start)))
			}
		}
		handler(sig)
	}

	err := ot.middlewareTransport.Start(ctx, req, wrapped)
	if om.config.EnableMetrics {
		om.metrics.incStart(kind, err)
	}
	if err != nil && om.config.EnableLogging {
		logger.Error("Transport failed to start", logging.ErrorField(err))
	}
	return err
}

// Cancel records the cancellation and delegates.
func (ot *observabilityTransport) Cancel() {
	if ot.middleware.config.EnableMetrics && ot.Active() {
		ot.middleware.metrics.incCancel(ot.Kind())
	}
	ot.middlewareTransport.Cancel()
}

// transportMetrics holds per-kind transport counters
type transportMetrics struct {
	mu    sync.RWMutex
	kinds map[Kind]*kindMetrics
}

type kindMetrics struct {
	starts      atomic.Int64
	startErrors atomic.Int64
	cancels     atomic.Int64
	signals     [4]atomic.Int64
	openLatency durationTracker
}

// newTransportMetrics creates a new metrics collection
func newTransportMetrics() *transportMetrics {
	return &transportMetrics{kinds: make(map[Kind]*kindMetrics)}
}

func (tm *transportMetrics) forKind(kind Kind) *kindMetrics {
	tm.mu.RLock()
	km, ok := tm.kinds[kind]
	tm.mu.RUnlock()
	if ok {
		return km
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	if km, ok = tm.kinds[kind]; !ok {
		km = &kindMetrics{}
		tm.kinds[kind] = km
	}
	return km
}

func (tm *transportMetrics) incStart(kind Kind, err error) {
	km := tm.forKind(kind)
	km.starts.Add(1)
	if err != nil {
		km.startErrors.Add(1)
	}
}

func (tm *transportMetrics) incCancel(kind Kind) {
	tm.forKind(kind).cancels.Add(1)
}

func (tm *transportMetrics) incSignal(kind Kind, t SignalType) {
	if t < SignalOpened || t > SignalCompleted {
		return
	}
	tm.forKind(kind).signals[t].Add(1)
}

func (tm *transportMetrics) observeOpenLatency(kind Kind, d time.Duration) {
	tm.forKind(kind).openLatency.observe(d)
}

// durationTracker tracks duration statistics
type durationTracker struct {
	count   atomic.Int64
	totalNs atomic.Int64
	minNs   atomic.Int64
	maxNs   atomic.Int64
	mu      sync.Mutex
}

func (dt *durationTracker) observe(duration time.Duration) {
	nanos := duration.Nanoseconds()

	dt.count.Add(1)
	dt.totalNs.Add(nanos)

	dt.mu.Lock()
	if current := dt.minNs.Load(); current == 0 || nanos < current {
		dt.minNs.Store(nanos)
	}
	if current := dt.maxNs.Load(); nanos > current {
		dt.maxNs.Store(nanos)
	}
	dt.mu.Unlock()
}

func (dt *durationTracker) stats() DurationMetrics {
	c := dt.count.Load()
	if c == 0 {
		return DurationMetrics{}
	}
	totalNs := dt.totalNs.Load()
	return DurationMetrics{
		Count: c,
		Total: time.Duration(totalNs),
		Min:   time.Duration(dt.minNs.Load()),
		Max:   time.Duration(dt.maxNs.Load()),
		Avg:   time.Duration(totalNs / c),
	}
}

// TransportMetricsSnapshot represents a point-in-time view of transport metrics
type TransportMetricsSnapshot struct {
	Kinds map[Kind]KindMetrics `json:"kinds"`
}

// KindMetrics represents the counters of one transport kind
type KindMetrics struct {
	Starts      int64           `json:"starts"`
	StartErrors int64           `json:"start_errors"`
	Cancels     int64           `json:"cancels"`
	Opened      int64           `json:"opened"`
	Messages    int64           `json:"messages"`
	Failed      int64           `json:"failed"`
	Completed   int64           `json:"completed"`
	OpenLatency DurationMetrics `json:"open_latency"`
}

// DurationMetrics represents duration statistics
type DurationMetrics struct {
	Count int64         `json:"count"`
	Total time.Duration `json:"total"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// snapshot creates a snapshot of current metrics
func (tm *transportMetrics) snapshot() *TransportMetricsSnapshot {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	snapshot := &TransportMetricsSnapshot{Kinds: make(map[Kind]KindMetrics, len(tm.kinds))}
	for kind, km := range tm.kinds {
		snapshot.Kinds[kind] = KindMetrics{
			Starts:      km.starts.Load(),
			StartErrors: km.startErrors.Load(),
			Cancels:     km.cancels.Load(),
			Opened:      km.signals[SignalOpened].Load(),
			Messages:    km.signals[SignalMessage].Load(),
			Failed:      km.signals[SignalFailed].Load(),
			Completed:   km.signals[SignalCompleted].Load(),
			OpenLatency: km.openLatency.stats(),
		}
	}
	return snapshot
}

// String provides a human-readable representation of the metrics
func (snapshot *TransportMetricsSnapshot) String() string {
	es := snapshot.Kinds[KindEventSource]
	rq := snapshot.Kinds[KindRequest]
	return fmt.Sprintf("TransportMetrics{eventsource: starts=%d messages=%d failed=%d, request: starts=%d completed=%d failed=%d}",
		es.Starts, es.Messages, es.Failed, rq.Starts, rq.Completed, rq.Failed)
}
