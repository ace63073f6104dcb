package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	// Service identification
	ServiceName    string
	ServiceVersion string

	// Prometheus configuration
	MetricsPath string // HTTP path for metrics endpoint (default: /metrics)
	MetricsAddr string // Listen address for the metrics server (default: :9090)

	// Metric options
	Namespace        string    // Prometheus namespace (default: aistream)
	Subsystem        string    // Prometheus subsystem
	HistogramBuckets []float64 // Custom histogram buckets for latency

	// Labels to add to all metrics
	ConstLabels prometheus.Labels

	// Registry receives the collectors. A fresh registry is created when nil,
	// so several providers can coexist in one process.
	Registry *prometheus.Registry
}

// MetricsProvider records controller and transport activity. Label values
// are transport kinds, signal names, message types and error codes.
type MetricsProvider interface {
	// Lifecycle events
	RecordConnect(ctx context.Context, kind string)
	RecordOpen(ctx context.Context, kind string, latency time.Duration)
	RecordDisconnect(ctx context.Context, kind, reason string)
	RecordState(ctx context.Context, state string)
	RecordRetry(ctx context.Context, kind string)

	// Transport signals
	RecordSignal(ctx context.Context, kind, signal string)

	// Payload and error accounting
	RecordMessage(ctx context.Context, messageType string)
	RecordUnknownMessage(ctx context.Context, messageType string)
	RecordError(ctx context.Context, kind, code string)

	// Management
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// knownStates are reset on every RecordState so exactly one is set to 1.
var knownStates = []string{"idle", "connecting", "open", "closed", "error"}

// PrometheusMetricsProvider implements MetricsProvider using Prometheus
type PrometheusMetricsProvider struct {
	config   MetricsConfig
	registry *prometheus.Registry

	serverMu sync.Mutex
	server   *http.Server
	listener net.Listener

	connectTotal    *prometheus.CounterVec
	openLatency     *prometheus.HistogramVec
	disconnectTotal *prometheus.CounterVec
	connectionState *prometheus.GaugeVec
	retryTotal      *prometheus.CounterVec
	signalTotal     *prometheus.CounterVec
	messageTotal    *prometheus.CounterVec
	unknownTotal    *prometheus.CounterVec
	errorTotal      *prometheus.CounterVec
}

// NewMetricsProvider creates a new Prometheus metrics provider
func NewMetricsProvider(config MetricsConfig) (*PrometheusMetricsProvider, error) {
	// Set defaults
	if config.Namespace == "" {
		config.Namespace = "aistream"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.MetricsAddr == "" {
		config.MetricsAddr = ":9090"
	}
	if config.HistogramBuckets == nil {
		// Default buckets for milliseconds
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}

	labels := prometheus.Labels{}
	for k, v := range config.ConstLabels {
		labels[k] = v
	}
	if config.ServiceName != "" {
		labels["service"] = config.ServiceName
	}
	if config.ServiceVersion != "" {
		labels["version"] = config.ServiceVersion
	}
	config.ConstLabels = labels

	provider := &PrometheusMetricsProvider{
		config:   config,
		registry: config.Registry,
	}

	provider.initializeMetrics()

	if err := provider.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return provider, nil
}

func (p *PrometheusMetricsProvider) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: p.config.ConstLabels,
		},
		labels,
	)
}

// initializeMetrics creates all metric collectors
func (p *PrometheusMetricsProvider) initializeMetrics() {
	p.connectTotal = p.counter("connect_total", "Total number of connect lifecycles started", "kind")
	p.disconnectTotal = p.counter("disconnect_total", "Total number of lifecycle teardowns", "kind", "reason")
	p.retryTotal = p.counter("retry_total", "Total number of failures counted against the retry ceiling", "kind")
	p.signalTotal = p.counter("signal_total", "Total number of transport signals", "kind", "signal")
	p.messageTotal = p.counter("message_total", "Total number of accepted messages", "type")
	p.unknownTotal = p.counter("unknown_message_total", "Total number of dropped messages with an unaccepted type", "type")
	p.errorTotal = p.counter("error_total", "Total number of classified errors", "kind", "code")

	p.openLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "open_latency_milliseconds",
			Help:        "Time from connect to the first open signal in milliseconds",
			Buckets:     p.config.HistogramBuckets,
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"kind"},
	)

	p.connectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "connection_state",
			Help:        "Current controller state (1 for the active state, 0 otherwise)",
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"state"},
	)
}

// registerMetrics registers all metrics with the provider's registry
func (p *PrometheusMetricsProvider) registerMetrics() error {
	collectors := []prometheus.Collector{
		p.connectTotal,
		p.openLatency,
		p.disconnectTotal,
		p.connectionState,
		p.retryTotal,
		p.signalTotal,
		p.messageTotal,
		p.unknownTotal,
		p.errorTotal,
	}

	for _, collector := range collectors {
		if err := p.registry.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	return nil
}

// Registry returns the registry holding the provider's collectors.
func (p *PrometheusMetricsProvider) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the provider's registry in the Prometheus exposition format.
func (p *PrometheusMetricsProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// RecordConnect records the start of a connect lifecycle
func (p *PrometheusMetricsProvider) RecordConnect(ctx context.Context, kind string) {
	p.connectTotal.WithLabelValues(kind).Inc()
}

// RecordOpen records a transport reaching the open state
func (p *PrometheusMetricsProvider) RecordOpen(ctx context.Context, kind string, latency time.Duration) {
	p.openLatency.WithLabelValues(kind).Observe(float64(latency.Milliseconds()))
}

// RecordDisconnect records a lifecycle teardown
func (p *PrometheusMetricsProvider) RecordDisconnect(ctx context.Context, kind, reason string) {
	p.disconnectTotal.WithLabelValues(kind, reason).Inc()
}

// RecordState records the current controller state
func (p *PrometheusMetricsProvider) RecordState(ctx context.Context, state string) {
	for _, s := range knownStates {
		p.connectionState.WithLabelValues(s).Set(0)
	}
	p.connectionState.WithLabelValues(state).Set(1)
}

// RecordRetry records a failure counted against the retry ceiling
func (p *PrometheusMetricsProvider) RecordRetry(ctx context.Context, kind string) {
	p.retryTotal.WithLabelValues(kind).Inc()
}

// RecordSignal records a transport signal
func (p *PrometheusMetricsProvider) RecordSignal(ctx context.Context, kind, signal string) {
	p.signalTotal.WithLabelValues(kind, signal).Inc()
}

// RecordMessage records an accepted message
func (p *PrometheusMetricsProvider) RecordMessage(ctx context.Context, messageType string) {
	p.messageTotal.WithLabelValues(messageType).Inc()
}

// RecordUnknownMessage records a message dropped because of its type
func (p *PrometheusMetricsProvider) RecordUnknownMessage(ctx context.Context, messageType string) {
	p.unknownTotal.WithLabelValues(messageType).Inc()
}

// RecordError records a classified error
func (p *PrometheusMetricsProvider) RecordError(ctx context.Context, kind, code string) {
	p.errorTotal.WithLabelValues(kind, code).Inc()
}

// Start starts the metrics HTTP server. It returns once the listener is
// bound; serving continues in the background until Shutdown.
func (p *PrometheusMetricsProvider) Start(ctx context.Context) error {
	p.serverMu.Lock()
	defer p.serverMu.Unlock()

	if p.server != nil {
		return fmt.Errorf("metrics server already started")
	}

	mux := http.NewServeMux()
	mux.Handle(p.config.MetricsPath, p.Handler())

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", p.config.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.config.MetricsAddr, err)
	}

	p.listener = listener
	p.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	server := p.server
	go func() {
		_ = server.Serve(listener)
	}()

	return nil
}

// Addr returns the bound address of the metrics server, or "" before Start.
func (p *PrometheusMetricsProvider) Addr() string {
	p.serverMu.Lock()
	defer p.serverMu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Shutdown gracefully shuts down the metrics server
func (p *PrometheusMetricsProvider) Shutdown(ctx context.Context) error {
	p.serverMu.Lock()
	server := p.server
	p.server = nil
	p.listener = nil
	p.serverMu.Unlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// NoopMetrics discards everything. It is the controller default.
type NoopMetrics struct{}

func (NoopMetrics) RecordConnect(context.Context, string) {}
func (NoopMetrics) RecordOpen(context.Context, string, time.Duration) {}
func (NoopMetrics) RecordDisconnect(context.Context, string, string) {}
func (NoopMetrics) RecordState(context.Context, string) {}
func (NoopMetrics) RecordRetry(context.Context, string) {}
func (NoopMetrics) RecordSignal(context.Context, string, string) {}
func (NoopMetrics) RecordMessage(context.Context, string) {}
func (NoopMetrics) RecordUnknownMessage(context.Context, string) {}
func (NoopMetrics) RecordError(context.Context, string, string) {}
func (NoopMetrics) Start(context.Context) error { return nil }
func (NoopMetrics) Shutdown(context.Context) error { return nil }
