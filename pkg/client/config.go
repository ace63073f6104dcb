package client

import (
	"net/http"

	"github.com/chancetop/aistream-go/pkg/logging"
	"github.com/chancetop/aistream-go/pkg/observability"
	"github.com/chancetop/aistream-go/pkg/protocol"
	"github.com/chancetop/aistream-go/pkg/transport"
)

// DefaultRetryAttempts is the number of consecutive stream failures tolerated
// before the controller gives up and closes the connection.
const DefaultRetryAttempts = 3

// Config configures a Controller.
type Config struct {
	// BaseURL is prefixed to every relative request URL.
	BaseURL string
	// Headers are sent on every request; per-call headers override them.
	Headers map[string]string

	// Callbacks run on the controller's executor, one at a time.
	OnOpen       func()
	OnMessage    func(msg *protocol.DataMessage)
	OnError      func(err error)
	OnDisconnect func()

	// LoggerURL is the lifecycle log collector. Entries are written to the
	// structured logger when it is empty.
	LoggerURL     string
	LoggerAppName string

	RetryAttempts int
	// AcceptMessageTypes lists the message types surfaced to callers.
	// Defaults to protocol.DefaultMessageType.
	AcceptMessageTypes []string
	// StrictMessageTypes reports dropped messages of other types as warnings.
	StrictMessageTypes bool

	Reconnect transport.ReconnectConfig

	httpClient *http.Client
	factory    transport.Factory
	middleware []transport.Middleware
	logger     logging.Logger
	sink       logging.Sink
	metrics    observability.MetricsProvider
	tracer     *observability.TracingProvider
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		LoggerAppName:      logging.DefaultAppName,
		RetryAttempts:      DefaultRetryAttempts,
		AcceptMessageTypes: []string{protocol.DefaultMessageType},
		Reconnect:          transport.DefaultConfig().Reconnect,
	}
}

// Option configures a Controller
type Option func(*Config)

// WithHeaders adds headers sent on every request
func WithHeaders(headers map[string]string) Option {
	return func(c *Config) {
		if c.Headers == nil {
			c.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			c.Headers[k] = v
		}
	}
}

// WithOnOpen sets the callback invoked when a transport opens
func WithOnOpen(fn func()) Option {
	return func(c *Config) {
		c.OnOpen = fn
	}
}

// WithOnMessage sets the callback invoked for every accepted message
func WithOnMessage(fn func(*protocol.DataMessage)) Option {
	return func(c *Config) {
		c.OnMessage = fn
	}
}

// WithOnError sets the callback invoked for every classified failure
func WithOnError(fn func(error)) Option {
	return func(c *Config) {
		c.OnError = fn
	}
}

// WithOnDisconnect sets the callback invoked once per teardown
func WithOnDisconnect(fn func()) Option {
	return func(c *Config) {
		c.OnDisconnect = fn
	}
}

// WithLoggerURL sends lifecycle log entries to a collector at url/appName
func WithLoggerURL(url, appName string) Option {
	return func(c *Config) {
		c.LoggerURL = url
		if appName != "" {
			c.LoggerAppName = appName
		}
	}
}

// WithRetryAttempts sets the retry ceiling
func WithRetryAttempts(n int) Option {
	return func(c *Config) {
		c.RetryAttempts = n
	}
}

// WithAcceptMessageTypes replaces the accepted message types
func WithAcceptMessageTypes(types ...string) Option {
	return func(c *Config) {
		c.AcceptMessageTypes = append([]string(nil), types...)
	}
}

// WithStrictMessageTypes enables reporting of dropped message types
func WithStrictMessageTypes(strict bool) Option {
	return func(c *Config) {
		c.StrictMessageTypes = strict
	}
}

// WithReconnect sets the EventSource reconnection backoff
func WithReconnect(reconnect transport.ReconnectConfig) Option {
	return func(c *Config) {
		c.Reconnect = reconnect
	}
}

// WithHTTPClient sets the HTTP client used by the default transports and the
// log collector
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.httpClient = client
	}
}

// WithTransportFactory replaces the default transports
func WithTransportFactory(factory transport.Factory) Option {
	return func(c *Config) {
		c.factory = factory
	}
}

// WithMiddleware wraps every transport the controller creates. Middleware
// runs outside the built-in metrics and tracing middleware.
func WithMiddleware(middleware ...transport.Middleware) Option {
	return func(c *Config) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithLogger sets the structured logger
func WithLogger(logger logging.Logger) Option {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithSink sets the lifecycle log sink, overriding LoggerURL
func WithSink(sink logging.Sink) Option {
	return func(c *Config) {
		c.sink = sink
	}
}

// WithMetrics enables Prometheus metrics for the controller and its transports
func WithMetrics(metrics observability.MetricsProvider) Option {
	return func(c *Config) {
		c.metrics = metrics
	}
}

// WithTracing enables one span per connect lifecycle with trace context
// propagation on outbound requests
func WithTracing(tracer *observability.TracingProvider) Option {
	return func(c *Config) {
		c.tracer = tracer
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.LoggerAppName == "" {
		c.LoggerAppName = d.LoggerAppName
	}
	if len(c.AcceptMessageTypes) == 0 {
		c.AcceptMessageTypes = d.AcceptMessageTypes
	}
	if c.logger == nil {
		c.logger = logging.GetGlobalLogger()
	}
	return c
}
