package transport

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	streamerrors "github.com/chancetop/aistream-go/pkg/errors"
	"github.com/chancetop/aistream-go/pkg/logging"
	"github.com/chancetop/aistream-go/pkg/protocol"
)

// Kind identifies a transport implementation.
type Kind string

const (
	// KindEventSource is the streaming transport.
	KindEventSource Kind = "eventsource"
	// KindRequest is the single-shot transport.
	KindRequest Kind = "request"
)

// SignalType enumerates the uniform signal set.
type SignalType int

const (
	SignalOpened SignalType = iota
	SignalMessage
	SignalFailed
	SignalCompleted
)

func (t SignalType) String() string {
	switch t {
	case SignalOpened:
		return "opened"
	case SignalMessage:
		return "message"
	case SignalFailed:
		return "failed"
	case SignalCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Signal is one event reported by a transport.
type Signal struct {
	Type SignalType
	// Data is a frame's data, an error frame's payload or a response body.
	Data []byte
	// Event is the SSE event name; empty for the default "message" event.
	Event      string
	StatusCode int
	StatusText string
	URL        string
	Err        error
	// Attempt counts connection attempts since the last successful open.
	Attempt int
	// Final is set on a failure after which the transport will not reconnect.
	Final bool
}

// Raw converts a failure signal into input for errors.Classify.
func (s Signal) Raw() streamerrors.RawSignal {
	return streamerrors.RawSignal{
		Body:       s.Data,
		StatusCode: s.StatusCode,
		StatusText: s.StatusText,
		URL:        s.URL,
		Err:        s.Err,
	}
}

// Handler receives signals. It runs on the transport goroutine and blocks the
// transport until it returns.
type Handler func(Signal)

// Transport is a single-use channel for one connect lifecycle.
type Transport interface {
	// Start validates req and begins delivery in the background. It returns an
	// error only when the request cannot be sent at all.
	Start(ctx context.Context, req *protocol.ResolvedRequest, handler Handler) error
	// Cancel stops delivery. It never blocks and is safe to call repeatedly,
	// including from inside the handler.
	Cancel()
	// Active reports whether the transport is connecting, open or in flight.
	Active() bool
	Kind() Kind
	// ID uniquely identifies this transport instance.
	ID() string
}

// Factory creates a fresh transport of the requested kind.
type Factory func(kind Kind) Transport

// ReconnectConfig controls EventSource reconnection backoff.
type ReconnectConfig struct {
	InitialDelay  time.Duration `json:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
	// Jitter is the relative spread applied to each delay, e.g. 0.1 for ±10%.
	Jitter float64 `json:"jitter"`
}

// Config configures the transports built by NewFactory.
type Config struct {
	HTTPClient *http.Client
	Logger     logging.Logger
	Reconnect  ReconnectConfig
	// MaxBodyBytes bounds single-shot response bodies and error bodies.
	MaxBodyBytes int64
	Middleware   []Middleware
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		HTTPClient: &http.Client{},
		Logger:     logging.GetGlobalLogger(),
		Reconnect: ReconnectConfig{
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
			Jitter:        0.1,
		},
		MaxBodyBytes: 32 << 20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HTTPClient == nil {
		c.HTTPClient = d.HTTPClient
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	if c.Reconnect.InitialDelay <= 0 {
		c.Reconnect.InitialDelay = d.Reconnect.InitialDelay
	}
	if c.Reconnect.MaxDelay <= 0 {
		c.Reconnect.MaxDelay = d.Reconnect.MaxDelay
	}
	if c.Reconnect.BackoffFactor < 1 {
		c.Reconnect.BackoffFactor = d.Reconnect.BackoffFactor
	}
	if c.Reconnect.Jitter < 0 {
		c.Reconnect.Jitter = 0
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	return c
}

// NewFactory returns a Factory building transports from config, each wrapped
// in config.Middleware.
func NewFactory(config Config) Factory {
	config = config.withDefaults()
	chain := ChainMiddleware(config.Middleware...)

	return func(kind Kind) Transport {
		var base Transport
		switch kind {
		case KindRequest:
			base = NewRequest(config)
		default:
			base = NewEventSource(config)
		}
		return chain.Wrap(base)
	}
}

// newHTTPRequest builds the outbound request. Content-Type and Accept come
// first so callers can override them; the trace header is set last so they
// cannot.
func newHTTPRequest(ctx context.Context, req *protocol.ResolvedRequest, accept, lastEventID string) (*http.Request, error) {
	body, err := req.Body()
	if err != nil {
		return nil, streamerrors.InvalidRequest(req.Method, req.URL, fmt.Errorf("encode body: %w", err))
	}

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	var httpReq *http.Request
	if reader != nil {
		httpReq, err = http.NewRequestWithContext(ctx, req.Method, req.URL, reader)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, req.Method, req.URL, nil)
	}
	if err != nil {
		return nil, streamerrors.InvalidRequest(req.Method, req.URL, err)
	}
	if httpReq.URL.Scheme != "http" && httpReq.URL.Scheme != "https" {
		return nil, streamerrors.InvalidRequest(req.Method, req.URL, fmt.Errorf("unsupported scheme %q", httpReq.URL.Scheme))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if lastEventID != "" {
		httpReq.Header.Set("Last-Event-ID", lastEventID)
	}
	if req.TraceID != "" {
		httpReq.Header.Set(logging.TraceHeader, req.TraceID)
	}
	return httpReq, nil
}

// statusText returns the reason phrase of a response, e.g. "Bad Request".
func statusText(resp *http.Response) string {
	prefix := fmt.Sprintf("%d ", resp.StatusCode)
	if len(resp.Status) > len(prefix) && resp.Status[:len(prefix)] == prefix {
		return resp.Status[len(prefix):]
	}
	return http.StatusText(resp.StatusCode)
}
