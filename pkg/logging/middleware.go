package logging

import (
	"net/http"
	"time"
)

// TraceHeader carries the lifecycle trace id on every outbound request.
const TraceHeader = "X-Trace-Id"

// RoundTripper logs every outbound request at debug level and failures at
// warn level, tagged with the request's trace id.
type RoundTripper struct {
	next   http.RoundTripper
	logger Logger
}

// NewRoundTripper wraps next; a nil next uses http.DefaultTransport.
func NewRoundTripper(next http.RoundTripper, logger Logger) *RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return &RoundTripper{next: next, logger: logger.WithFields(String("component", "http"))}
}

func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	traceID := req.Header.Get(TraceHeader)
	if traceID == "" {
		traceID = TraceIDFromContext(req.Context())
	}

	reqLogger := rt.logger.WithFields(
		String(TraceIDKey, traceID),
		String("method", req.Method),
		String("url", req.URL.String()),
	)
	reqLogger.Debug("HTTP request started")

	start := time.Now()
	resp, err := rt.next.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		reqLogger.WithError(err).WithFields(Duration("duration", duration)).Warn("HTTP request failed")
		return nil, err
	}

	reqLogger.WithFields(
		Int("status", resp.StatusCode),
		Duration("duration", duration),
	).Debug("HTTP response received")
	return resp, nil
}

// WrapClient returns a shallow copy of client whose transport logs through logger.
func WrapClient(client *http.Client, logger Logger) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	wrapped := *client
	wrapped.Transport = NewRoundTripper(client.Transport, logger)
	return &wrapped
}
