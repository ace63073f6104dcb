package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Sink receives lifecycle log entries. Write must not block on I/O for long;
// it is called from the controller's event path.
type Sink interface {
	Write(entry LogEntry)
}

// LoggerSink writes entries through a structured Logger. It is used when no
// collector URL is configured.
type LoggerSink struct {
	logger Logger
}

// NewLoggerSink creates a sink writing to logger.
func NewLoggerSink(logger Logger) *LoggerSink {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return &LoggerSink{logger: logger.WithFields(String("component", "lifecycle"))}
}

func (s *LoggerSink) Write(entry LogEntry) {
	fields := make([]Field, 0, len(entry.Info)+len(entry.Stats)+4)
	fields = append(fields, String("action", entry.Action))
	for k, v := range entry.Info {
		fields = append(fields, String(k, v))
	}
	for k, v := range entry.Stats {
		fields = append(fields, Any(k, v))
	}
	if entry.ElapsedTime > 0 {
		fields = append(fields, Duration("elapsed", time.Duration(entry.ElapsedTime)*time.Millisecond))
	}
	if entry.ErrorCode != "" {
		fields = append(fields, String("error_code", entry.ErrorCode))
	}

	switch entry.Result {
	case ResultError:
		s.logger.Error(entry.ErrorMessage, fields...)
	case ResultWarn:
		s.logger.Warn(entry.ErrorMessage, fields...)
	default:
		s.logger.Info(string(entry.Result), fields...)
	}
}

// MultiSink fans entries out to several sinks.
type MultiSink []Sink

func (m MultiSink) Write(entry LogEntry) {
	for _, s := range m {
		s.Write(entry)
	}
}

// Close closes every sink that implements io.Closer and returns the first error.
func (m MultiSink) Close() error {
	var first error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// HTTPSinkConfig configures an HTTPSink.
type HTTPSinkConfig struct {
	// URL is the collector base URL; entries are posted to URL/AppName.
	URL     string
	AppName string
	// BatchSize triggers a flush once this many entries are buffered.
	BatchSize int
	// FlushInterval bounds how long an entry waits in the buffer.
	FlushInterval time.Duration
	// Timeout bounds each POST.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     Logger
}

// DefaultAppName is used when HTTPSinkConfig.AppName is empty.
const DefaultAppName = "AI-api"

// HTTPSink batches entries and posts them as {"events": [...]} to a collector.
// Delivery is best effort: a failed batch is logged and dropped.
type HTTPSink struct {
	endpoint string
	config   HTTPSinkConfig
	client   *http.Client
	logger   Logger

	mu     sync.Mutex
	buffer []LogEntry

	flushCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// NewHTTPSink creates a sink and starts its flush loop. Close must be called
// to flush pending entries and stop the loop.
func NewHTTPSink(config HTTPSinkConfig) (*HTTPSink, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("http sink: url is required")
	}
	if _, err := url.Parse(config.URL); err != nil {
		return nil, fmt.Errorf("http sink: invalid url: %w", err)
	}
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 20
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 2 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := config.Logger
	if logger == nil {
		logger = GetGlobalLogger()
	}

	s := &HTTPSink{
		endpoint: strings.TrimRight(config.URL, "/") + "/" + url.PathEscape(config.AppName),
		config:   config,
		client:   client,
		logger:   logger.WithFields(String("component", "log-sink")),
		flushCh:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

// Endpoint returns the URL entries are posted to.
func (s *HTTPSink) Endpoint() string {
	return s.endpoint
}

func (s *HTTPSink) Write(entry LogEntry) {
	s.mu.Lock()
	s.buffer = append(s.buffer, entry)
	full := len(s.buffer) >= s.config.BatchSize
	s.mu.Unlock()

	if full {
		select {
		case s.flushCh <- struct{}{}:
		default:
		}
	}
}

// Flush posts all buffered entries now.
func (s *HTTPSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return s.post(ctx, batch)
}

// Close stops the flush loop and delivers pending entries.
func (s *HTTPSink) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stopCh)
		<-s.doneCh

		ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
		defer cancel()
		err = s.Flush(ctx)
	})
	return err
}

func (s *HTTPSink) loop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		case <-s.flushCh:
		}
		s.flushWithTimeout()
	}
}

func (s *HTTPSink) flushWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		s.logger.WithError(err).Warn("Dropped log batch")
	}
}

type batchPayload struct {
	Events []LogEntry `json:"events"`
}

func (s *HTTPSink) post(ctx context.Context, batch []LogEntry) error {
	body, err := json.Marshal(batchPayload{Events: batch})
	if err != nil {
		return fmt.Errorf("failed to marshal log batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create log request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %d log entries: %w", len(batch), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("log collector returned %s for %d entries", resp.Status, len(batch))
	}
	return nil
}
