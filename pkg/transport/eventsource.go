package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	streamerrors "github.com/chancetop/aistream-go/pkg/errors"
	"github.com/chancetop/aistream-go/pkg/logging"
	"github.com/chancetop/aistream-go/pkg/protocol"
)

// ReadyState mirrors the three states of a browser EventSource.
type ReadyState int32

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// errorEvent is the SSE event name servers use to push a structured error
// without closing the stream.
const errorEvent = "error"

// EventSource is a reconnecting Server-Sent Events client.
//
// A dropped connection is reported as SignalFailed and retried with
// exponential backoff, sending Last-Event-ID when the server assigned one.
// A non-200 response is reported once with Final set and ends the transport.
type EventSource struct {
	config Config
	logger logging.Logger
	id     string

	started   atomic.Bool
	cancelled atomic.Bool
	state     atomic.Int32

	mu          sync.Mutex
	cancel      context.CancelFunc
	lastEventID string
	retry       time.Duration

	done     chan struct{}
	doneOnce sync.Once
}

// NewEventSource creates an idle EventSource.
func NewEventSource(config Config) *EventSource {
	config = config.withDefaults()
	es := &EventSource{
		config: config,
		id:     uuid.NewString(),
		done:   make(chan struct{}),
	}
	es.logger = config.Logger.WithFields(
		logging.String("component", "eventsource"),
		logging.String("transport_id", es.id),
	)
	es.state.Store(int32(StateClosed))
	return es
}

// Kind implements Transport.
func (es *EventSource) Kind() Kind { return KindEventSource }

// ID implements Transport.
func (es *EventSource) ID() string { return es.id }

// ReadyState reports the current connection state.
func (es *EventSource) ReadyState() ReadyState {
	return ReadyState(es.state.Load())
}

// Active implements Transport.
func (es *EventSource) Active() bool {
	return es.started.Load() && !es.cancelled.Load() && es.ReadyState() != StateClosed
}

// LastEventID returns the most recent id field received from the server.
func (es *EventSource) LastEventID() string {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.lastEventID
}

// Done is closed once the read loop has exited.
func (es *EventSource) Done() <-chan struct{} {
	return es.done
}

// Start implements Transport.
func (es *EventSource) Start(ctx context.Context, req *protocol.ResolvedRequest, handler Handler) error {
	if handler == nil {
		return streamerrors.TransportError(string(KindEventSource), "start", errors.New("nil handler"))
	}
	if es.cancelled.Load() {
		return streamerrors.TransportError(string(KindEventSource), "start", errors.New("transport cancelled"))
	}
	if !es.started.CompareAndSwap(false, true) {
		return streamerrors.TransportError(string(KindEventSource), "start", errors.New("already started"))
	}

	// Fail fast on requests that could never be sent.
	if _, err := newHTTPRequest(ctx, req, "text/event-stream", ""); err != nil {
		es.started.Store(false)
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	es.mu.Lock()
	if es.cancelled.Load() {
		es.mu.Unlock()
		cancel()
		return streamerrors.TransportError(string(KindEventSource), "start", errors.New("transport cancelled"))
	}
	es.cancel = cancel
	es.mu.Unlock()

	es.state.Store(int32(StateConnecting))
	go es.run(ctx, req, handler)
	return nil
}

// Cancel implements Transport. It does not wait for the read loop; use Done
// for that.
func (es *EventSource) Cancel() {
	es.mu.Lock()
	if !es.cancelled.CompareAndSwap(false, true) {
		es.mu.Unlock()
		return
	}
	es.state.Store(int32(StateClosed))
	cancel := es.cancel
	es.mu.Unlock()

	if cancel != nil {
		cancel()
	} else {
		es.closeDone()
	}
}

func (es *EventSource) closeDone() {
	es.doneOnce.Do(func() { close(es.done) })
}

func (es *EventSource) run(ctx context.Context, req *protocol.ResolvedRequest, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			es.logger.Error("Recovered from panic in read loop", logging.Any("panic", r))
		}
		es.state.Store(int32(StateClosed))
		es.closeDone()
	}()

	attempt := 0
	for {
		attempt++
		opened, reconnect := es.connect(ctx, req, handler, attempt)
		if !reconnect || ctx.Err() != nil {
			return
		}
		if opened {
			attempt = 0
		}

		delay := calculateBackoff(max(attempt, 1), es.retryInterval(), es.config.Reconnect)
		es.state.Store(int32(StateConnecting))
		es.logger.Debug("Reconnecting", logging.Int("attempt", attempt+1), logging.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connect performs one connection attempt and reads it to the end. It reports
// whether the stream opened and whether another attempt should follow.
func (es *EventSource) connect(ctx context.Context, req *protocol.ResolvedRequest, handler Handler, attempt int) (opened, reconnect bool) {
	httpReq, err := newHTTPRequest(ctx, req, "text/event-stream", es.LastEventID())
	if err != nil {
		es.emit(ctx, handler, Signal{Type: SignalFailed, Err: err, URL: req.URL, Attempt: attempt, Final: true})
		return false, false
	}
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := es.config.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return false, false
		}
		es.logger.Warn("Connection failed", logging.ErrorField(err), logging.Int("attempt", attempt))
		return false, es.emit(ctx, handler, Signal{Type: SignalFailed, Err: err, URL: req.URL, Attempt: attempt})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, es.config.MaxBodyBytes))
		es.logger.Warn("Unexpected response status", logging.Int("status", resp.StatusCode))
		es.emit(ctx, handler, Signal{
			Type:       SignalFailed,
			Data:       body,
			StatusCode: resp.StatusCode,
			StatusText: statusText(resp),
			URL:        req.URL,
			Attempt:    attempt,
			Final:      true,
		})
		return false, false
	}

	es.state.Store(int32(StateOpen))
	if !es.emit(ctx, handler, Signal{Type: SignalOpened, StatusCode: resp.StatusCode, URL: req.URL, Attempt: attempt}) {
		return true, false
	}

	err = es.readEvents(ctx, resp.Body, req.URL, handler)
	if ctx.Err() != nil {
		return true, false
	}
	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("stream closed by server: %w", err)
	}
	return true, es.emit(ctx, handler, Signal{Type: SignalFailed, Err: err, URL: req.URL, Attempt: attempt})
}

// readEvents parses the event stream until it ends or ctx is cancelled.
func (es *EventSource) readEvents(ctx context.Context, body io.Reader, url string, handler Handler) error {
	reader := bufio.NewReaderSize(body, 4096)

	var data strings.Builder
	hasData := false
	eventType := ""

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// A trailing partial line never completes an event.
			return err
		}

		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			if hasData {
				sig := Signal{Type: SignalMessage, Data: []byte(data.String()), Event: eventType, URL: url}
				if eventType == errorEvent {
					sig.Type = SignalFailed
				}
				if !es.emit(ctx, handler, sig) {
					return ctx.Err()
				}
			}
			data.Reset()
			hasData = false
			eventType = ""
			continue
		}

		// Comment lines are heartbeats
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "event":
			eventType = value
		case "id":
			if !strings.ContainsRune(value, 0) {
				es.mu.Lock()
				es.lastEventID = value
				es.mu.Unlock()
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				es.mu.Lock()
				es.retry = time.Duration(ms) * time.Millisecond
				es.mu.Unlock()
			}
		default:
			es.logger.Debug("Ignoring unknown field", logging.String("field", field))
		}
	}
}

func (es *EventSource) retryInterval() time.Duration {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.retry
}

// emit delivers sig unless the transport was cancelled, and reports whether
// delivery may continue afterwards.
func (es *EventSource) emit(ctx context.Context, handler Handler, sig Signal) bool {
	if ctx.Err() != nil {
		return false
	}
	handler(sig)
	return ctx.Err() == nil
}

// splitField splits "field: value", dropping a single space after the colon.
func splitField(line string) (string, string) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, ""
	}
	value := line[idx+1:]
	value = strings.TrimPrefix(value, " ")
	return line[:idx], value
}
