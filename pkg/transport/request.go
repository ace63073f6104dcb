package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	streamerrors "github.com/chancetop/aistream-go/pkg/errors"
	"github.com/chancetop/aistream-go/pkg/logging"
	"github.com/chancetop/aistream-go/pkg/protocol"
)

// Request performs a single HTTP exchange and reports it with the same
// signals as EventSource: SignalOpened as soon as it starts, then exactly one
// of SignalCompleted or SignalFailed. A cancelled request reports nothing
// further.
type Request struct {
	config Config
	logger logging.Logger
	id     string

	started   atomic.Bool
	cancelled atomic.Bool
	inFlight  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
}

// NewRequest creates an idle single-shot transport.
func NewRequest(config Config) *Request {
	config = config.withDefaults()
	r := &Request{
		config: config,
		id:     uuid.NewString(),
		done:   make(chan struct{}),
	}
	r.logger = config.Logger.WithFields(
		logging.String("component", "request"),
		logging.String("transport_id", r.id),
	)
	return r
}

// Kind implements Transport.
func (r *Request) Kind() Kind { return KindRequest }

// ID implements Transport.
func (r *Request) ID() string { return r.id }

// Active implements Transport.
func (r *Request) Active() bool {
	return r.inFlight.Load() && !r.cancelled.Load()
}

// Done is closed once the exchange has finished or been cancelled.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Start implements Transport. SignalOpened is delivered before Start returns.
func (r *Request) Start(ctx context.Context, req *protocol.ResolvedRequest, handler Handler) error {
	if handler == nil {
		return streamerrors.TransportError(string(KindRequest), "start", errors.New("nil handler"))
	}
	if !r.started.CompareAndSwap(false, true) {
		return streamerrors.TransportError(string(KindRequest), "start", errors.New("already started"))
	}

	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := newHTTPRequest(ctx, req, "application/json", "")
	if err != nil {
		cancel()
		r.started.Store(false)
		return err
	}

	r.mu.Lock()
	if r.cancelled.Load() {
		r.mu.Unlock()
		cancel()
		return streamerrors.TransportError(string(KindRequest), "start", errors.New("transport cancelled"))
	}
	r.cancel = cancel
	r.mu.Unlock()

	r.inFlight.Store(true)
	if ctx.Err() == nil {
		handler(Signal{Type: SignalOpened, URL: req.URL, Attempt: 1})
	}

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("Recovered from panic in request", logging.Any("panic", rec))
			}
			r.inFlight.Store(false)
			r.doneOnce.Do(func() { close(r.done) })
			cancel()
		}()

		sig, ok := r.exchange(ctx, httpReq, req.URL)
		if !ok || ctx.Err() != nil {
			return
		}
		handler(sig)
	}()
	return nil
}

// exchange sends the request. ok is false when the exchange was cancelled.
func (r *Request) exchange(ctx context.Context, httpReq *http.Request, url string) (Signal, bool) {
	resp, err := r.config.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Signal{}, false
		}
		r.logger.Warn("Request failed", logging.ErrorField(err))
		return Signal{Type: SignalFailed, Err: err, URL: url, Attempt: 1, Final: true}, true
	}
	defer resp.Body.Close()

	body, err := readBody(resp.Body, r.config.MaxBodyBytes)
	if err != nil {
		if ctx.Err() != nil {
			return Signal{}, false
		}
		return Signal{Type: SignalFailed, Err: err, URL: url, StatusCode: resp.StatusCode, StatusText: statusText(resp), Attempt: 1, Final: true}, true
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Signal{Type: SignalCompleted, Data: body, StatusCode: resp.StatusCode, URL: url, Attempt: 1}, true
	}

	r.logger.Debug("Unexpected response status", logging.Int("status", resp.StatusCode))
	return Signal{
		Type:       SignalFailed,
		Data:       body,
		StatusCode: resp.StatusCode,
		StatusText: statusText(resp),
		URL:        url,
		Attempt:    1,
		Final:      true,
	}, true
}

// Cancel implements Transport.
func (r *Request) Cancel() {
	r.mu.Lock()
	if !r.cancelled.CompareAndSwap(false, true) {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	} else {
		r.doneOnce.Do(func() { close(r.done) })
	}
}

func readBody(body io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, limit))
}
