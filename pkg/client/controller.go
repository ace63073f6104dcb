package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	streamerrors "github.com/chancetop/aistream-go/pkg/errors"
	"github.com/chancetop/aistream-go/pkg/logging"
	"github.com/chancetop/aistream-go/pkg/observability"
	"github.com/chancetop/aistream-go/pkg/protocol"
	"github.com/chancetop/aistream-go/pkg/state"
	"github.com/chancetop/aistream-go/pkg/transport"
)

// Lifecycle log actions.
const (
	ActionStart                 = "SSE_START"
	ActionOpen                  = "SSE_OPEN"
	ActionOpenUseFetch          = "SSE_OPEN_USE_FETCH"
	ActionError                 = "SSE_ERROR"
	ActionErrorUseFetch         = "SSE_ERROR_USE_FETCH"
	ActionUnknownMessage        = "SSE_UNKNOWN_MESSAGE"
	ActionDisconnecting         = "SSE_DISCONNECTING..."
	ActionDisconnected          = "SSE_DISCONNECTED"
	ActionDisconnectingUseFetch = "SSE_DISCONNECTING_USE_FETCH..."
	ActionDisconnectedUseFetch  = "SSE_DISCONNECTED_USE_FETCH"
)

// Disconnect reasons reported to metrics.
const (
	reasonRequested     = "disconnect"
	reasonEnd           = "end"
	reasonRetryExceeded = "retry_exceeded"
	reasonCompleted     = "completed"
	reasonDestroy       = "destroy"
)

// Controller drives one conversation stream at a time. It starts a streaming
// or single-shot transport on Connect, turns transport signals into state
// snapshots and callbacks, and gives up after RetryAttempts consecutive
// stream failures.
//
// All operations and transport signals are serialized on an internal
// executor. Callbacks may call back into the controller; such calls run
// after the current callback returns. An operation called while a transport
// goroutine is delivering a signal returns once queued and runs when that
// delivery finishes.
type Controller struct {
	config   Config
	base     protocol.BaseRequestOptions
	accepted protocol.TypeSet
	factory  transport.Factory
	store    *state.Store
	reporter *logging.Reporter
	logger   logging.Logger
	metrics  observability.MetricsProvider
	exec     executor

	ctx    context.Context
	cancel context.CancelFunc

	traceID   atomic.Value
	openCount atomic.Int64
	settled   atomic.Bool

	// Owned by exec.
	active     transport.Transport
	activeReq  *protocol.ResolvedRequest
	session    uint64
	startTime  time.Time
	retryCount int
	destroyed  bool
}

// New creates a controller for baseURL with DefaultConfig and opts applied.
func New(baseURL string, opts ...Option) *Controller {
	config := DefaultConfig()
	config.BaseURL = baseURL
	return NewFromConfig(config, opts...)
}

// NewFromConfig creates a controller from config with opts applied. Zero
// fields take their defaults.
func NewFromConfig(config Config, opts ...Option) *Controller {
	for _, opt := range opts {
		opt(&config)
	}
	config = config.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		config: config,
		base: protocol.BaseRequestOptions{
			BaseURL: config.BaseURL,
			Headers: config.Headers,
		},
		accepted: protocol.NewTypeSet(config.AcceptMessageTypes...),
		factory:  newFactory(config),
		store:    state.NewStore(),
		reporter: logging.NewReporter(newSink(config)),
		logger:   config.logger.WithFields(logging.String("component", "controller")),
		metrics:  config.metrics,
		ctx:      ctx,
		cancel:   cancel,
	}
	if c.metrics == nil {
		c.metrics = observability.NoopMetrics{}
	}
	c.traceID.Store("")
	c.settled.Store(true)
	c.exec.onPanic = func(r interface{}) {
		c.logger.Error("recovered from panic in controller task", logging.Any("panic", r))
	}
	return c
}

func newSink(config Config) logging.Sink {
	if config.sink != nil {
		return config.sink
	}
	if config.LoggerURL != "" {
		sink, err := logging.NewHTTPSink(logging.HTTPSinkConfig{
			URL:        config.LoggerURL,
			AppName:    config.LoggerAppName,
			HTTPClient: config.httpClient,
			Logger:     config.logger,
		})
		if err == nil {
			return sink
		}
		config.logger.Warn("log collector disabled",
			logging.String("logger_url", config.LoggerURL),
			logging.ErrorField(err))
	}
	return logging.NewLoggerSink(config.logger)
}

func newFactory(config Config) transport.Factory {
	middleware := append([]transport.Middleware(nil), config.middleware...)
	if config.metrics != nil || config.tracer != nil {
		middleware = append(middleware, observability.NewEnhancedObservabilityMiddleware(observability.MiddlewareConfig{
			Tracer:  config.tracer,
			Metrics: config.metrics,
		}))
	}

	if config.factory != nil {
		if len(middleware) == 0 {
			return config.factory
		}
		chain := transport.ChainMiddleware(middleware...)
		return func(kind transport.Kind) transport.Transport {
			return chain.Wrap(config.factory(kind))
		}
	}

	tc := transport.DefaultConfig()
	if config.httpClient != nil {
		tc.HTTPClient = config.httpClient
	}
	tc.Logger = config.logger
	tc.Reconnect = config.Reconnect
	tc.Middleware = middleware
	return transport.NewFactory(tc)
}

// Connect starts a lifecycle for opts. It does nothing while a transport is
// connecting, open or in flight. Failures are reported through the error
// state and OnError, never returned.
func (c *Controller) Connect(opts protocol.RequestOptions) {
	c.exec.do(func() { c.connect(opts) })
}

// Disconnect tears down the active transport, if any, and moves to closed.
func (c *Controller) Disconnect() {
	c.exec.do(func() { c.disconnect(reasonRequested) })
}

// Destroy disconnects, resets the state to idle, removes every subscriber and
// closes the lifecycle log sink. The controller cannot connect afterwards.
func (c *Controller) Destroy() {
	c.exec.do(c.destroy)
}

// State returns the current snapshot.
func (c *Controller) State() state.Snapshot {
	return c.store.Snapshot()
}

// Subscribe registers fn for every state change and returns a function that
// removes it.
func (c *Controller) Subscribe(fn state.Subscriber) func() {
	return c.store.Subscribe(fn)
}

// TraceID returns the trace id of the current or last lifecycle.
func (c *Controller) TraceID() string {
	id, _ := c.traceID.Load().(string)
	return id
}

// OpenCount returns how many times a streaming transport has opened.
func (c *Controller) OpenCount() int {
	return int(c.openCount.Load())
}

// Settled reports whether the current lifecycle is over: nothing was started,
// the transport was torn down, or the stream failed permanently and will not
// reconnect. It is updated before OnError and OnDisconnect run.
func (c *Controller) Settled() bool {
	return c.settled.Load()
}

func (c *Controller) connect(opts protocol.RequestOptions) {
	if c.destroyed {
		c.logger.Warn("connect ignored: controller destroyed")
		return
	}
	if c.active != nil {
		// A request stays in flight until its completion signal has been
		// handled here; the transport's own flag flips earlier.
		if c.active.Kind() == transport.KindRequest || !c.settled.Load() {
			c.logger.Debug("connect ignored: transport active",
				logging.String("transport_id", c.active.ID()))
			return
		}
		// A stream closed by a permanent failure is released without a
		// disconnect notification.
		c.active.Cancel()
		c.active = nil
		c.activeReq = nil
	}

	traceID := uuid.NewString()
	c.traceID.Store(traceID)
	c.session++
	c.retryCount = 0
	c.startTime = time.Now()

	req := protocol.MergeRequestOptions(c.base, opts)
	req.TraceID = traceID

	kind := transport.KindEventSource
	if !req.Streaming {
		kind = transport.KindRequest
	}

	c.reporter.Info(c.startEvent(req))
	c.metrics.RecordConnect(c.ctx, string(kind))

	tr := c.factory(kind)
	c.active = tr
	c.activeReq = req
	c.settled.Store(false)

	if kind == transport.KindEventSource {
		c.update(state.WithStatus(state.StatusConnecting),
			state.WithMessages(), state.ClearStreamMessage(), state.ClearError())
	}

	token := c.session
	handler := func(sig transport.Signal) {
		c.exec.do(func() { c.handleSignal(token, sig) })
	}

	if err := tr.Start(c.ctx, req, handler); err != nil {
		c.startFailed(kind, err)
	}
}

// startFailed handles a request that could not be sent at all.
func (c *Controller) startFailed(kind transport.Kind, err error) {
	c.active = nil
	c.activeReq = nil
	c.session++
	c.settled.Store(true)

	code := errorCode(err)
	c.reporter.Exception(err, c.event(ActionError))
	c.metrics.RecordError(c.ctx, string(kind), code)
	c.update(state.WithStatus(state.StatusError),
		state.ClearStreamMessage(),
		state.WithError(code, err.Error()))
	if c.config.OnError != nil {
		c.config.OnError(err)
	}
}

func (c *Controller) handleSignal(token uint64, sig transport.Signal) {
	if token != c.session || c.active == nil {
		return
	}

	if c.active.Kind() == transport.KindRequest {
		switch sig.Type {
		case transport.SignalOpened:
			c.fetchOpened()
		case transport.SignalCompleted:
			c.fetchCompleted(sig)
		case transport.SignalFailed:
			c.fetchFailed(streamerrors.Classify(sig.Raw()))
		}
		return
	}

	switch sig.Type {
	case transport.SignalOpened:
		c.streamOpened()
	case transport.SignalMessage:
		c.streamMessage(sig)
	case transport.SignalFailed:
		c.streamFailed(sig)
	}
}

func (c *Controller) streamOpened() {
	var latency time.Duration
	if !c.startTime.IsZero() {
		latency = time.Since(c.startTime)
	}
	c.startTime = time.Time{}
	opens := c.openCount.Add(1)
	c.retryCount = 0

	c.update(state.WithStatus(state.StatusOpen), state.ClearStreamMessage(), state.ClearError())
	if c.config.OnOpen != nil {
		c.config.OnOpen()
	}

	ev := c.event(ActionOpen)
	ev.Elapsed = latency
	ev.Stats["connecting_times"] = float64(opens)
	ev.Stats["open_latency_ms"] = float64(latency.Milliseconds())
	c.reporter.Info(ev)
}

func (c *Controller) streamMessage(sig transport.Signal) {
	msg, err := protocol.DecodeMessage(sig.Data, c.accepted)
	if err != nil {
		c.logger.Debug("dropped undecodable frame",
			logging.String("trace_id", c.TraceID()),
			logging.Int("bytes", len(sig.Data)))
		return
	}

	switch m := msg.(type) {
	case *protocol.EndMessage:
		c.disconnect(reasonEnd)

	case *protocol.DataMessage:
		c.update(state.AppendMessage(m), state.WithStreamMessage(m), state.ClearError())
		c.metrics.RecordMessage(c.ctx, m.Type)
		if c.config.OnMessage != nil {
			c.config.OnMessage(m)
		}

	case *protocol.UnknownMessage:
		if !c.config.StrictMessageTypes {
			return
		}
		ev := c.event(ActionUnknownMessage)
		ev.Info["message_type"] = m.Type
		ev.Info["accepted_types"] = fmt.Sprint(c.accepted.List())
		c.reporter.Warn(ev, streamerrors.CodeUnknownMessageType,
			fmt.Sprintf("message type %q is not accepted", m.Type))
		c.metrics.RecordUnknownMessage(c.ctx, m.Type)
	}
}

func (c *Controller) streamFailed(sig transport.Signal) {
	exc := streamerrors.Classify(sig.Raw())
	if streamerrors.IsCancellation(exc) {
		return
	}

	c.retryCount++
	if sig.Final {
		c.settled.Store(true)
	}
	ev := c.event(ActionError)
	ev.Stats["retry_count"] = float64(c.retryCount)
	ev.Stats["attempt"] = float64(sig.Attempt)
	c.reporter.Exception(exc, ev)
	c.metrics.RecordError(c.ctx, string(transport.KindEventSource), exc.Code())
	c.metrics.RecordRetry(c.ctx, string(transport.KindEventSource))

	c.update(state.WithStatus(state.StatusError),
		state.ClearStreamMessage(),
		state.WithError(exc.Code(), exc.Error()))
	if c.config.OnError != nil {
		c.config.OnError(exc)
	}

	if c.retryCount >= c.config.RetryAttempts {
		c.logger.Warn("retry ceiling reached",
			logging.String("trace_id", c.TraceID()),
			logging.Int("retry_attempts", c.config.RetryAttempts))
		c.disconnect(reasonRetryExceeded)
	}
}

func (c *Controller) fetchOpened() {
	c.update(state.WithStatus(state.StatusOpen),
		state.WithMessages(), state.ClearStreamMessage(), state.ClearError())
	c.reporter.Info(c.event(ActionOpenUseFetch))
	if c.config.OnOpen != nil {
		c.config.OnOpen()
	}
}

func (c *Controller) fetchCompleted(sig transport.Signal) {
	msg, err := protocol.DecodePayload(sig.Data)
	if err != nil {
		c.fetchFailed(streamerrors.NewRuntimeException(err))
		return
	}

	c.update(state.WithStreamMessage(msg), state.WithMessages(msg), state.ClearError())
	c.metrics.RecordMessage(c.ctx, msg.Type)
	if c.config.OnMessage != nil {
		c.config.OnMessage(msg)
	}
	c.disconnect(reasonCompleted)
}

func (c *Controller) fetchFailed(exc streamerrors.Exception) {
	if streamerrors.IsCancellation(exc) {
		return
	}

	c.reporter.Exception(exc, c.event(ActionErrorUseFetch))
	c.metrics.RecordError(c.ctx, string(transport.KindRequest), exc.Code())
	c.update(state.WithStatus(state.StatusError),
		state.ClearStreamMessage(),
		state.WithError(exc.Code(), exc.Error()))
	if c.config.OnError != nil {
		c.config.OnError(exc)
	}
	c.disconnect(reasonCompleted)
}

// disconnect tears down the active transport. It reports whether one was
// active.
func (c *Controller) disconnect(reason string) bool {
	c.retryCount = 0
	tr := c.active
	if tr == nil {
		return false
	}

	disconnecting, disconnected := ActionDisconnecting, ActionDisconnected
	if tr.Kind() == transport.KindRequest {
		disconnecting, disconnected = ActionDisconnectingUseFetch, ActionDisconnectedUseFetch
	}

	c.reporter.Info(c.event(disconnecting))
	c.session++
	tr.Cancel()
	c.active = nil
	c.activeReq = nil
	c.startTime = time.Time{}
	c.settled.Store(true)

	ev := c.event(disconnected)
	ev.Info["reason"] = reason
	c.reporter.Info(ev)
	c.metrics.RecordDisconnect(c.ctx, string(tr.Kind()), reason)

	c.update(state.WithStatus(state.StatusClosed))
	if c.config.OnDisconnect != nil {
		c.config.OnDisconnect()
	}
	return true
}

func (c *Controller) destroy() {
	if c.destroyed {
		return
	}
	c.disconnect(reasonDestroy)
	c.destroyed = true

	c.store.Reset(state.TransportInfo{})
	c.metrics.RecordState(c.ctx, string(state.StatusIdle))
	c.store.UnsubscribeAll()
	c.cancel()

	if err := c.reporter.Close(); err != nil {
		c.logger.Warn("failed to close lifecycle log sink", logging.ErrorField(err))
	}
}

// update publishes changes together with the active transport descriptor.
func (c *Controller) update(changes ...state.Change) {
	snap := c.store.Update(c.transportInfo(), changes...)
	c.metrics.RecordState(c.ctx, string(snap.Status))
}

func (c *Controller) transportInfo() state.TransportInfo {
	if c.active == nil {
		return state.TransportInfo{}
	}
	info := state.TransportInfo{Kind: string(c.active.Kind()), ID: c.active.ID()}
	if c.activeReq != nil {
		info.URL = c.activeReq.URL
	}
	return info
}

func (c *Controller) event(action string) logging.Event {
	ev := logging.Event{
		Action: action,
		Info:   map[string]string{"trace_id": c.TraceID()},
		Stats:  map[string]float64{},
	}
	if c.activeReq != nil {
		ev.Info["url"] = c.activeReq.URL
	}
	return ev
}

func (c *Controller) startEvent(req *protocol.ResolvedRequest) logging.Event {
	ev := c.event(ActionStart)
	ev.Info["url"] = req.URL
	ev.Info["method"] = req.Method
	ev.Info["streaming"] = strconv.FormatBool(req.Streaming)
	if req.Data != nil {
		if payload, err := json.Marshal(req.Data); err == nil {
			ev.Info["payload"] = string(payload)
		}
	}
	if headers, err := json.Marshal(req.Headers); err == nil {
		ev.Info["headers"] = string(headers)
	}
	ev.Stats["start_time"] = float64(c.startTime.UnixMilli())
	return ev
}

func errorCode(err error) string {
	if exc, ok := streamerrors.AsException(err); ok {
		return exc.Code()
	}
	if se, ok := streamerrors.AsStreamError(err); ok {
		return se.Code()
	}
	return streamerrors.CodeRuntimeError
}
