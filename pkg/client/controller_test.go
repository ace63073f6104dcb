package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	streamerrors "github.com/chancetop/aistream-go/pkg/errors"
	"github.com/chancetop/aistream-go/pkg/logging"
	"github.com/chancetop/aistream-go/pkg/protocol"
	"github.com/chancetop/aistream-go/pkg/state"
	"github.com/chancetop/aistream-go/pkg/transport"
)

// fakeTransport records what the controller asks of it. Signals are injected
// by the test on its own goroutine, so every test runs synchronously.
type fakeTransport struct {
	kind      transport.Kind
	id        string
	startErr  error
	req       *protocol.ResolvedRequest
	handler   transport.Handler
	started   bool
	closed    bool
	cancelled int
}

func (f *fakeTransport) Start(ctx context.Context, req *protocol.ResolvedRequest, h transport.Handler) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.req = req
	f.handler = h
	f.started = true
	if f.kind == transport.KindRequest {
		h(transport.Signal{Type: transport.SignalOpened, Attempt: 1})
	}
	return nil
}

func (f *fakeTransport) Cancel()              { f.cancelled++ }
func (f *fakeTransport) Active() bool         { return f.started && f.cancelled == 0 && !f.closed }
func (f *fakeTransport) Kind() transport.Kind { return f.kind }
func (f *fakeTransport) ID() string           { return f.id }

func (f *fakeTransport) emit(sig transport.Signal) {
	f.handler(sig)
}

func (f *fakeTransport) opened() {
	f.emit(transport.Signal{Type: transport.SignalOpened, Attempt: 1})
}

func (f *fakeTransport) message(data string) {
	f.emit(transport.Signal{Type: transport.SignalMessage, Data: []byte(data)})
}

type fakeFactory struct {
	startErr   error
	transports []*fakeTransport
}

func (f *fakeFactory) build(kind transport.Kind) transport.Transport {
	tr := &fakeTransport{
		kind:     kind,
		id:       fmt.Sprintf("fake-%d", len(f.transports)+1),
		startErr: f.startErr,
	}
	f.transports = append(f.transports, tr)
	return tr
}

func (f *fakeFactory) last() *fakeTransport {
	if len(f.transports) == 0 {
		return nil
	}
	return f.transports[len(f.transports)-1]
}

// memorySink keeps lifecycle entries in memory.
type memorySink struct {
	mu      sync.Mutex
	entries []logging.LogEntry
	closed  bool
}

func (s *memorySink) Write(entry logging.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Action)
	}
	return out
}

func (s *memorySink) find(action string) (logging.LogEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Action == action {
			return e, true
		}
	}
	return logging.LogEntry{}, false
}

// callbackLog records callback invocations in order.
type callbackLog struct {
	mu     sync.Mutex
	events []string
	errs   []error
}

func (l *callbackLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *callbackLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *callbackLog) options() []Option {
	return []Option{
		WithOnOpen(func() { l.add("open") }),
		WithOnMessage(func(msg *protocol.DataMessage) { l.add("message:" + msg.Type) }),
		WithOnError(func(err error) {
			l.mu.Lock()
			l.errs = append(l.errs, err)
			l.mu.Unlock()
			l.add("error:" + errorCode(err))
		}),
		WithOnDisconnect(func() { l.add("disconnect") }),
	}
}

type harness struct {
	c         *Controller
	factory   *fakeFactory
	sink      *memorySink
	callbacks *callbackLog
	statuses  []state.Status
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		factory:   &fakeFactory{},
		sink:      &memorySink{},
		callbacks: &callbackLog{},
	}
	all := []Option{
		WithTransportFactory(h.factory.build),
		WithSink(h.sink),
		WithLogger(logging.Nop()),
		WithHeaders(map[string]string{"Authorization": "Bearer base"}),
	}
	all = append(all, h.callbacks.options()...)
	all = append(all, opts...)
	h.c = New("http://api.test", all...)
	h.c.Subscribe(func(u state.Update) {
		h.statuses = append(h.statuses, u.State.Status)
	})
	return h
}

func (h *harness) connectStream() *fakeTransport {
	h.c.Connect(protocol.RequestOptions{URL: "/chat", Method: http.MethodPost, Data: map[string]string{"q": "hi"}})
	return h.factory.last()
}

func (h *harness) connectSingleShot() *fakeTransport {
	h.c.Connect(protocol.RequestOptions{URL: "/chat", Method: http.MethodPost, Streaming: protocol.Bool(false)})
	return h.factory.last()
}

func TestConnectStreamingLifecycle(t *testing.T) {
	h := newHarness(t)

	tr := h.connectStream()
	require.NotNil(t, tr)
	assert.Equal(t, transport.KindEventSource, tr.kind)
	assert.Equal(t, state.StatusConnecting, h.c.State().Status)
	assert.Equal(t, "http://api.test/chat", tr.req.URL)
	assert.Equal(t, "Bearer base", tr.req.Headers["Authorization"])
	assert.Equal(t, h.c.TraceID(), tr.req.TraceID)
	_, err := uuid.Parse(h.c.TraceID())
	assert.NoError(t, err)

	tr.opened()
	assert.Equal(t, state.StatusOpen, h.c.State().Status)
	assert.Equal(t, 1, h.c.OpenCount())

	tr.message(`{"type":"agent_response","content":"hello"}`)
	snap := h.c.State()
	assert.Equal(t, state.StatusOpen, snap.Status)
	require.NotNil(t, snap.StreamMessage)
	assert.Equal(t, "hello", snap.StreamMessage.String("content"))
	assert.Len(t, snap.FullMessages, 1)
	assert.Nil(t, snap.Error)

	assert.Equal(t, []string{"open", "message:agent_response"}, h.callbacks.all())
	assert.Equal(t, []state.Status{state.StatusConnecting, state.StatusOpen, state.StatusOpen}, h.statuses)

	start, ok := h.sink.find(ActionStart)
	require.True(t, ok)
	assert.Equal(t, h.c.TraceID(), start.Info["trace_id"])
	assert.Equal(t, "http://api.test/chat", start.Info["url"])
	assert.Equal(t, "POST", start.Info["method"])
	assert.Equal(t, `{"q":"hi"}`, start.Info["payload"])
	assert.Equal(t, "true", start.Info["streaming"])
	assert.Contains(t, start.Info["headers"], "Bearer base")
	assert.NotZero(t, start.Stats["start_time"])

	open, ok := h.sink.find(ActionOpen)
	require.True(t, ok)
	assert.Equal(t, float64(1), open.Stats["connecting_times"])
	assert.Contains(t, open.Stats, "open_latency_ms")
}

func TestConnectIsNoOpWhileActive(t *testing.T) {
	h := newHarness(t)

	tr := h.connectStream()
	traceID := h.c.TraceID()
	h.connectStream()
	h.connectSingleShot()

	assert.Len(t, h.factory.transports, 1)
	assert.Equal(t, traceID, h.c.TraceID())

	tr.opened()
	h.connectStream()
	assert.Len(t, h.factory.transports, 1)
}

func TestConnectIgnoredUntilRequestCompletionHandled(t *testing.T) {
	h := newHarness(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.c.Subscribe(func(u state.Update) {
		if u.State.Status == state.StatusOpen {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.connectSingleShot()
	}()
	<-entered

	first := h.c.TraceID()
	tr := h.factory.transports[0]
	h.c.Connect(protocol.RequestOptions{URL: "/two", Streaming: protocol.Bool(false)})

	// The response arrives and the transport reports itself idle before the
	// controller has handled the completion.
	tr.closed = true
	tr.emit(transport.Signal{Type: transport.SignalCompleted, StatusCode: 200, Data: []byte(`{"type":"summary"}`)})
	close(release)
	<-done

	assert.Equal(t, first, h.c.TraceID())
	assert.Len(t, h.factory.transports, 1)
	assert.Zero(t, tr.cancelled)
	assert.Equal(t, []string{"open", "message:summary", "disconnect"}, h.callbacks.all())
	_, ok := h.sink.find(ActionDisconnectedUseFetch)
	assert.True(t, ok)
	assert.Equal(t, state.StatusClosed, h.c.State().Status)
}

func TestConnectIgnoredWhileStreamReconnects(t *testing.T) {
	h := newHarness(t)
	tr := h.connectStream()
	tr.opened()
	tr.emit(transport.Signal{Type: transport.SignalFailed, Err: errors.New("reset"), Attempt: 1})
	tr.closed = true

	h.connectStream()
	assert.Len(t, h.factory.transports, 1)
	assert.Zero(t, tr.cancelled)
}

func TestConnectMergesRequestOptions(t *testing.T) {
	h := newHarness(t)

	h.c.Connect(protocol.RequestOptions{
		URL:        "/agent/:id/chat",
		Headers:    map[string]string{"authorization": "Bearer call", "X-Extra": "1"},
		PathParams: map[string]string{"id": "a b"},
	})

	req := h.factory.last().req
	assert.Equal(t, "http://api.test/agent/a%20b/chat", req.URL)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "Bearer call", req.Headers["Authorization"])
	assert.Equal(t, "1", req.Headers["X-Extra"])
	assert.True(t, req.Streaming)
}

func TestEndMessageClosesStream(t *testing.T) {
	h := newHarness(t)
	tr := h.connectStream()
	tr.opened()
	tr.message(`{"type":"agent_response","content":"a"}`)

	tr.message(`{"type":"end"}`)

	snap := h.c.State()
	assert.Equal(t, state.StatusClosed, snap.Status)
	assert.Len(t, snap.FullMessages, 1, "end is never appended")
	assert.Nil(t, snap.Error)
	assert.Equal(t, 1, tr.cancelled)
	assert.Equal(t, []string{"open", "message:agent_response", "disconnect"}, h.callbacks.all())

	actions := h.sink.actions()
	assert.Contains(t, actions, ActionDisconnecting)
	assert.Contains(t, actions, ActionDisconnected)
	assert.NotContains(t, actions, ActionError)
}

func TestUnacceptedMessageIsDropped(t *testing.T) {
	h := newHarness(t)
	tr := h.connectStream()
	tr.opened()
	before := h.c.State()
	updates := len(h.statuses)
	logged := len(h.sink.actions())

	tr.message(`{"type":"menu_table","rows":[]}`)
	tr.message(`{"content":"no type"}`)
	tr.message(`["not","an","object"]`)

	assert.Equal(t, before, h.c.State())
	assert.Len(t, h.statuses, updates, "no state update")
	assert.Len(t, h.sink.actions(), logged, "no log entry")
	assert.Equal(t, []string{"open"}, h.callbacks.all())
}

func TestStrictModeReportsUnacceptedMessages(t *testing.T) {
	h := newHarness(t, WithStrictMessageTypes(true), WithAcceptMessageTypes("agent_response", "tool_call"))
	tr := h.connectStream()
	tr.opened()
	before := h.c.State()

	tr.message(`{"type":"menu_table"}`)
	tr.message(`{"type":"tool_call","name":"search"}`)

	entry, ok := h.sink.find(ActionUnknownMessage)
	require.True(t, ok)
	assert.Equal(t, logging.ResultWarn, entry.Result)
	assert.Equal(t, streamerrors.CodeUnknownMessageType, entry.ErrorCode)
	assert.Equal(t, "menu_table", entry.Info["message_type"])
	assert.Equal(t, "[agent_response tool_call]", entry.Info["accepted_types"])

	snap := h.c.State()
	assert.Equal(t, before.Status, snap.Status)
	require.Len(t, snap.FullMessages, 1)
	assert.Equal(t, "tool_call", snap.FullMessages[0].Type)
	assert.Equal(t, []string{"open", "message:tool_call"}, h.callbacks.all())
}

func TestUndecodableFrameIsDropped(t *testing.T) {
	h := newHarness(t)
	tr := h.connectStream()
	tr.opened()
	updates := len(h.statuses)

	tr.message(`{"type":"agent_response"`)
	tr.message(``)

	assert.Len(t, h.statuses, updates)
	assert.Empty(t, h.c.State().FullMessages)
	assert.Equal(t, []string{"open"}, h.callbacks.all())
}

func TestMessageDatesAreUpgraded(t *testing.T) {
	h := newHarness(t)
	tr := h.connectStream()
	tr.opened()

	tr.message(`{"type":"agent_response","created_at":"2024-05-01T10:00:00Z"}`)

	ts, ok := h.c.State().StreamMessage.Time("created_at")
	require.True(t, ok)
	assert.Equal(t, 2024, ts.Year())
}

func TestStreamErrorClassification(t *testing.T) {
	h := newHarness(t)
	tr := h.connectStream()
	tr.opened()
	tr.message(`{"type":"agent_response"}`)

	tr.emit(transport.Signal{
		Type: transport.SignalFailed,
		Data: []byte(`{"error_code":"QUOTA_EXCEEDED","error_message":"too many","error_id":"e-1"}`),
		URL:  "http://api.test/chat",
	})

	snap := h.c.State()
	assert.Equal(t, state.StatusError, snap.Status)
	assert.Nil(t, snap.StreamMessage)
	assert.Len(t, snap.FullMessages, 1, "accumulated messages survive errors")
	require.NotNil(t, snap.Error)
	assert.Equal(t, "QUOTA_EXCEEDED", snap.Error.Code)
	assert.Equal(t, "too many", snap.Error.Message)

	require.Len(t, h.callbacks.errs, 1)
	var apiErr *streamerrors.APIException
	require.ErrorAs(t, h.callbacks.errs[0], &apiErr)
	assert.Equal(t, 200, apiErr.StatusCode)
	assert.Equal(t, "e-1", apiErr.ErrorID)

	entry, ok := h.sink.find(ActionError)
	require.True(t, ok)
	assert.Equal(t, logging.ResultWarn, entry.Result)
	assert.Equal(t, "API_ERROR_200", entry.ErrorCode)
	assert.Equal(t, float64(1), entry.Stats["retry_count"])

	tr.emit(transport.Signal{
		Type: transport.SignalFailed,
		Err:  errors.New("connection reset by peer"),
		URL:  "http://api.test/chat",
	})
	assert.Equal(t, streamerrors.CodeNetworkFailure, h.c.State().Error.Code)
	assert.Equal(t, "Failed to connect: http://api.test/chat", h.c.State().Error.Message)
}

func TestStreamErrorThenReopen(t *testing.T) {
	h := newHarness(t)
	tr := h.connectStream()
	tr.opened()

	tr.emit(transport.Signal{Type: transport.SignalFailed, Err: errors.New("eof")})
	assert.Equal(t, state.StatusError, h.c.State().Status)

	tr.emit(transport.Signal{Type: transport.SignalOpened, Attempt: 2})
	snap := h.c.State()
	assert.Equal(t, state.StatusOpen, snap.Status)
	assert.Nil(t, snap.Error)
	assert.Equal(t, 2, h.c.OpenCount())
}

func TestRetryCeilingClosesStream(t *testing.T) {
	h := newHarness(t, WithRetryAttempts(3))
	tr := h.connectStream()
	fail := transport.Signal{Type: transport.SignalFailed, Err: errors.New("refused")}

	tr.emit(fail)
	tr.emit(fail)
	assert.Equal(t, state.StatusError, h.c.State().Status)

	tr.emit(fail)
	assert.Equal(t, state.StatusClosed, h.c.State().Status)
	assert.Equal(t, 1, tr.cancelled)

	tr.emit(fail)
	assert.Equal(t, []string{
		"error:NETWORK_FAILURE",
		"error:NETWORK_FAILURE",
		"error:NETWORK_FAILURE",
		"disconnect",
	}, h.callbacks.all())
	assert.Equal(t, state.StatusClosed, h.c.State().Status)
}

func TestOpenResetsRetryCount(t *testing.T) {
	h := newHarness(t, WithRetryAttempts(3))
	tr := h.connectStream()
	fail := transport.Signal{Type: transport.SignalFailed, Err: errors.New("refused")}

	tr.emit(fail)
	tr.emit(fail)
	tr.opened()
	tr.emit(fail)
	tr.emit(fail)

	assert.Equal(t, state.StatusError, h.c.State().Status)
	assert.Zero(t, tr.cancelled)
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t)

	h.c.Disconnect()
	assert.Equal(t, state.StatusIdle, h.c.State().Status)
	assert.Empty(t, h.callbacks.all(), "nothing was active")

	tr := h.connectStream()
	tr.opened()
	tr.message(`{"type":"agent_response"}`)

	h.c.Disconnect()
	h.c.Disconnect()

	snap := h.c.State()
	assert.Equal(t, state.StatusClosed, snap.Status)
	assert.Len(t, snap.FullMessages, 1, "disconnect keeps the conversation")
	assert.Equal(t, []string{"open", "message:agent_response", "disconnect"}, h.callbacks.all())
	assert.Equal(t, 1, tr.cancelled)

	// Signals racing in after teardown are ignored.
	tr.message(`{"type":"agent_response"}`)
	tr.emit(transport.Signal{Type: transport.SignalFailed, Err: errors.New("late")})
	assert.Equal(t, snap, h.c.State())
}

func TestDisconnectFromCallback(t *testing.T) {
	h := newHarness(t)
	h.c.config.OnMessage = func(*protocol.DataMessage) {
		h.callbacks.add("message")
		h.c.Disconnect()
		h.callbacks.add("after-disconnect-call")
	}

	tr := h.connectStream()
	tr.opened()
	tr.message(`{"type":"agent_response"}`)

	assert.Equal(t, []string{"open", "message", "after-disconnect-call", "disconnect"}, h.callbacks.all())
	assert.Equal(t, state.StatusClosed, h.c.State().Status)
	assert.Len(t, h.c.State().FullMessages, 1)
}

func TestConnectStartsFreshLifecycle(t *testing.T) {
	h := newHarness(t)
	tr := h.connectStream()
	tr.opened()
	tr.message(`{"type":"agent_response"}`)
	tr.message(`{"type":"end"}`)
	first := h.c.TraceID()

	next := h.connectStream()
	require.NotSame(t, tr, next)
	assert.NotEqual(t, first, h.c.TraceID())
	assert.Empty(t, h.c.State().FullMessages)
	assert.Equal(t, state.StatusConnecting, h.c.State().Status)
}

func TestConnectReplacesPermanentlyFailedStream(t *testing.T) {
	h := newHarness(t)
	tr := h.connectStream()
	tr.emit(transport.Signal{Type: transport.SignalFailed, StatusCode: 401, StatusText: "Unauthorized", Final: true})
	tr.closed = true

	next := h.connectStream()
	require.NotSame(t, tr, next)
	assert.Equal(t, 1, tr.cancelled)
	assert.Equal(t, []string{"error:NETWORK_FAILURE"}, h.callbacks.all(), "no disconnect callback")
}

func TestSettled(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.c.Settled())

	tr := h.connectStream()
	assert.False(t, h.c.Settled())
	tr.opened()
	tr.emit(transport.Signal{Type: transport.SignalFailed, Err: errors.New("reset")})
	assert.False(t, h.c.Settled(), "transient failures reconnect")

	tr.emit(transport.Signal{Type: transport.SignalFailed, StatusCode: 500, StatusText: "Internal Server Error", Final: true})
	assert.True(t, h.c.Settled())
	assert.Equal(t, state.StatusError, h.c.State().Status)

	h.connectStream().opened()
	assert.False(t, h.c.Settled())
	h.c.Disconnect()
	assert.True(t, h.c.Settled())

	h.factory.startErr = errors.New("refused")
	h.connectStream()
	assert.True(t, h.c.Settled())
}

func TestStartFailure(t *testing.T) {
	h := newHarness(t)
	h.factory.startErr = streamerrors.InvalidRequest("GET", "ftp://x", errors.New("unsupported scheme"))

	h.connectStream()

	snap := h.c.State()
	assert.Equal(t, state.StatusError, snap.Status)
	require.NotNil(t, snap.Error)
	assert.Equal(t, streamerrors.CodeInvalidRequest, snap.Error.Code)
	assert.Equal(t, []string{"error:" + streamerrors.CodeInvalidRequest}, h.callbacks.all())

	entry, ok := h.sink.find(ActionError)
	require.True(t, ok)
	assert.Equal(t, logging.ResultError, entry.Result)

	h.factory.startErr = nil
	h.connectStream()
	assert.Len(t, h.factory.transports, 2, "a failed start leaves nothing active")
}

func TestSingleShotSuccess(t *testing.T) {
	h := newHarness(t)

	tr := h.connectSingleShot()
	assert.Equal(t, transport.KindRequest, tr.kind)
	assert.Equal(t, state.StatusOpen, h.c.State().Status)

	tr.emit(transport.Signal{Type: transport.SignalCompleted, StatusCode: 200, Data: []byte(`{"type":"summary","items":[1,2]}`)})

	snap := h.c.State()
	assert.Equal(t, state.StatusClosed, snap.Status)
	require.NotNil(t, snap.StreamMessage)
	assert.Equal(t, "summary", snap.StreamMessage.Type)
	require.Len(t, snap.FullMessages, 1)
	assert.Same(t, snap.StreamMessage, snap.FullMessages[0])
	assert.Equal(t, []state.Status{state.StatusOpen, state.StatusOpen, state.StatusClosed}, h.statuses)
	assert.Equal(t, []string{"open", "message:summary", "disconnect"}, h.callbacks.all())

	actions := h.sink.actions()
	assert.Equal(t, []string{
		ActionStart,
		ActionOpenUseFetch,
		ActionDisconnectingUseFetch,
		ActionDisconnectedUseFetch,
	}, actions)
	assert.Zero(t, h.c.OpenCount())
}

func TestSingleShotFailures(t *testing.T) {
	tests := []struct {
		name     string
		signal   transport.Signal
		code     string
		logCode  string
		severity logging.Result
	}{
		{
			name: "validation error",
			signal: transport.Signal{
				Type:       transport.SignalFailed,
				StatusCode: 400,
				Data:       []byte(`{"error_code":"VALIDATION_ERROR","error_message":"query is required","id":"e-9"}`),
				Final:      true,
			},
			code:     "VALIDATION_ERROR",
			logCode:  streamerrors.CodeAPIValidationError,
			severity: logging.ResultError,
		},
		{
			name:     "bad gateway",
			signal:   transport.Signal{Type: transport.SignalFailed, StatusCode: 502, StatusText: "Bad Gateway", Final: true},
			code:     streamerrors.CodeNetworkFailure,
			logCode:  streamerrors.CodeNetworkFailure,
			severity: logging.ResultWarn,
		},
		{
			name:     "undecodable body",
			signal:   transport.Signal{Type: transport.SignalCompleted, StatusCode: 200, Data: []byte("<html>")},
			code:     streamerrors.CodeRuntimeError,
			logCode:  streamerrors.CodeRuntimeError,
			severity: logging.ResultError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tr := h.connectSingleShot()

			tr.emit(tt.signal)

			snap := h.c.State()
			assert.Equal(t, state.StatusClosed, snap.Status)
			assert.Nil(t, snap.StreamMessage)
			require.NotNil(t, snap.Error)
			assert.Equal(t, tt.code, snap.Error.Code)
			assert.Equal(t, []state.Status{state.StatusOpen, state.StatusError, state.StatusClosed}, h.statuses)
			assert.Equal(t, []string{"open", "error:" + tt.code, "disconnect"}, h.callbacks.all())

			entry, ok := h.sink.find(ActionErrorUseFetch)
			require.True(t, ok)
			assert.Equal(t, tt.severity, entry.Result)
			assert.Equal(t, tt.logCode, entry.ErrorCode)
		})
	}
}

func TestSingleShotCancellationIsSwallowed(t *testing.T) {
	h := newHarness(t)
	tr := h.connectSingleShot()

	tr.emit(transport.Signal{Type: transport.SignalFailed, Err: context.Canceled})
	assert.Equal(t, state.StatusOpen, h.c.State().Status)
	assert.Equal(t, []string{"open"}, h.callbacks.all())

	h.c.Disconnect()
	tr.emit(transport.Signal{Type: transport.SignalFailed, Err: context.Canceled})

	assert.Equal(t, state.StatusClosed, h.c.State().Status)
	assert.Nil(t, h.c.State().Error)
	assert.Equal(t, []string{"open", "disconnect"}, h.callbacks.all())
	assert.NotContains(t, h.sink.actions(), ActionErrorUseFetch)
}

func TestDestroy(t *testing.T) {
	h := newHarness(t)
	tr := h.connectStream()
	tr.opened()
	tr.message(`{"type":"agent_response"}`)

	h.c.Destroy()

	snap := h.c.State()
	assert.Equal(t, state.StatusIdle, snap.Status)
	assert.Empty(t, snap.FullMessages)
	assert.Nil(t, snap.StreamMessage)
	assert.Zero(t, h.c.store.SubscriberCount())
	assert.True(t, h.sink.closed)
	assert.Equal(t, []string{"open", "message:agent_response", "disconnect"}, h.callbacks.all())

	h.c.Destroy()
	h.connectStream()
	assert.Len(t, h.factory.transports, 1, "destroyed controllers do not connect")
}

func TestCallbackPanicIsRecovered(t *testing.T) {
	h := newHarness(t, WithOnOpen(func() { panic("boom") }))
	tr := h.connectStream()

	assert.NotPanics(t, tr.opened)
	tr.message(`{"type":"agent_response"}`)
	assert.Len(t, h.c.State().FullMessages, 1)
}

func TestUnsubscribe(t *testing.T) {
	h := newHarness(t)
	var seen int
	unsubscribe := h.c.Subscribe(func(state.Update) { seen++ })

	tr := h.connectStream()
	unsubscribe()
	tr.opened()

	assert.Equal(t, 1, seen)
}

func TestUpdatesCarryTransportInfo(t *testing.T) {
	h := newHarness(t)
	var infos []state.TransportInfo
	h.c.Subscribe(func(u state.Update) { infos = append(infos, u.Transport) })

	tr := h.connectStream()
	tr.opened()
	h.c.Disconnect()

	require.Len(t, infos, 3)
	assert.Equal(t, state.TransportInfo{Kind: "eventsource", ID: "fake-1", URL: "http://api.test/chat"}, infos[0])
	assert.True(t, infos[1].Active())
	assert.False(t, infos[2].Active(), "closed update has no transport")
}

func TestDefaults(t *testing.T) {
	c := NewFromConfig(Config{BaseURL: "http://x"}, WithLogger(logging.Nop()), WithSink(&memorySink{}))
	assert.Equal(t, DefaultRetryAttempts, c.config.RetryAttempts)
	assert.Equal(t, logging.DefaultAppName, c.config.LoggerAppName)
	assert.True(t, c.accepted.Contains(protocol.DefaultMessageType))
	assert.Equal(t, state.StatusIdle, c.State().Status)
	assert.Empty(t, c.TraceID())
}

func TestWithMiddleware(t *testing.T) {
	om := transport.NewObservabilityMiddleware(transport.ObservabilityConfig{EnableMetrics: true, Logger: logging.Nop()})
	var order []string
	tag := func(name string) transport.Middleware {
		return transport.MiddlewareFunc(func(next transport.Transport) transport.Transport {
			order = append(order, name)
			return next
		})
	}
	h := newHarness(t, WithMiddleware(tag("first"), om), WithMiddleware(tag("second")))

	tr := h.connectStream()
	tr.opened()
	tr.message(`{"type":"agent_response","content":"hi"}`)
	tr.message(`{"type":"end"}`)

	assert.Equal(t, []string{"second", "first"}, order, "first middleware is outermost")
	snap := om.GetMetrics()
	require.NotNil(t, snap)
	es := snap.Kinds[transport.KindEventSource]
	assert.EqualValues(t, 1, es.Starts)
	assert.EqualValues(t, 1, es.Opened)
	assert.EqualValues(t, 2, es.Messages)
	assert.Equal(t, state.StatusClosed, h.c.State().Status)
}
