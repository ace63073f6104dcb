package transport

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chancetop/aistream-go/pkg/logging"
	"github.com/chancetop/aistream-go/pkg/protocol"
)

// stubTransport replays a fixed list of signals synchronously from Start.
type stubTransport struct {
	kind      Kind
	signals   []Signal
	startErr  error
	cancelled bool
	active    bool
}

func (s *stubTransport) Start(ctx context.Context, req *protocol.ResolvedRequest, h Handler) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.active = true
	for _, sig := range s.signals {
		h(sig)
	}
	return nil
}

func (s *stubTransport) Cancel() {
	s.cancelled = true
	s.active = false
}
func (s *stubTransport) Active() bool { return s.active }
func (s *stubTransport) Kind() Kind   { return s.kind }
func (s *stubTransport) ID() string   { return "stub" }

func TestChainMiddlewareOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return MiddlewareFunc(func(next Transport) Transport {
			return &orderTransport{middlewareTransport: middlewareTransport{next: next}, name: name, order: &order}
		})
	}

	chain := ChainMiddleware(tag("outer"), nil, tag("inner"))
	tr := chain.Wrap(&stubTransport{kind: KindRequest})

	require.NoError(t, tr.Start(context.Background(), &protocol.ResolvedRequest{}, func(Signal) {}))
	assert.Equal(t, []string{"outer", "inner"}, order)
	assert.Equal(t, KindRequest, tr.Kind())
	assert.Equal(t, "stub", tr.ID())
}

type orderTransport struct {
	middlewareTransport
	name  string
	order *[]string
}

func (o *orderTransport) Start(ctx context.Context, req *protocol.ResolvedRequest, h Handler) error {
	*o.order = append(*o.order, o.name)
	return o.middlewareTransport.Start(ctx, req, h)
}

func TestObservabilityMiddlewareCounts(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, logging.NewTextFormatter())
	logger.SetLevel(logging.DebugLevel)

	om := NewObservabilityMiddleware(ObservabilityConfig{EnableMetrics: true, EnableLogging: true, Logger: logger})
	stub := &stubTransport{kind: KindEventSource, signals: []Signal{
		{Type: SignalOpened, Attempt: 1},
		{Type: SignalMessage, Data: []byte("a")},
		{Type: SignalMessage, Data: []byte("b")},
		{Type: SignalFailed, Err: fmt.Errorf("dropped")},
	}}
	tr := om.Wrap(stub)

	var delivered int
	require.NoError(t, tr.Start(context.Background(), &protocol.ResolvedRequest{TraceID: "abcd-1"}, func(Signal) { delivered++ }))
	tr.Cancel()

	assert.Equal(t, 4, delivered)
	assert.True(t, stub.cancelled)

	snap := om.GetMetrics()
	require.NotNil(t, snap)
	es := snap.Kinds[KindEventSource]
	assert.Equal(t, int64(1), es.Starts)
	assert.Equal(t, int64(1), es.Opened)
	assert.Equal(t, int64(2), es.Messages)
	assert.Equal(t, int64(1), es.Failed)
	assert.Equal(t, int64(1), es.Cancels)
	assert.Equal(t, int64(1), es.OpenLatency.Count)
	assert.Contains(t, snap.String(), "messages=2")

	output := buf.String()
	assert.Contains(t, output, "Transport signal")
	assert.Contains(t, output, "error=dropped")
	assert.Contains(t, output, "[abcd]")
}

func TestObservabilityMiddlewareStartError(t *testing.T) {
	om := NewObservabilityMiddleware(ObservabilityConfig{EnableMetrics: true, Logger: logging.Nop()})
	tr := om.Wrap(&stubTransport{kind: KindRequest, startErr: fmt.Errorf("nope")})

	assert.Error(t, tr.Start(context.Background(), &protocol.ResolvedRequest{}, func(Signal) {}))
	rq := om.GetMetrics().Kinds[KindRequest]
	assert.Equal(t, int64(1), rq.StartErrors)

	disabled := NewObservabilityMiddleware(ObservabilityConfig{Logger: logging.Nop()})
	assert.Nil(t, disabled.GetMetrics())
}

func TestObservabilityMiddlewareOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: one\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	om := NewObservabilityMiddleware(ObservabilityConfig{EnableMetrics: true, Logger: logging.Nop()})
	cfg := testConfig()
	cfg.Middleware = []Middleware{om}
	tr := NewFactory(cfg)(KindEventSource)

	rec := &signalRecorder{}
	require.NoError(t, tr.Start(context.Background(), streamRequest(srv.URL), rec.handle))
	require.Eventually(t, func() bool { return rec.count(SignalMessage) == 1 }, 2*time.Second, 5*time.Millisecond)
	tr.Cancel()

	es := om.GetMetrics().Kinds[KindEventSource]
	assert.Equal(t, int64(1), es.Messages)
	assert.Equal(t, int64(1), es.Cancels)
	assert.Len(t, om.GetMetrics().Kinds, 1)
}
