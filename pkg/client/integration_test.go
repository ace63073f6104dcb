package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/chancetop/aistream-go/pkg/logging"
	"github.com/chancetop/aistream-go/pkg/observability"
	"github.com/chancetop/aistream-go/pkg/protocol"
	"github.com/chancetop/aistream-go/pkg/state"
	"github.com/chancetop/aistream-go/pkg/transport"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

func fastReconnect() Option {
	return WithReconnect(transport.ReconnectConfig{
		InitialDelay:  5 * time.Millisecond,
		MaxDelay:      20 * time.Millisecond,
		BackoffFactor: 2,
	})
}

func isClosed(c *Controller) func() bool {
	return func() bool { return c.State().Status == state.StatusClosed }
}

// onDisconnect signals once the disconnect callback has returned. State
// changes are published before callbacks run, so tests that inspect anything
// recorded after the closed update wait for this instead of the status.
func onDisconnect() (Option, <-chan struct{}) {
	ch := make(chan struct{}, 1)
	return WithOnDisconnect(func() {
		select {
		case ch <- struct{}{}:
		default:
		}
	}), ch
}

func wait(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitFor):
		t.Fatal("timed out")
	}
}

func TestStreamingOverHTTP(t *testing.T) {
	traceIDs := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceIDs <- r.Header.Get(logging.TraceHeader)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"agent_response\",\"content\":\"Hel\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"thinking\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"agent_response\",\"content\":\"lo\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"end\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	var mu sync.Mutex
	var content string
	disconnectOpt, disconnected := onDisconnect()
	c := New(srv.URL,
		WithLogger(logging.Nop()),
		WithSink(&memorySink{}),
		WithOnMessage(func(msg *protocol.DataMessage) {
			mu.Lock()
			content += msg.String("content")
			mu.Unlock()
		}),
		disconnectOpt,
	)
	defer c.Destroy()

	c.Connect(protocol.RequestOptions{URL: "/chat", Method: http.MethodPost, Data: map[string]string{"q": "hi"}})

	wait(t, disconnected)
	assert.Equal(t, state.StatusClosed, c.State().Status)
	assert.Equal(t, c.TraceID(), <-traceIDs)
	assert.Len(t, c.State().FullMessages, 2)
	assert.Equal(t, 1, c.OpenCount())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Hello", content)
}

func TestSingleShotOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"type":"summary","created_at":"2024-05-01T10:00:00Z"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, WithLogger(logging.Nop()), WithSink(&memorySink{}))
	defer c.Destroy()

	c.Connect(protocol.RequestOptions{URL: "/summary", Streaming: protocol.Bool(false)})

	require.Eventually(t, isClosed(c), waitFor, tick)
	snap := c.State()
	require.NotNil(t, snap.StreamMessage)
	assert.Equal(t, "summary", snap.StreamMessage.Type)
	_, ok := snap.StreamMessage.Time("created_at")
	assert.True(t, ok)
	assert.Nil(t, snap.Error)
}

func TestRetryCeilingOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	var mu sync.Mutex
	var errs int
	c := New(url,
		WithLogger(logging.Nop()),
		WithSink(&memorySink{}),
		WithRetryAttempts(3),
		fastReconnect(),
		WithOnError(func(error) {
			mu.Lock()
			errs++
			mu.Unlock()
		}),
	)
	defer c.Destroy()

	c.Connect(protocol.RequestOptions{URL: "/chat"})

	require.Eventually(t, isClosed(c), waitFor, tick)
	snap := c.State()
	require.NotNil(t, snap.Error)
	assert.Equal(t, "NETWORK_FAILURE", snap.Error.Code)

	// The transport is cancelled; no further errors arrive.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, errs)
}

func TestDisconnectStopsStreamOverHTTP(t *testing.T) {
	gone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(gone)
	}))
	defer srv.Close()

	c := New(srv.URL, WithLogger(logging.Nop()), WithSink(&memorySink{}))
	c.Connect(protocol.RequestOptions{URL: "/chat"})
	require.Eventually(t, func() bool { return c.State().Status == state.StatusOpen }, waitFor, tick)

	c.Disconnect()
	require.Eventually(t, isClosed(c), waitFor, tick)

	select {
	case <-gone:
	case <-time.After(waitFor):
		t.Fatal("server request was not cancelled")
	}
	c.Destroy()
}

func TestObservabilityOptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("Traceparent"))
		fmt.Fprint(w, `{"type":"agent_response"}`)
	}))
	defer srv.Close()

	metrics, err := observability.NewMetricsProvider(observability.MetricsConfig{})
	require.NoError(t, err)
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := observability.NewTracingProvider(observability.TracingConfig{Exporter: exporter})
	require.NoError(t, err)

	disconnectOpt, disconnected := onDisconnect()
	c := New(srv.URL,
		WithLogger(logging.Nop()),
		WithSink(&memorySink{}),
		WithMetrics(metrics),
		WithTracing(tracer),
		disconnectOpt,
	)
	defer c.Destroy()

	c.Connect(protocol.RequestOptions{URL: "/x", Streaming: protocol.Bool(false)})
	wait(t, disconnected)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`aistream_connect_total{kind="request"} 1`,
		`aistream_message_total{type="agent_response"} 1`,
		`aistream_disconnect_total{kind="request",reason="completed"} 1`,
		`aistream_signal_total{kind="request",signal="completed"} 1`,
		`aistream_connection_state{state="closed"} 1`,
	} {
		assert.Contains(t, body, want)
	}

	require.NoError(t, tracer.ForceFlush(context.Background()))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "aistream.request", spans[0].Name)
}

func TestLoggerURLSendsLifecycleEntries(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var actions []string
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Events []logging.LogEntry `json:"events"`
		}
		_ = json.Unmarshal(body, &payload)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		for _, e := range payload.Events {
			actions = append(actions, e.Action)
		}
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer collector.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"type":"agent_response"}`)
	}))
	defer api.Close()

	c := New(api.URL, WithLogger(logging.Nop()), WithLoggerURL(collector.URL, "chat-ui"))
	c.Connect(protocol.RequestOptions{URL: "/x", Streaming: protocol.Bool(false)})
	require.Eventually(t, isClosed(c), waitFor, tick)
	c.Destroy()

	// Destroy may be queued behind the transport goroutine; the sink is
	// flushed when it runs.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(actions) == 4
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/chat-ui", paths[0])
	assert.Equal(t, []string{
		ActionStart,
		ActionOpenUseFetch,
		ActionDisconnectingUseFetch,
		ActionDisconnectedUseFetch,
	}, actions)
}
