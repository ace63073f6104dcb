// Package aistream is a client for AI APIs that answer either over a
// Server-Sent Events stream or with a single JSON document. This package is
// the root of the SDK and re-exports the most used pieces of the
// sub-packages.
//
// # Overview
//
// The SDK consists of several sub-packages:
//
//   - pkg/client: the stream controller that owns a connection lifecycle
//   - pkg/protocol: request options, URL resolution and message decoding
//   - pkg/transport: the event-stream and single-shot HTTP transports
//   - pkg/state: the observable connection state
//   - pkg/errors: failure classification into API, network and runtime errors
//   - pkg/logging: structured logging and the lifecycle log reporter
//   - pkg/observability: Prometheus metrics and OpenTelemetry tracing
//   - pkg/config: YAML and environment configuration
//
// # Streaming a Response
//
//	import (
//	    "fmt"
//	    "github.com/chancetop/aistream-go"
//	)
//
//	func main() {
//	    c := aistream.New("https://api.example.com",
//	        aistream.WithHeaders(map[string]string{"Authorization": "Bearer token"}),
//	        aistream.WithOnMessage(func(msg *aistream.DataMessage) {
//	            fmt.Print(msg.String("content"))
//	        }),
//	    )
//	    defer c.Destroy()
//
//	    c.Connect(aistream.RequestOptions{
//	        URL:        "/chat/:id",
//	        Method:     "POST",
//	        PathParams: map[string]string{"id": "42"},
//	        Data:       map[string]string{"question": "hello"},
//	    })
//	}
//
// The stream closes itself when the server sends {"type":"end"} or after
// the configured number of stream errors. Set Streaming to aistream.Bool(false)
// to send a plain request whose JSON response is delivered as one message.
//
// # Observing State
//
// Subscribe delivers every state change together with the transport that
// produced it:
//
//	unsubscribe := c.Subscribe(func(u aistream.Update) {
//	    log.Println(u.State.Status, len(u.State.FullMessages))
//	})
//	defer unsubscribe()
//
// # Command Line
//
// cmd/aistream wraps the controller in a CLI that prints accepted messages
// as JSON lines:
//
//	aistream chat /chat --base-url https://api.example.com -d '{"question":"hello"}'
package aistream
