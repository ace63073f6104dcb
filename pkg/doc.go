// Package pkg holds the building blocks of the aistream client. Most programs
// only need the root aistream package or pkg/client; the other packages are
// exported for callers that want to swap a piece out.
//
// # Packages
//
//   - client: the stream controller. It owns one lifecycle at a time, picks a
//     transport per request and publishes state snapshots.
//   - transport: the event-stream and single-shot HTTP transports, the
//     reconnect policy and transport middleware.
//   - protocol: request resolution (base URL, path parameters, headers) and
//     decoding of frames into end, data and unknown messages.
//   - state: the observable snapshot store.
//   - errors: exception categories, codes and classification of transport
//     failures.
//   - logging: the zap-backed Logger and lifecycle log sinks.
//   - observability: Prometheus metrics and OpenTelemetry tracing providers.
//   - config: file, environment and flag configuration loaded through viper.
//   - utils: test helpers.
//
// # Streaming
//
//	c := client.New("https://api.example.com",
//	    client.WithOnMessage(func(msg *protocol.DataMessage) {
//	        fmt.Print(msg.String("content"))
//	    }),
//	)
//	defer c.Destroy()
//
//	c.Connect(protocol.RequestOptions{
//	    URL:    "/agent/chat/stream",
//	    Method: http.MethodPost,
//	    Data:   map[string]string{"message": "hello"},
//	})
//
// # Single-shot requests
//
// Setting RequestOptions.Streaming to protocol.Bool(false) sends one plain
// request and treats the decoded body as the only message.
package pkg
