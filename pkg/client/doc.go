// Package client provides the connection controller for AI chat streams.
//
// A Controller connects to a server either with a Server-Sent Events stream
// or, when RequestOptions.Streaming is false, with a single request whose
// JSON response is treated as the only message. It keeps a state.Snapshot of
// the conversation and notifies subscribers on every change:
//
//   - Status: idle, connecting, open, closed or error
//   - StreamMessage: the last accepted message
//   - FullMessages: every accepted message of the current lifecycle
//   - Error: the code and message of the last classified failure
//
// # Creating a Controller
//
//	c := client.New("https://api.example.com",
//	    client.WithHeaders(map[string]string{"Authorization": "Bearer " + token}),
//	    client.WithAcceptMessageTypes("agent_response", "tool_call"),
//	    client.WithOnMessage(func(msg *protocol.DataMessage) {
//	        fmt.Println(msg.String("content"))
//	    }),
//	)
//	defer c.Destroy()
//
//	c.Connect(protocol.RequestOptions{
//	    URL:        "/agent/:id/chat",
//	    Method:     http.MethodPost,
//	    PathParams: map[string]string{"id": agentID},
//	    Data:       map[string]string{"query": "hello"},
//	})
//
// # Messages
//
// Each stream frame is decoded as JSON. A frame of type "end" closes the
// connection gracefully. Frames whose type is not accepted are dropped, and
// with WithStrictMessageTypes they are also reported to the lifecycle log.
// Undecodable frames are dropped silently.
//
// # Failures
//
// Stream failures are classified into an APIException when the server sent a
// structured error payload and a NetworkConnectionException otherwise. Each
// one moves the controller to the error state and invokes OnError. The
// EventSource transport reconnects on its own; after RetryAttempts failures
// without a successful open the controller disconnects.
//
// # Lifecycle log
//
// Every milestone (SSE_START, SSE_OPEN, SSE_ERROR, SSE_DISCONNECTED and their
// single-shot variants) is written as a logging.LogEntry carrying the
// lifecycle trace id. Entries go to the collector at LoggerURL when it is
// set, and to the structured logger otherwise.
package client
