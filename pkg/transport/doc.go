// Package transport provides the two channels a controller drives: a
// reconnecting Server-Sent Events stream (EventSource) and a single
// request/response exchange (Request).
//
// Both report progress through one uniform signal set, so the consumer never
// branches on the concrete transport:
//
//	SignalOpened     the channel is ready to deliver
//	SignalMessage    one stream frame arrived
//	SignalFailed     a failure, possibly followed by a reconnect
//	SignalCompleted  the single response arrived
//
// Signals for one transport are delivered one at a time, in arrival order, on
// the transport's own goroutine. Once Cancel has taken effect no further
// signals are delivered.
//
// Usage:
//
//	factory := transport.NewFactory(transport.DefaultConfig())
//	t := factory(transport.KindEventSource)
//	err := t.Start(ctx, resolved, func(sig transport.Signal) { ... })
//	defer t.Cancel()
//
// Streaming signals follow the browser EventSource model: an "error" event
// pushed by the server arrives as SignalFailed with Event set and the stream
// stays open, while a dropped connection arrives as SignalFailed with Err set
// and is retried. Only a non-200 response or an unusable request ends an
// EventSource on its own; such failures carry Final.
package transport
