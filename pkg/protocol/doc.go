// Package protocol defines the wire model of the AI chat event stream.
//
// # Package Organization
//
//   - message.go: the tagged message variant decoded from stream frames
//     (EndMessage, DataMessage, UnknownMessage) and the accepted type set.
//   - dates.go: JSON decoding that upgrades ISO-8601 timestamps to time.Time.
//   - request.go: request descriptors and the merge of base and per-call options.
//
// # Message Flow
//
// Every stream frame carries a JSON object with a "type" discriminator. The
// reserved type "end" terminates the conversation turn gracefully. Types in the
// accepted set decode to DataMessage; anything else decodes to UnknownMessage so
// callers can filter exhaustively:
//
//	msg, err := protocol.DecodeMessage(frame, protocol.NewTypeSet("agent_response"))
//	if err != nil {
//		return // malformed frames are dropped
//	}
//	switch m := msg.(type) {
//	case *protocol.EndMessage:
//		// close the stream
//	case *protocol.DataMessage:
//		fmt.Println(m.String("content"))
//	case *protocol.UnknownMessage:
//		// ignored
//	}
package protocol
