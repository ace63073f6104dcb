// Package state holds the connection state snapshot and fans out every change
// to subscribers.
package state

import (
	"github.com/chancetop/aistream-go/pkg/protocol"
)

// Status is the lifecycle status of a connection.
type Status string

const (
	// StatusIdle means no connection has been attempted or the controller was destroyed.
	StatusIdle Status = "idle"
	// StatusConnecting means a streaming transport was started and has not opened yet.
	StatusConnecting Status = "connecting"
	// StatusOpen means the transport is delivering messages.
	StatusOpen Status = "open"
	// StatusClosed means the transport was torn down.
	StatusClosed Status = "closed"
	// StatusError means the last signal was a classified failure.
	StatusError Status = "error"
)

// String returns the string representation of a Status
func (s Status) String() string {
	return string(s)
}

// ErrorInfo is the error carried in a snapshot.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Snapshot is one immutable view of the connection state. FullMessages is
// shared between snapshots and must not be modified by readers.
type Snapshot struct {
	Status        Status                  `json:"status"`
	StreamMessage *protocol.DataMessage   `json:"streamMessage"`
	FullMessages  []*protocol.DataMessage `json:"fullMessages"`
	Error         *ErrorInfo              `json:"error"`
}

// Initial returns the idle snapshot with empty buffers.
func Initial() Snapshot {
	return Snapshot{
		Status:       StatusIdle,
		FullMessages: []*protocol.DataMessage{},
	}
}

// TransportInfo describes the transport that is active when a change is
// published. The zero value means no transport is active.
type TransportInfo struct {
	Kind string `json:"kind,omitempty"`
	ID   string `json:"id,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Active reports whether the descriptor names a transport.
func (t TransportInfo) Active() bool {
	return t.ID != ""
}

// Update is the event delivered to subscribers.
type Update struct {
	Transport TransportInfo
	State     Snapshot
}

// Change mutates a snapshot copy during Store.Update.
type Change func(*Snapshot)

// WithStatus sets the status.
func WithStatus(status Status) Change {
	return func(s *Snapshot) { s.Status = status }
}

// WithStreamMessage sets the last accepted message.
func WithStreamMessage(msg *protocol.DataMessage) Change {
	return func(s *Snapshot) { s.StreamMessage = msg }
}

// ClearStreamMessage removes the last accepted message.
func ClearStreamMessage() Change {
	return func(s *Snapshot) { s.StreamMessage = nil }
}

// AppendMessage appends msg to FullMessages without touching the backing
// array of earlier snapshots.
func AppendMessage(msg *protocol.DataMessage) Change {
	return func(s *Snapshot) {
		next := make([]*protocol.DataMessage, len(s.FullMessages), len(s.FullMessages)+1)
		copy(next, s.FullMessages)
		s.FullMessages = append(next, msg)
	}
}

// WithMessages replaces FullMessages.
func WithMessages(msgs ...*protocol.DataMessage) Change {
	return func(s *Snapshot) {
		s.FullMessages = append([]*protocol.DataMessage{}, msgs...)
	}
}

// WithError sets the error.
func WithError(code, message string) Change {
	return func(s *Snapshot) { s.Error = &ErrorInfo{Code: code, Message: message} }
}

// ClearError removes the error.
func ClearError() Change {
	return func(s *Snapshot) { s.Error = nil }
}
