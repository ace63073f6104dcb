package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

const (
	// EndMessageType is the reserved discriminator for graceful termination.
	EndMessageType = "end"

	// DefaultMessageType is accepted when no accepted types are configured.
	DefaultMessageType = "agent_response"
)

// Message is the tagged variant decoded from one stream frame.
type Message interface {
	MessageType() string
	isMessage()
}

// EndMessage signals that the server finished the conversation turn.
type EndMessage struct {
	Raw json.RawMessage
}

func (m *EndMessage) MessageType() string { return EndMessageType }
func (*EndMessage) isMessage()            {}

// DataMessage is an accepted message, or the body of a single-shot response.
// Payload holds the decoded JSON with ISO-8601 strings upgraded to time.Time.
type DataMessage struct {
	Type    string
	Payload interface{}
	Raw     json.RawMessage
}

func (m *DataMessage) MessageType() string { return m.Type }
func (*DataMessage) isMessage()            {}

// Field returns a top-level field of an object payload, or nil.
func (m *DataMessage) Field(key string) interface{} {
	obj, ok := m.Payload.(map[string]interface{})
	if !ok {
		return nil
	}
	return obj[key]
}

// String returns a top-level string field of an object payload, or "".
func (m *DataMessage) String(key string) string {
	s, _ := m.Field(key).(string)
	return s
}

// Time returns a top-level timestamp field of an object payload.
func (m *DataMessage) Time(key string) (time.Time, bool) {
	t, ok := m.Field(key).(time.Time)
	return t, ok
}

// Decode unmarshals the raw frame into v.
func (m *DataMessage) Decode(v interface{}) error {
	return json.Unmarshal(m.Raw, v)
}

// MarshalJSON emits the frame exactly as received.
func (m *DataMessage) MarshalJSON() ([]byte, error) {
	if len(m.Raw) == 0 {
		return []byte("null"), nil
	}
	return m.Raw, nil
}

// UnknownMessage is a well-formed frame whose type is neither "end" nor accepted.
// Type is empty when the frame has no string discriminator.
type UnknownMessage struct {
	Type string
	Raw  json.RawMessage
}

func (m *UnknownMessage) MessageType() string { return m.Type }
func (*UnknownMessage) isMessage()            {}

// TypeSet is the allow-list of accepted message discriminators.
type TypeSet map[string]struct{}

// NewTypeSet builds a set from types; with no types it holds DefaultMessageType.
func NewTypeSet(types ...string) TypeSet {
	if len(types) == 0 {
		types = []string{DefaultMessageType}
	}
	set := make(TypeSet, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

// Contains reports whether t is accepted.
func (s TypeSet) Contains(t string) bool {
	_, ok := s[t]
	return ok
}

// List returns the accepted types in sorted order.
func (s TypeSet) List() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// DecodeMessage parses one stream frame. It returns an error only when data is
// not valid JSON; any valid JSON yields exactly one variant.
func DecodeMessage(data []byte, accepted TypeSet) (Message, error) {
	payload, err := ParseWithDates(data)
	if err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	raw := json.RawMessage(append([]byte(nil), data...))

	obj, ok := payload.(map[string]interface{})
	if !ok {
		return &UnknownMessage{Raw: raw}, nil
	}

	msgType, _ := obj["type"].(string)
	switch {
	case msgType == EndMessageType:
		return &EndMessage{Raw: raw}, nil
	case accepted.Contains(msgType):
		return &DataMessage{Type: msgType, Payload: obj, Raw: raw}, nil
	default:
		return &UnknownMessage{Type: msgType, Raw: raw}, nil
	}
}

// DecodePayload parses a single-shot response body. Every valid JSON body is
// accepted; Type is taken from the body when it carries one.
func DecodePayload(data []byte) (*DataMessage, error) {
	payload, err := ParseWithDates(data)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	msg := &DataMessage{Payload: payload, Raw: json.RawMessage(append([]byte(nil), data...))}
	if obj, ok := payload.(map[string]interface{}); ok {
		msg.Type, _ = obj["type"].(string)
	}
	return msg, nil
}
