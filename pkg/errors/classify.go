package errors

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// defaultStreamStatus is reported for API errors delivered in-band on a stream,
// where the HTTP exchange itself succeeded.
const defaultStreamStatus = 200

// RawSignal is an unclassified failure as observed by a transport.
type RawSignal struct {
	// Body is the error payload: an SSE error frame's data or a non-ok response body.
	Body []byte
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int
	StatusText string
	URL        string
	Err        error
}

// ErrorPayload is the structured error body servers send.
type ErrorPayload struct {
	ErrorCode    string
	ErrorMessage string
	ErrorID      string
}

// ParseErrorPayload decodes body as a JSON object and extracts the error fields.
// ok is false if body is not an object or has no error_code.
func ParseErrorPayload(body []byte) (ErrorPayload, bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ErrorPayload{}, false
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return ErrorPayload{}, false
	}

	payload := ErrorPayload{
		ErrorCode:    scalarString(raw["error_code"]),
		ErrorMessage: scalarString(raw["error_message"]),
		ErrorID:      scalarString(raw["error_id"]),
	}
	if payload.ErrorID == "" {
		payload.ErrorID = scalarString(raw["id"])
	}
	if payload.ErrorCode == "" {
		return payload, false
	}
	return payload, true
}

// Classify converts a raw transport failure into an Exception. It never fails:
// anything that is neither a cancellation nor a structured server error is a
// NetworkConnectionException.
func Classify(sig RawSignal) Exception {
	if IsCancellation(sig.Err) {
		return &CancellationError{Cause: sig.Err}
	}

	if exc, ok := AsException(sig.Err); ok {
		return exc
	}

	if payload, ok := ParseErrorPayload(sig.Body); ok {
		status := sig.StatusCode
		if status == 0 {
			status = defaultStreamStatus
		}
		message := payload.ErrorMessage
		if message == "" {
			message = "[No Response]"
		}
		return &APIException{
			Message:    message,
			StatusCode: status,
			RequestURL: sig.URL,
			RawBody:    append([]byte(nil), sig.Body...),
			ErrorID:    payload.ErrorID,
			ErrorCode:  payload.ErrorCode,
		}
	}

	return NewNetworkConnectionException(sig.URL, originalMessage(sig), sig.Err)
}

// originalMessage picks the most specific description of a failure without a
// structured payload: the HTTP status text when a response arrived, otherwise
// the raw frame data or the transport error.
func originalMessage(sig RawSignal) string {
	if sig.StatusCode != 0 {
		return sig.StatusText
	}
	if text := strings.TrimSpace(string(sig.Body)); text != "" {
		return text
	}
	if sig.Err != nil {
		return sig.Err.Error()
	}
	return ""
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
