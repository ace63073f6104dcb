package demoserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// eventWriter writes Server-Sent Events to a response.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newEventWriter sets the event-stream headers. ok is false when the
// response cannot be flushed.
func newEventWriter(w http.ResponseWriter) (*eventWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &eventWriter{w: w, flusher: flusher}, true
}

func (e *eventWriter) write(id, event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	var b strings.Builder
	if id != "" {
		fmt.Fprintf(&b, "id: %s\n", id)
	}
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", event)
	}
	for _, line := range strings.Split(string(payload), "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")

	if _, err := e.w.Write([]byte(b.String())); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}
