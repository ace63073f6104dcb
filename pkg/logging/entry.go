package logging

import (
	"time"
)

// Result is the outcome recorded on a lifecycle log entry.
type Result string

const (
	ResultOK    Result = "OK"
	ResultWarn  Result = "WARN"
	ResultError Result = "ERROR"
)

const (
	// MaxInfoValueLength bounds each info value, in characters.
	MaxInfoValueLength = 500000
	// MaxErrorMessageLength bounds the error message, in characters.
	MaxErrorMessageLength = 1000
)

// LogEntry is one lifecycle record as delivered to a collector.
type LogEntry struct {
	Date   time.Time `json:"date"`
	Action string    `json:"action"`
	Result Result    `json:"result"`
	// ElapsedTime is in milliseconds.
	ElapsedTime  int64              `json:"elapsedTime"`
	Info         map[string]string  `json:"info"`
	Stats        map[string]float64 `json:"stats"`
	ErrorCode    string             `json:"errorCode,omitempty"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
}

// Event is what the controller reports for a milestone. Info keys are
// lower_snake_case text for display; Stats keys carry numbers for aggregation.
type Event struct {
	Action  string
	Elapsed time.Duration
	Info    map[string]string
	Stats   map[string]float64
}

// NewLogEntry builds an entry from ev, copying the maps and truncating long values.
func NewLogEntry(date time.Time, result Result, ev Event, errorCode, errorMessage string) LogEntry {
	entry := LogEntry{
		Date:         date,
		Action:       ev.Action,
		Result:       result,
		ElapsedTime:  ev.Elapsed.Milliseconds(),
		Info:         make(map[string]string, len(ev.Info)),
		Stats:        make(map[string]float64, len(ev.Stats)),
		ErrorCode:    errorCode,
		ErrorMessage: truncate(errorMessage, MaxErrorMessageLength),
	}
	for k, v := range ev.Info {
		entry.Info[k] = truncate(v, MaxInfoValueLength)
	}
	for k, v := range ev.Stats {
		entry.Stats[k] = v
	}
	return entry
}

// truncate keeps at most limit characters of s.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
