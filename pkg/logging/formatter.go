package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TextFormatter formats log entries as human-readable text
type TextFormatter struct {
	// TimestampFormat is the format for timestamps
	TimestampFormat string
	// DisableColors disables terminal colors
	DisableColors bool
	// DisableTimestamp disables timestamp output
	DisableTimestamp bool
	// DisableSorting disables sorting of fields
	DisableSorting bool
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05.000",
	}
}

// Format formats a log entry as text
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer

	// Timestamp
	if !f.DisableTimestamp {
		timestamp := entry.Timestamp.Format(f.TimestampFormat)
		buf.WriteString(timestamp)
		buf.WriteByte(' ')
	}

	// Level with color
	levelText := fmt.Sprintf("[%s]", entry.Level.String())
	if !f.DisableColors {
		levelText = f.colorLevel(entry.Level, levelText)
	}
	buf.WriteString(levelText)
	buf.WriteByte(' ')

	if entry.TraceID != "" {
		buf.WriteString(fmt.Sprintf("[%s] ", shortTraceID(entry.TraceID)))
	}

	// component/ACTION prefix
	switch {
	case entry.Component != "" && entry.Action != "":
		buf.WriteString(entry.Component + "/" + entry.Action + ": ")
	case entry.Component != "":
		buf.WriteString(entry.Component + ": ")
	case entry.Action != "":
		buf.WriteString(entry.Action + ": ")
	}

	// Message
	buf.WriteString(entry.Message)

	// Fields
	if fields := f.formatFields(entry.Fields, entry); fields != "" {
		buf.WriteString(" | ")
		buf.WriteString(fields)
	}

	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// formatFields formats fields as key=value pairs
func (f *TextFormatter) formatFields(fields map[string]interface{}, entry *Entry) string {
	skip := map[string]bool{
		TraceIDKey:  true,
		"component": entry.Component != "",
		"action":    entry.Action != "",
	}

	var pairs []string
	for k, v := range fields {
		if skip[k] {
			continue
		}

		var valueStr string
		switch val := v.(type) {
		case error:
			valueStr = val.Error()
		case time.Duration:
			valueStr = val.String()
		case string:
			if strings.ContainsAny(val, " \t\n") {
				valueStr = fmt.Sprintf("%q", val)
			} else {
				valueStr = val
			}
		default:
			valueStr = fmt.Sprintf("%v", v)
		}

		pairs = append(pairs, fmt.Sprintf("%s=%s", k, valueStr))
	}

	if !f.DisableSorting {
		sort.Strings(pairs)
	}

	return strings.Join(pairs, " ")
}

// colorLevel returns the colored level string
func (f *TextFormatter) colorLevel(level Level, text string) string {
	const (
		red    = "\033[31m"
		yellow = "\033[33m"
		blue   = "\033[34m"
		gray   = "\033[90m"
		reset  = "\033[0m"
	)

	switch level {
	case DebugLevel:
		return gray + text + reset
	case InfoLevel:
		return blue + text + reset
	case WarnLevel:
		return yellow + text + reset
	case ErrorLevel, FatalLevel:
		return red + text + reset
	default:
		return text
	}
}

// shortTraceID keeps the first block of a UUID so text logs stay readable.
func shortTraceID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// JSONFormatter formats log entries as JSON
type JSONFormatter struct {
	// PrettyPrint enables pretty printing
	PrettyPrint bool
	// TimestampFormat is the format for timestamps
	TimestampFormat string
	// DisableTimestamp disables timestamp output
	DisableTimestamp bool
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	}
}

// Format formats a log entry as JSON
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	data := make(map[string]interface{})

	// Core fields
	data["level"] = entry.Level.String()
	data["message"] = entry.Message

	if !f.DisableTimestamp {
		data["timestamp"] = entry.Timestamp.Format(f.TimestampFormat)
	}

	// Add all fields
	for k, v := range entry.Fields {
		// Handle error objects specially
		if err, ok := v.(error); ok {
			data[k] = err.Error()
		} else {
			data[k] = v
		}
	}

	// Marshal to JSON
	var out []byte
	var err error

	if f.PrettyPrint {
		out, err = json.MarshalIndent(data, "", "  ")
	} else {
		out, err = json.Marshal(data)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to marshal log entry: %w", err)
	}

	// Add newline
	out = append(out, '\n')
	return out, nil
}
