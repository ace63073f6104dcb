// Package errors provides structured error handling for the stream controller.
// It defines the exception taxonomy surfaced through the controller's error state
// and a generic structured error used by configuration and transport setup.
package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// Category represents the type/category of an error for classification and handling
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryTransport  Category = "transport"
	CategoryAPI        Category = "api"
	CategoryRuntime    Category = "runtime"
	CategoryInternal   Category = "internal"
	CategoryCancelled  Category = "cancelled"
	CategoryProtocol   Category = "protocol"
)

// Severity indicates how critical an error is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Context provides additional context about where and when an error occurred
type Context struct {
	TraceID   string    `json:"trace_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Method    string    `json:"method,omitempty"`
	Transport string    `json:"transport,omitempty"`
	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamError defines the interface for structured errors raised by this module
type StreamError interface {
	error

	// Code returns the machine-readable error code
	Code() string

	// Message returns a human-readable error message
	Message() string

	// Details returns detailed technical description for debugging
	Details() string

	// Data returns structured error data for programmatic handling
	Data() interface{}

	// Category returns the error category for classification
	Category() Category

	// Severity returns the error severity level
	Severity() Severity

	// Context returns the error context information
	Context() *Context

	// WithContext returns a new error with the provided context
	WithContext(ctx *Context) StreamError

	// WithDetail returns a new error with additional detail
	WithDetail(detail string) StreamError

	// WithData returns a new error with structured data
	WithData(data interface{}) StreamError

	// Unwrap returns the underlying error for error chain traversal
	Unwrap() error

	// ToJSON returns the error as a JSON-serializable map
	ToJSON() map[string]interface{}
}

type baseError struct {
	code     string
	message  string
	details  string
	data     interface{}
	category Category
	severity Severity
	context  *Context
	cause    error
}

func (e *baseError) Error() string {
	if e.details != "" {
		return fmt.Sprintf("%s: %s", e.message, e.details)
	}
	return e.message
}

func (e *baseError) Code() string {
	return e.code
}

func (e *baseError) Message() string {
	return e.message
}

func (e *baseError) Details() string {
	return e.details
}

func (e *baseError) Data() interface{} {
	return e.data
}

func (e *baseError) Category() Category {
	return e.category
}

func (e *baseError) Severity() Severity {
	return e.severity
}

func (e *baseError) Context() *Context {
	return e.context
}

func (e *baseError) WithContext(ctx *Context) StreamError {
	newErr := *e
	newErr.context = ctx
	return &newErr
}

func (e *baseError) WithDetail(detail string) StreamError {
	newErr := *e
	if newErr.details != "" {
		newErr.details = fmt.Sprintf("%s; %s", newErr.details, detail)
	} else {
		newErr.details = detail
	}
	return &newErr
}

func (e *baseError) WithData(data interface{}) StreamError {
	newErr := *e
	newErr.data = data
	return &newErr
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) ToJSON() map[string]interface{} {
	result := map[string]interface{}{
		"code":     e.code,
		"message":  e.message,
		"category": string(e.category),
		"severity": string(e.severity),
	}

	if e.details != "" {
		result["details"] = e.details
	}

	if e.data != nil {
		result["data"] = e.data
	}

	if e.context != nil {
		result["context"] = e.context
	}

	if e.cause != nil {
		result["cause"] = e.cause.Error()
	}

	return result
}

// MarshalJSON implements json.Marshaler for baseError
func (e *baseError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToJSON())
}

// NewError creates a new StreamError with the specified parameters
func NewError(code, message string, category Category, severity Severity) StreamError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		severity: severity,
		context: &Context{
			Timestamp: time.Now(),
		},
	}
}

// NewErrorf creates a new StreamError with formatted message
func NewErrorf(code string, category Category, severity Severity, format string, args ...interface{}) StreamError {
	return NewError(code, fmt.Sprintf(format, args...), category, severity)
}

// WrapError wraps an existing error as a StreamError
func WrapError(err error, code, message string, category Category, severity Severity) StreamError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		severity: severity,
		cause:    err,
		context: &Context{
			Timestamp: time.Now(),
		},
	}
}

// AsStreamError extracts a StreamError from err if it is one
func AsStreamError(err error) (StreamError, bool) {
	if err == nil {
		return nil, false
	}

	if streamErr, ok := err.(StreamError); ok {
		return streamErr, true
	}

	return nil, false
}

// IsCategory checks if an error is of a specific category. Both StreamError
// values and classified exceptions are recognized.
func IsCategory(err error, category Category) bool {
	if streamErr, ok := AsStreamError(err); ok {
		return streamErr.Category() == category
	}
	if exc, ok := AsException(err); ok {
		return exc.Category() == category
	}
	return false
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code string) bool {
	if streamErr, ok := AsStreamError(err); ok {
		return streamErr.Code() == code
	}
	if exc, ok := AsException(err); ok {
		return exc.Code() == code
	}
	return false
}
