package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
)

// Exception is a classified failure. Every failure the controller surfaces
// through its error state and error callback is one of the types below.
type Exception interface {
	error

	// Code is the value stored in the controller's error state
	Code() string
	Category() Category
	Severity() Severity
}

// APIException is a failure reported by the server with a structured payload
// carrying an error_code.
type APIException struct {
	Message    string
	StatusCode int
	RequestURL string
	// RawBody is the undecoded error payload as received.
	RawBody   []byte
	ErrorID   string
	ErrorCode string
}

func (e *APIException) Error() string {
	return e.Message
}

func (e *APIException) Code() string {
	return e.ErrorCode
}

func (e *APIException) Category() Category {
	return CategoryAPI
}

// Severity is error for input validation rejections and warning otherwise.
func (e *APIException) Severity() Severity {
	if e.IsValidation() {
		return SeverityError
	}
	return SeverityWarning
}

// IsValidation reports whether the server rejected the request input
// (HTTP 400 with the VALIDATION_ERROR code).
func (e *APIException) IsValidation() bool {
	return e.StatusCode == 400 && e.ErrorCode == ServerValidationCode
}

// LogCode is the code used when the exception is written to the log sink.
func (e *APIException) LogCode() string {
	if e.IsValidation() {
		return CodeAPIValidationError
	}
	return CodeAPIErrorPrefix + strconv.Itoa(e.StatusCode)
}

// NetworkConnectionException is a transport-level failure that carried no
// structured error payload.
type NetworkConnectionException struct {
	Message              string
	RequestURL           string
	OriginalErrorMessage string
	Cause                error
}

// NewNetworkConnectionException builds the exception for a failed connection to url.
func NewNetworkConnectionException(url, original string, cause error) *NetworkConnectionException {
	if original == "" {
		original = "UNKNOWN"
	}
	return &NetworkConnectionException{
		Message:              fmt.Sprintf("Failed to connect: %s", url),
		RequestURL:           url,
		OriginalErrorMessage: original,
		Cause:                cause,
	}
}

func (e *NetworkConnectionException) Error() string {
	return e.Message
}

func (e *NetworkConnectionException) Unwrap() error {
	return e.Cause
}

func (e *NetworkConnectionException) Code() string {
	return CodeNetworkFailure
}

func (e *NetworkConnectionException) Category() Category {
	return CategoryTransport
}

func (e *NetworkConnectionException) Severity() Severity {
	return SeverityWarning
}

// RuntimeException wraps an unexpected failure inside the client, such as a
// success body that cannot be decoded.
type RuntimeException struct {
	Message string
	Cause   error
}

// NewRuntimeException wraps err. A nil err yields a generic message.
func NewRuntimeException(err error) *RuntimeException {
	if err == nil {
		return &RuntimeException{Message: "runtime error"}
	}
	return &RuntimeException{Message: err.Error(), Cause: err}
}

func (e *RuntimeException) Error() string {
	return e.Message
}

func (e *RuntimeException) Unwrap() error {
	return e.Cause
}

func (e *RuntimeException) Code() string {
	return CodeRuntimeError
}

func (e *RuntimeException) Category() Category {
	return CategoryRuntime
}

func (e *RuntimeException) Severity() Severity {
	return SeverityError
}

// CancellationError marks a caller-initiated abort. It is never surfaced.
type CancellationError struct {
	Cause error
}

func (e *CancellationError) Error() string {
	if e.Cause != nil {
		return "cancelled: " + e.Cause.Error()
	}
	return "cancelled"
}

func (e *CancellationError) Unwrap() error {
	return e.Cause
}

func (e *CancellationError) Code() string {
	return CodeCancelled
}

func (e *CancellationError) Category() Category {
	return CategoryCancelled
}

func (e *CancellationError) Severity() Severity {
	return SeverityInfo
}

// IsCancellation reports whether err stems from a caller-initiated abort.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	var ce *CancellationError
	return stderrors.As(err, &ce) || stderrors.Is(err, context.Canceled)
}

// AsException extracts a classified exception from err's chain.
func AsException(err error) (Exception, bool) {
	if err == nil {
		return nil, false
	}
	var exc Exception
	if stderrors.As(err, &exc) {
		return exc, true
	}
	return nil, false
}
