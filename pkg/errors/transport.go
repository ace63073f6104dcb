package errors

import (
	"fmt"
	"net/url"
)

// TransportErrorData contains structured data for transport-related errors
type TransportErrorData struct {
	Transport string `json:"transport"`
	Operation string `json:"operation,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// RequestErrorData contains structured data for requests that cannot be sent
type RequestErrorData struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// TransportError creates a generic transport error
func TransportError(transport, operation string, cause error) StreamError {
	message := fmt.Sprintf("%s transport error", transport)
	if operation != "" {
		message = fmt.Sprintf("%s transport error during %s", transport, operation)
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
		message = fmt.Sprintf("%s: %s", message, reason)
	}

	return WrapError(
		cause,
		CodeTransportError,
		message,
		CategoryTransport,
		SeverityError,
	).WithData(&TransportErrorData{
		Transport: transport,
		Operation: operation,
		Reason:    reason,
	})
}

// InvalidRequest creates an error for a request descriptor that cannot be turned
// into an HTTP request, typically because of a malformed URL.
func InvalidRequest(method, rawURL string, cause error) StreamError {
	message := fmt.Sprintf("invalid request %s %s", method, rawURL)
	reason := ""
	if cause != nil {
		reason = cause.Error()
		message = fmt.Sprintf("%s: %s", message, reason)
	}

	endpoint := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		endpoint = u.Host
	}

	return WrapError(
		cause,
		CodeInvalidRequest,
		message,
		CategoryValidation,
		SeverityError,
	).WithData(&RequestErrorData{
		URL:    endpoint,
		Method: method,
		Reason: reason,
	})
}

// InvalidConfig creates an error for a configuration field that failed validation
func InvalidConfig(field, reason string) StreamError {
	return NewErrorf(CodeInvalidConfig, CategoryValidation, SeverityError,
		"invalid configuration: %s: %s", field, reason)
}
