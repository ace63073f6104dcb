package errors

import "strings"

// Error codes carried in the controller's error state and in log entries.
const (
	// CodeNetworkFailure marks a transport-level failure without a structured payload
	CodeNetworkFailure = "NETWORK_FAILURE"

	// CodeAPIValidationError marks an HTTP 400 validation rejection reported by the server
	CodeAPIValidationError = "API_VALIDATION_ERROR"

	// CodeAPIErrorPrefix prefixes the HTTP status of any other server-reported error
	CodeAPIErrorPrefix = "API_ERROR_"

	// CodeRuntimeError marks an unexpected failure inside the client
	CodeRuntimeError = "RUNTIME_ERROR"

	// CodeCancelled marks a caller-initiated abort
	CodeCancelled = "CANCELLED"

	// CodeInvalidRequest marks a request descriptor that cannot be sent
	CodeInvalidRequest = "INVALID_REQUEST"

	// CodeInvalidConfig marks a configuration that failed validation
	CodeInvalidConfig = "INVALID_CONFIG"

	// CodeTransportError marks a transport setup failure
	CodeTransportError = "TRANSPORT_ERROR"

	// CodeUnknownMessageType marks an inbound message outside the accepted set
	CodeUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
)

// ServerValidationCode is the error_code a server sends for rejected input.
const ServerValidationCode = "VALIDATION_ERROR"

// ErrorCodeInfo provides human-readable information about error codes
type ErrorCodeInfo struct {
	Code        string
	Description string
	Category    Category
	Severity    Severity
}

var errorCodeRegistry = map[string]ErrorCodeInfo{
	CodeNetworkFailure:     {CodeNetworkFailure, "Failed to reach the server", CategoryTransport, SeverityWarning},
	CodeAPIValidationError: {CodeAPIValidationError, "Server rejected the request input", CategoryAPI, SeverityError},
	CodeRuntimeError:       {CodeRuntimeError, "Unexpected client failure", CategoryRuntime, SeverityError},
	CodeCancelled:          {CodeCancelled, "Operation cancelled by caller", CategoryCancelled, SeverityInfo},
	CodeInvalidRequest:     {CodeInvalidRequest, "Request cannot be sent", CategoryValidation, SeverityError},
	CodeInvalidConfig:      {CodeInvalidConfig, "Invalid configuration", CategoryValidation, SeverityError},
	CodeTransportError:     {CodeTransportError, "Transport error", CategoryTransport, SeverityError},
	CodeUnknownMessageType: {CodeUnknownMessageType, "Message type outside the accepted set", CategoryProtocol, SeverityWarning},
}

// GetErrorCodeInfo returns information about an error code. Codes carrying the
// API error prefix resolve to a synthesized API entry.
func GetErrorCodeInfo(code string) (ErrorCodeInfo, bool) {
	if info, exists := errorCodeRegistry[code]; exists {
		return info, true
	}
	if strings.HasPrefix(code, CodeAPIErrorPrefix) {
		return ErrorCodeInfo{code, "Server reported an error", CategoryAPI, SeverityWarning}, true
	}
	return ErrorCodeInfo{}, false
}

// GetErrorCodeCategory returns the category of an error code
func GetErrorCodeCategory(code string) Category {
	if info, exists := GetErrorCodeInfo(code); exists {
		return info.Category
	}
	return CategoryInternal
}

// GetErrorCodeSeverity returns the severity of an error code
func GetErrorCodeSeverity(code string) Severity {
	if info, exists := GetErrorCodeInfo(code); exists {
		return info.Severity
	}
	return SeverityError
}

// ListErrorCodes returns all registered error codes
func ListErrorCodes() []ErrorCodeInfo {
	codes := make([]ErrorCodeInfo, 0, len(errorCodeRegistry))
	for _, info := range errorCodeRegistry {
		codes = append(codes, info)
	}
	return codes
}
