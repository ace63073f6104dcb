// Package aistream provides a Go client for AI APIs that answer over Server-Sent Events or plain JSON
package aistream

import (
	"github.com/chancetop/aistream-go/pkg/client"
	"github.com/chancetop/aistream-go/pkg/protocol"
	"github.com/chancetop/aistream-go/pkg/state"
)

// Version represents the current version of the SDK
const Version = "1.0.0"

// These exports provide direct access to the core SDK components
var (
	// New creates a stream controller for a base URL
	New = client.New

	// NewFromConfig creates a stream controller from a client.Config
	NewFromConfig = client.NewFromConfig

	// DefaultConfig returns the controller defaults
	DefaultConfig = client.DefaultConfig

	// Bool returns a pointer for RequestOptions.Streaming
	Bool = protocol.Bool
)

// Core types
type (
	Controller     = client.Controller
	Option         = client.Option
	RequestOptions = protocol.RequestOptions
	DataMessage    = protocol.DataMessage
	Snapshot       = state.Snapshot
	Update         = state.Update
	Status         = state.Status
)

// Connection statuses
const (
	StatusIdle       = state.StatusIdle
	StatusConnecting = state.StatusConnecting
	StatusOpen       = state.StatusOpen
	StatusClosed     = state.StatusClosed
	StatusError      = state.StatusError
)

// Controller options
var (
	WithHeaders            = client.WithHeaders
	WithOnOpen             = client.WithOnOpen
	WithOnMessage          = client.WithOnMessage
	WithOnError            = client.WithOnError
	WithOnDisconnect       = client.WithOnDisconnect
	WithLoggerURL          = client.WithLoggerURL
	WithRetryAttempts      = client.WithRetryAttempts
	WithAcceptMessageTypes = client.WithAcceptMessageTypes
	WithStrictMessageTypes = client.WithStrictMessageTypes
	WithReconnect          = client.WithReconnect
	WithHTTPClient         = client.WithHTTPClient
	WithLogger             = client.WithLogger
	WithMetrics            = client.WithMetrics
	WithTracing            = client.WithTracing
)
