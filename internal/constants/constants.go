// Package constants provides shared constants used across the codebase.
package constants

import "time"

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for job event channels
	EventChannelBuffer = 100
)

// Request size constants
const (
	// MaxUploadSize is the maximum photo upload size in bytes (32MB)
	MaxUploadSize = 32 << 20

	// MaxJSONBodySize is the maximum size of a JSON request body in bytes
	MaxJSONBodySize = 1 << 20
)

// Server constants
const (
	// RequestTimeout bounds synchronous API calls, including single runs and
	// duplicate checks that wait on the vision provider
	RequestTimeout = 5 * time.Minute

	// ShutdownTimeout is how long in-flight requests get to finish
	ShutdownTimeout = 30 * time.Second
)
