package engine

import "errors"

var (
	// ErrNotReady is returned by Submit before the gateway session is ready
	// or after it has disconnected.
	ErrNotReady = errors.New("engine not ready")

	// ErrClosed is returned to waiters when the engine shuts down while
	// their operation is queued or running.
	ErrClosed = errors.New("engine closed")

	// ErrTimeout means the caller's wait budget elapsed. The operation
	// itself is not cancelled and may still complete inside the loop.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidInput rejects an operation before it reaches the platform.
	ErrInvalidInput = errors.New("invalid input")
)
