package term

import "errors"

var (
	// ErrNotFound is returned when a session id is not present in the table.
	ErrNotFound = errors.New("session not found")

	// ErrDisconnected is returned by ReadOutput once the reader loop has
	// terminated and the output channel is fully drained.
	ErrDisconnected = errors.New("session output disconnected")

	// ErrClosed is returned for writes and resizes on a closed session.
	ErrClosed = errors.New("session closed")
)
