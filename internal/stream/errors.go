package stream

import (
	"errors"
	"fmt"
)

// ErrStream is wrapped by every error reported through Handlers.OnError.
var ErrStream = errors.New("stream error")

// StreamError is an error event sent by the server.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return e.Message
}

func (e *StreamError) Unwrap() error { return ErrStream }

// TransportError is a connection-level failure before the stream ended.
type TransportError struct {
	RequestID string
	Status    int
	Err       error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("stream %s: unexpected status %d", e.RequestID, e.Status)
	}
	return fmt.Sprintf("stream %s: %v", e.RequestID, e.Err)
}

func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStream}
	}
	return []error{ErrStream, e.Err}
}
