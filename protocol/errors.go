package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrIncomplete is returned by the non-Try reader methods when the available bytes end before
	// the next element does. It is a suspension signal rather than a failure: nothing observable
	// has changed and the call may be retried once more bytes arrive.
	ErrIncomplete = errors.New("resp: incomplete element, need more data")

	// ErrProtocol wraps every malformed-input failure. A connection that produced one cannot be
	// trusted afterwards.
	ErrProtocol = errors.New("resp: protocol error")

	// ErrUnexpectedElement wraps every mismatch between the shape a caller demanded and the shape
	// of the data.
	ErrUnexpectedElement = errors.New("resp: unexpected element")

	// ErrCapacity is returned when a Writer backed by a fixed window runs out of space.
	ErrCapacity = errors.New("resp: write window exhausted")

	// ErrCommandUnavailable is returned by Writer.WriteCommand when the command map disables the
	// command on this connection.
	ErrCommandUnavailable = errors.New("resp: command unavailable")

	// ErrInvalidRequest wraps the reasons ValidateRequest rejects a frame.
	ErrInvalidRequest = errors.New("resp: invalid request frame")
)

// ServerError is a well formed simple or bulk error element.
type ServerError struct {
	Prefix  Prefix
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// Code returns the leading upper case word of the message, e.g. "ERR" or "WRONGTYPE".
func (e *ServerError) Code() string {
	for i := 0; i < len(e.Message); i++ {
		if e.Message[i] == ' ' {
			return e.Message[:i]
		}
	}

	return e.Message
}

func protocolErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrProtocol}, args...)...)
}

func unexpectedf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrUnexpectedElement}, args...)...)
}
