package protocol

import (
	"errors"
	"fmt"
)

// ValidateRequest checks that frame holds exactly one command: a non-null, non-streaming array
// of non-null, non-streaming bulk strings whose first element, the command name, is not empty.
func ValidateRequest(frame []byte) error {
	if len(frame) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidRequest)
	}

	r := NewReader(frame)
	if err := r.ReadNextRaw(); err != nil {
		return invalidRequest(err)
	}

	switch {
	case r.prefix != PrefixArray:
		return fmt.Errorf("%w: expected an array, got %s", ErrInvalidRequest, r.prefix)
	case r.IsNull():
		return fmt.Errorf("%w: null array", ErrInvalidRequest)
	case r.IsStreaming():
		return fmt.Errorf("%w: streaming array", ErrInvalidRequest)
	case r.length == 0:
		return fmt.Errorf("%w: no command name", ErrInvalidRequest)
	}

	for i, n := 0, r.length; i < n; i++ {
		if err := r.ReadNextRaw(); err != nil {
			return invalidRequest(err)
		}

		switch {
		case r.prefix != PrefixBulkString:
			return fmt.Errorf("%w: argument %d is a %s", ErrInvalidRequest, i, r.prefix)
		case r.IsNull():
			return fmt.Errorf("%w: argument %d is null", ErrInvalidRequest, i)
		case r.IsStreaming():
			return fmt.Errorf("%w: argument %d is streaming", ErrInvalidRequest, i)
		case i == 0 && r.length == 0:
			return fmt.Errorf("%w: empty command name", ErrInvalidRequest)
		}
	}

	if err := r.DemandEnd(); err != nil {
		return invalidRequest(err)
	}

	return nil
}

func invalidRequest(err error) error {
	if errors.Is(err, ErrIncomplete) {
		return fmt.Errorf("%w: truncated frame", ErrInvalidRequest)
	}

	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}
