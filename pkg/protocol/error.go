package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedMessage is returned for inbound messages that are not valid
	// JSON or do not match the expected schema.
	ErrMalformedMessage = errors.New("protocol: malformed message")

	// ErrUnknownMessage is returned for a message that is none of the
	// known variants.
	ErrUnknownMessage = errors.New("protocol: unknown message")
)

// Error is a protocol violation. It is never fatal to a session: the
// offending message is dropped.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// wrapMalformed tags a JSON error with ErrMalformedMessage.
func wrapMalformed(err error) error {
	if errors.Is(err, ErrMalformedMessage) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
}
