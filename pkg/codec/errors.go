package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFormat is returned for an unrecognized array format.
	ErrInvalidFormat = errors.New("codec: invalid format")

	// ErrMalformedInput is returned when encoded text cannot be decoded into
	// whole elements of the declared format.
	ErrMalformedInput = errors.New("codec: malformed input")
)

// Error describes a failed encode or decode.
type Error struct {
	Op     string // "encode", "decode" or "parse"
	Format Format
	Err    error
}

func (e *Error) Error() string {
	if e.Format == 0 {
		return fmt.Sprintf("codec: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("codec: %s %s: %v", e.Op, e.Format, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}
