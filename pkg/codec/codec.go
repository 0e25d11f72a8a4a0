package codec

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Format identifies the element type of an encoded array. The values are the
// type codes used by the browser client and by trajectory files.
type Format byte

const (
	// Uint8 is one unsigned byte per element (particle elements).
	Uint8 Format = 'B'

	// Uint32 is a four-byte unsigned integer per element.
	Uint32 Format = 'I'

	// Uint64 is an eight-byte unsigned integer per element (bond indices).
	Uint64 Format = 'L'

	// Float32 is an IEEE-754 single precision float per element.
	Float32 Format = 'f'
)

// Number is the set of Go types that can be packed into an encoded array.
type Number interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint |
		~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~float32 | ~float64
}

// ParseFormat parses a format from its type code ("B", "I", "L", "f") or its
// name ("uint8", "uint32", "uint64", "float32").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "b", "uint8", "u8":
		return Uint8, nil
	case "i", "uint32", "u32":
		return Uint32, nil
	case "l", "uint64", "u64":
		return Uint64, nil
	case "f", "float32", "f32":
		return Float32, nil
	}
	return 0, &Error{Op: "parse", Err: fmt.Errorf("%w: %q", ErrInvalidFormat, s)}
}

// Width returns the size in bytes of one element.
func (f Format) Width() (int, error) {
	switch f {
	case Uint8:
		return 1, nil
	case Uint32:
		return 4, nil
	case Uint64:
		return 8, nil
	case Float32:
		return 4, nil
	}
	return 0, ErrInvalidFormat
}

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	_, err := f.Width()
	return err == nil
}

// String returns the name of the format.
func (f Format) String() string {
	switch f {
	case Uint8:
		return "uint8"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	}
	return fmt.Sprintf("Format(%d)", byte(f))
}

// Pack returns the raw little-endian byte layout of values in format f.
// Each value is converted to the format's element type first.
func Pack[T Number](f Format, values []T) ([]byte, error) {
	width, err := f.Width()
	if err != nil {
		return nil, &Error{Op: "encode", Format: f, Err: err}
	}

	buf := make([]byte, len(values)*width)
	switch f {
	case Uint8:
		for i, v := range values {
			buf[i] = uint8(v)
		}
	case Uint32:
		for i, v := range values {
			binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
		}
	case Uint64:
		for i, v := range values {
			binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
		}
	case Float32:
		for i, v := range values {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
		}
	}
	return buf, nil
}

// Unpack is the inverse of Pack.
func Unpack[T Number](f Format, data []byte) ([]T, error) {
	width, err := f.Width()
	if err != nil {
		return nil, &Error{Op: "decode", Format: f, Err: err}
	}
	if len(data)%width != 0 {
		return nil, &Error{
			Op:     "decode",
			Format: f,
			Err:    fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedInput, len(data), width),
		}
	}

	n := len(data) / width
	out := make([]T, n)
	switch f {
	case Uint8:
		for i := range out {
			out[i] = T(data[i])
		}
	case Uint32:
		for i := range out {
			out[i] = T(binary.LittleEndian.Uint32(data[i*4:]))
		}
	case Uint64:
		for i := range out {
			out[i] = T(binary.LittleEndian.Uint64(data[i*8:]))
		}
	case Float32:
		for i := range out {
			out[i] = T(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		}
	}
	return out, nil
}

// Encode packs values in format f and returns the standard base64 text.
func Encode[T Number](f Format, values []T) (string, error) {
	buf, err := Pack(f, values)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decode parses base64 text produced by Encode with the same format.
func Decode[T Number](f Format, text string) ([]T, error) {
	if !f.Valid() {
		return nil, &Error{Op: "decode", Format: f, Err: ErrInvalidFormat}
	}
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, &Error{Op: "decode", Format: f, Err: fmt.Errorf("%w: %v", ErrMalformedInput, err)}
	}
	return Unpack[T](f, data)
}
