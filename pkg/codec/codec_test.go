package codec

import (
	"encoding/base64"
	"errors"
	"math"
	"testing"
)

func TestRoundTrip_Uint8(t *testing.T) {
	in := []uint8{0, 1, 6, 8, 127, 255}
	text, err := Encode(Uint8, in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode[uint8](Uint8, text)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], in[i])
		}
	}
}

func TestRoundTrip_Uint64(t *testing.T) {
	in := []uint64{0, 1, 1, 2, 7999, math.MaxUint32 + 1, math.MaxUint64}
	text, err := Encode(Uint64, in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode[uint64](Uint64, text)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], in[i])
		}
	}
}

func TestRoundTrip_Uint32(t *testing.T) {
	in := []uint32{0, 3, math.MaxUint32}
	text, err := Encode(Uint32, in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode[uint32](Uint32, text)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], in[i])
		}
	}
}

func TestRoundTrip_Float32BitExact(t *testing.T) {
	in := []float32{
		0,
		float32(math.Copysign(0, -1)),
		0.1,
		-123.456,
		math.MaxFloat32,
		math.SmallestNonzeroFloat32,
		float32(math.Inf(1)),
		float32(math.Inf(-1)),
		math.Float32frombits(0x7fc00001), // NaN with payload
	}
	text, err := Encode(Float32, in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode[float32](Float32, text)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for i := range in {
		if math.Float32bits(out[i]) != math.Float32bits(in[i]) {
			t.Fatalf("out[%d] bits = %#x, want %#x", i, math.Float32bits(out[i]), math.Float32bits(in[i]))
		}
	}
}

func TestEncode_Empty(t *testing.T) {
	text, err := Encode(Float32, []float32{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if text != "" {
		t.Fatalf("text = %q, want empty", text)
	}
	out, err := Decode[float32](Float32, text)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("len = %d, want 0", len(out))
	}
}

func TestEncode_LittleEndianLayout(t *testing.T) {
	text, err := Encode(Uint64, []uint64{1, 2})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	want := []byte{1, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0}
	if string(raw) != string(want) {
		t.Fatalf("raw = %v, want %v", raw, want)
	}
}

func TestEncode_ConvertsElementType(t *testing.T) {
	// Python's array('f', doubles) narrows to float32; so does Encode.
	text, err := Encode(Float32, []float64{0.1})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode[float32](Float32, text)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out[0] != float32(0.1) {
		t.Fatalf("out[0] = %v, want %v", out[0], float32(0.1))
	}
}

func TestEncode_InvalidFormat(t *testing.T) {
	_, err := Encode(Format('x'), []uint8{1})
	if !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("err = %v, want ErrInvalidFormat", err)
	}
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Op != "encode" {
		t.Fatalf("err = %#v, want *Error with Op encode", err)
	}
}

func TestDecode_InvalidFormat(t *testing.T) {
	_, err := Decode[uint8](Format(0), "AA==")
	if !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("err = %v, want ErrInvalidFormat", err)
	}
}

func TestDecode_LengthNotMultipleOfWidth(t *testing.T) {
	text := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	_, err := Decode[float32](Float32, text)
	if !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("err = %v, want ErrMalformedInput", err)
	}
}

func TestDecode_NotBase64(t *testing.T) {
	_, err := Decode[uint8](Uint8, "not base64!!")
	if !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("err = %v, want ErrMalformedInput", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"B", Uint8},
		{"uint8", Uint8},
		{"I", Uint32},
		{"uint32", Uint32},
		{"L", Uint64},
		{"uint64", Uint64},
		{"f", Float32},
		{"float32", Float32},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if err != nil {
			t.Fatalf("ParseFormat(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseFormat(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseFormat("complex128"); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("ParseFormat(complex128) err = %v, want ErrInvalidFormat", err)
	}
}
