package playback

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/molbridge/molbridge/pkg/codec"
	"github.com/molbridge/molbridge/pkg/frame"
)

// ErrInvalidTrajectory is returned for trajectory files that cannot be
// replayed.
var ErrInvalidTrajectory = errors.New("playback: invalid trajectory")

// Trajectory is a fixed topology plus a sequence of position frames.
type Trajectory struct {
	Elements []uint8
	Bonds    []frame.Bond
	Box      []float32
	Frames   [][]frame.Vec3
}

// Len returns the number of position frames.
func (t *Trajectory) Len() int {
	return len(t.Frames)
}

// Frame returns frame i sharing the trajectory's topology slices.
func (t *Trajectory) Frame(i int) *frame.Frame {
	return &frame.Frame{
		Elements:  t.Elements,
		Positions: t.Frames[i],
		Bonds:     t.Bonds,
		Box:       t.Box,
	}
}

// Validate checks that the trajectory has frames of a consistent size and
// that every bond references an existing particle.
func (t *Trajectory) Validate() error {
	if len(t.Frames) == 0 {
		return fmt.Errorf("%w: no frames", ErrInvalidTrajectory)
	}
	n := len(t.Frames[0])
	for i, f := range t.Frames {
		if len(f) != n {
			return fmt.Errorf("%w: frame %d has %d particles, frame 0 has %d", ErrInvalidTrajectory, i, len(f), n)
		}
	}
	if t.Elements != nil && len(t.Elements) != n {
		return fmt.Errorf("%w: %d elements for %d particles", ErrInvalidTrajectory, len(t.Elements), n)
	}
	for i, b := range t.Bonds {
		if int(b[0]) >= n || int(b[1]) >= n {
			return fmt.Errorf("%w: bond %d (%d-%d) out of range", ErrInvalidTrajectory, i, b[0], b[1])
		}
	}
	return nil
}

// trajectoryFile accepts both the expanded form (number arrays) and the
// compact form (base64 strings) field by field.
type trajectoryFile struct {
	Topology struct {
		Elements json.RawMessage `json:"elements"`
		Bonds    json.RawMessage `json:"bonds"`
	} `json:"topology"`
	Positions []json.RawMessage `json:"positions"`
	Box       json.RawMessage   `json:"box"`
}

// LoadTrajectory reads a trajectory JSON file.
func LoadTrajectory(path string) (*Trajectory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("playback: open trajectory: %w", err)
	}
	defer f.Close()

	t, err := ReadTrajectory(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ReadTrajectory decodes a trajectory from r. Array fields may be plain
// JSON arrays or base64 strings of packed little-endian data: elements as
// uint8, bonds as uint32 pairs, positions and box as float32.
func ReadTrajectory(r io.Reader) (*Trajectory, error) {
	var file trajectoryFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrajectory, err)
	}

	t := &Trajectory{}
	var err error
	if t.Elements, err = decodeElements(file.Topology.Elements); err != nil {
		return nil, fmt.Errorf("%w: elements: %v", ErrInvalidTrajectory, err)
	}
	if t.Bonds, err = decodeBonds(file.Topology.Bonds); err != nil {
		return nil, fmt.Errorf("%w: bonds: %v", ErrInvalidTrajectory, err)
	}
	if t.Box, err = decodeFloats(file.Box); err != nil {
		return nil, fmt.Errorf("%w: box: %v", ErrInvalidTrajectory, err)
	}

	t.Frames = make([][]frame.Vec3, 0, len(file.Positions))
	for i, raw := range file.Positions {
		flat, err := decodeFloats(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: positions[%d]: %v", ErrInvalidTrajectory, i, err)
		}
		if len(flat)%3 != 0 {
			return nil, fmt.Errorf("%w: positions[%d]: %d scalars is not a multiple of 3", ErrInvalidTrajectory, i, len(flat))
		}
		vecs := make([]frame.Vec3, len(flat)/3)
		for j := range vecs {
			vecs[j] = frame.Vec3{flat[3*j], flat[3*j+1], flat[3*j+2]}
		}
		t.Frames = append(t.Frames, vecs)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func absent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func isString(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '"'
}

func decodeBase64[T codec.Number](f codec.Format, raw json.RawMessage) ([]T, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return codec.Decode[T](f, s)
}

func decodeElements(raw json.RawMessage) ([]uint8, error) {
	switch {
	case absent(raw):
		return nil, nil
	case isString(raw):
		return decodeBase64[uint8](codec.Uint8, raw)
	}
	var nums []uint16
	if err := json.Unmarshal(raw, &nums); err != nil {
		return nil, err
	}
	out := make([]uint8, len(nums))
	for i, z := range nums {
		if z > 255 {
			return nil, fmt.Errorf("element %d: atomic number %d out of range", i, z)
		}
		out[i] = uint8(z)
	}
	return out, nil
}

func decodeBonds(raw json.RawMessage) ([]frame.Bond, error) {
	if absent(raw) {
		return nil, nil
	}

	var flat []uint32
	if isString(raw) {
		var err error
		if flat, err = decodeBase64[uint32](codec.Uint32, raw); err != nil {
			return nil, err
		}
	} else {
		var pairs [][]uint32
		if err := json.Unmarshal(raw, &pairs); err != nil {
			// Also accept an already flattened pair list.
			if err2 := json.Unmarshal(raw, &flat); err2 != nil {
				return nil, err
			}
		} else {
			flat = make([]uint32, 0, 2*len(pairs))
			for i, p := range pairs {
				if len(p) != 2 {
					return nil, fmt.Errorf("bond %d has %d indices", i, len(p))
				}
				flat = append(flat, p[0], p[1])
			}
		}
	}

	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("odd number of bond indices (%d)", len(flat))
	}
	bonds := make([]frame.Bond, len(flat)/2)
	for i := range bonds {
		bonds[i] = frame.Bond{flat[2*i], flat[2*i+1]}
	}
	return bonds, nil
}

// decodeFloats reads a base64 float32 string, a flat number array or a
// nested array of rows.
func decodeFloats(raw json.RawMessage) ([]float32, error) {
	switch {
	case absent(raw):
		return nil, nil
	case isString(raw):
		return decodeBase64[float32](codec.Float32, raw)
	}

	var flat []float32
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}
	var rows [][]float32
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	flat = make([]float32, 0, 3*len(rows))
	for _, row := range rows {
		flat = append(flat, row...)
	}
	return flat, nil
}
