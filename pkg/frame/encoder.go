package frame

import (
	"errors"
	"fmt"

	"github.com/molbridge/molbridge/pkg/codec"
	"github.com/molbridge/molbridge/pkg/protocol"
)

// EncoderConfig configures how frames are selected and encoded.
type EncoderConfig struct {
	// Limit is the maximum number of particles streamed per frame.
	// Zero means DefaultLimit; a negative value disables truncation.
	Limit int

	// Scale multiplies every position scalar before encoding.
	// Zero means DefaultScale.
	Scale float64

	// Formats of the encoded arrays. Zero values use the defaults:
	// uint8 elements, uint64 bonds, float32 positions and box.
	ElementFormat  codec.Format
	BondFormat     codec.Format
	PositionFormat codec.Format
	BoxFormat      codec.Format
}

// DefaultEncoderConfig returns the wire defaults.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Limit:          DefaultLimit,
		Scale:          DefaultScale,
		ElementFormat:  codec.Uint8,
		BondFormat:     codec.Uint64,
		PositionFormat: codec.Float32,
		BoxFormat:      codec.Float32,
	}
}

// Encoder turns frames into outbound protocol messages. It is safe for
// concurrent use.
type Encoder struct {
	config EncoderConfig
}

// NewEncoder returns an Encoder for config, filling unset fields with the
// defaults. It fails if a format is not recognized.
func NewEncoder(config EncoderConfig) (*Encoder, error) {
	defaults := DefaultEncoderConfig()
	if config.Limit == 0 {
		config.Limit = defaults.Limit
	}
	if config.Scale == 0 {
		config.Scale = defaults.Scale
	}
	if config.ElementFormat == 0 {
		config.ElementFormat = defaults.ElementFormat
	}
	if config.BondFormat == 0 {
		config.BondFormat = defaults.BondFormat
	}
	if config.PositionFormat == 0 {
		config.PositionFormat = defaults.PositionFormat
	}
	if config.BoxFormat == 0 {
		config.BoxFormat = defaults.BoxFormat
	}

	for name, f := range map[string]codec.Format{
		"element":  config.ElementFormat,
		"bond":     config.BondFormat,
		"position": config.PositionFormat,
		"box":      config.BoxFormat,
	} {
		if !f.Valid() {
			return nil, fmt.Errorf("frame: %s format: %w", name, codec.ErrInvalidFormat)
		}
	}

	return &Encoder{config: config}, nil
}

// Config returns the effective configuration.
func (e *Encoder) Config() EncoderConfig {
	return e.config
}

// Select applies the configured particle limit to f.
func (e *Encoder) Select(f *Frame) Selection {
	return Select(f, e.config.Limit)
}

// Topology encodes the elements and bonds of a selection. A field is left
// empty when the selection does not carry it.
func (e *Encoder) Topology(sel Selection) (protocol.Topology, error) {
	var topo protocol.Topology
	var errs []error

	if sel.Elements != nil {
		s, err := codec.Encode(e.config.ElementFormat, sel.Elements)
		if err != nil {
			errs = append(errs, fmt.Errorf("elements: %w", err))
		} else {
			topo.Elements = s
		}
	}
	if sel.Bonds != nil {
		s, err := codec.Encode(e.config.BondFormat, flattenBonds(sel.Bonds))
		if err != nil {
			errs = append(errs, fmt.Errorf("bonds: %w", err))
		} else {
			topo.Bonds = s
		}
	}

	return topo, errors.Join(errs...)
}

// Positions encodes the selection's positions, flattened particle-major
// and axis-minor, each scalar multiplied by the configured scale.
func (e *Encoder) Positions(sel Selection) (string, error) {
	flat := make([]float32, 0, len(sel.Positions)*3)
	for _, p := range sel.Positions {
		for _, c := range p {
			flat = append(flat, float32(float64(c)*e.config.Scale))
		}
	}
	s, err := codec.Encode(e.config.PositionFormat, flat)
	if err != nil {
		return "", fmt.Errorf("positions: %w", err)
	}
	return s, nil
}

// Box encodes the frame's box vectors. Box vectors are not scaled.
func (e *Encoder) Box(f *Frame) (string, error) {
	if !f.HasBox() {
		return "", nil
	}
	s, err := codec.Encode(e.config.BoxFormat, f.Box)
	if err != nil {
		return "", fmt.Errorf("box: %w", err)
	}
	return s, nil
}

// Geometry builds the one-off geometry message for f. Fields that fail to
// encode are omitted and reported in the returned error; the message is
// still usable.
func (e *Encoder) Geometry(f *Frame) (protocol.GeometryMessage, error) {
	sel := e.Select(f)
	topo, topoErr := e.Topology(sel)
	box, boxErr := e.Box(f)

	msg := protocol.GeometryMessage{Topology: topo, Box: box}
	return msg, errors.Join(topoErr, boxErr)
}

// PositionsMessage builds a positions message for f. It returns ok=false
// when f carries no positions.
func (e *Encoder) PositionsMessage(f *Frame) (msg protocol.PositionsMessage, ok bool, err error) {
	if !f.HasPositions() {
		return protocol.PositionsMessage{}, false, nil
	}
	s, err := e.Positions(e.Select(f))
	if err != nil {
		return protocol.PositionsMessage{}, false, err
	}
	return protocol.PositionsMessage{Positions: s}, true, nil
}

func flattenBonds(bonds []Bond) []uint64 {
	flat := make([]uint64, 0, len(bonds)*2)
	for _, b := range bonds {
		flat = append(flat, uint64(b[0]), uint64(b[1]))
	}
	return flat
}
