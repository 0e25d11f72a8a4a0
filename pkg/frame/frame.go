// Package frame models simulation frames and the selection and encoding
// applied to them before they are streamed to clients.
package frame

// DefaultLimit is the default number of particles streamed per frame.
const DefaultLimit = 8000

// DefaultScale converts simulation lengths (nm) to client units.
const DefaultScale = 0.1

// Vec3 is a particle position in simulation units.
type Vec3 [3]float32

// Bond is a pair of particle indices.
type Bond [2]uint32

// Frame is a snapshot of simulation state. A nil field is absent from the
// frame and must be checked before use.
type Frame struct {
	Elements  []uint8
	Positions []Vec3
	Bonds     []Bond
	Box       []float32
}

// HasPositions reports whether the frame carries particle positions.
func (f *Frame) HasPositions() bool { return f != nil && f.Positions != nil }

// HasElements reports whether the frame carries particle elements.
func (f *Frame) HasElements() bool { return f != nil && f.Elements != nil }

// HasBonds reports whether the frame carries a bond list.
func (f *Frame) HasBonds() bool { return f != nil && f.Bonds != nil }

// HasBox reports whether the frame carries box vectors.
func (f *Frame) HasBox() bool { return f != nil && f.Box != nil }

// ParticleCount returns the number of particles in the frame, taken from the
// positions when present and from the elements otherwise.
func (f *Frame) ParticleCount() int {
	switch {
	case f == nil:
		return 0
	case f.Positions != nil:
		return len(f.Positions)
	default:
		return len(f.Elements)
	}
}

// Clone returns a deep copy of the frame. Absent fields stay absent.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	c := &Frame{}
	if f.Elements != nil {
		c.Elements = append([]uint8{}, f.Elements...)
	}
	if f.Positions != nil {
		c.Positions = append([]Vec3{}, f.Positions...)
	}
	if f.Bonds != nil {
		c.Bonds = append([]Bond{}, f.Bonds...)
	}
	if f.Box != nil {
		c.Box = append([]float32{}, f.Box...)
	}
	return c
}
