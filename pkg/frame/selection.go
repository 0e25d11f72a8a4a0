package frame

// Selection is a read-only view of the first N particles of a frame and the
// bonds between them. Slices alias the source frame and must not be mutated.
type Selection struct {
	// Count is the number of selected particles.
	Count int

	// Total is the particle count of the source frame.
	Total int

	Elements  []uint8
	Positions []Vec3
	Bonds     []Bond
}

// Truncated reports whether particles were dropped by the selection.
func (s Selection) Truncated() bool {
	return s.Count < s.Total
}

// Select restricts f to the particle index range [0, min(limit, count)).
// Bonds are kept only when both endpoints fall in that range; indices are
// unchanged because the range starts at zero. A limit <= 0 selects every
// particle. Absent fields stay nil.
func Select(f *Frame, limit int) Selection {
	total := f.ParticleCount()
	n := total
	if limit > 0 && limit < n {
		n = limit
	}

	sel := Selection{Count: n, Total: total}
	if f == nil {
		return sel
	}

	if f.Elements != nil {
		sel.Elements = f.Elements[:min(n, len(f.Elements))]
	}
	if f.Positions != nil {
		sel.Positions = f.Positions[:min(n, len(f.Positions))]
	}
	if f.Bonds != nil {
		sel.Bonds = keepBonds(f.Bonds, uint64(n))
	}
	return sel
}

// keepBonds returns the bonds of src whose endpoints are both < n.
func keepBonds(src []Bond, n uint64) []Bond {
	dst := make([]Bond, 0, len(src))
	for _, b := range src {
		if uint64(b[0]) < n && uint64(b[1]) < n {
			dst = append(dst, b)
		}
	}
	return dst
}
