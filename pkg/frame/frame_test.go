package frame

import (
	"errors"
	"reflect"
	"testing"

	"github.com/molbridge/molbridge/pkg/codec"
)

func waterFrame() *Frame {
	return &Frame{
		Elements:  []uint8{1, 6, 8},
		Positions: []Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Bonds:     []Bond{{0, 1}, {1, 2}},
		Box:       []float32{2, 0, 0, 0, 2, 0, 0, 0, 2},
	}
}

// chainFrame returns n particles bonded in a chain 0-1, 1-2, ...
func chainFrame(n int) *Frame {
	f := &Frame{
		Elements:  make([]uint8, n),
		Positions: make([]Vec3, n),
		Bonds:     make([]Bond, 0, n),
	}
	for i := 0; i < n; i++ {
		f.Elements[i] = uint8(i % 118)
		f.Positions[i] = Vec3{float32(i), float32(2 * i), float32(3 * i)}
		if i > 0 {
			f.Bonds = append(f.Bonds, Bond{uint32(i - 1), uint32(i)})
		}
	}
	// A long-range bond crossing the limit boundary in both orders.
	f.Bonds = append(f.Bonds, Bond{0, uint32(n - 1)}, Bond{uint32(n - 1), 0})
	return f
}

func mustEncoder(t *testing.T, cfg EncoderConfig) *Encoder {
	t.Helper()
	enc, err := NewEncoder(cfg)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	return enc
}

func TestSelect_BelowLimitIsWholeFrame(t *testing.T) {
	f := waterFrame()
	sel := Select(f, DefaultLimit)
	if sel.Count != 3 || sel.Total != 3 || sel.Truncated() {
		t.Fatalf("sel = %+v, want whole frame", sel)
	}
	if !reflect.DeepEqual(sel.Elements, f.Elements) {
		t.Fatalf("Elements = %v, want %v", sel.Elements, f.Elements)
	}
	if !reflect.DeepEqual(sel.Positions, f.Positions) {
		t.Fatalf("Positions = %v, want %v", sel.Positions, f.Positions)
	}
	if !reflect.DeepEqual(sel.Bonds, f.Bonds) {
		t.Fatalf("Bonds = %v, want %v", sel.Bonds, f.Bonds)
	}
}

func TestSelect_AboveLimitTruncates(t *testing.T) {
	const n, limit = 9000, DefaultLimit
	sel := Select(chainFrame(n), limit)
	if sel.Count != limit || sel.Total != n || !sel.Truncated() {
		t.Fatalf("Count=%d Total=%d, want %d/%d", sel.Count, sel.Total, limit, n)
	}
	if len(sel.Elements) != limit || len(sel.Positions) != limit {
		t.Fatalf("len(Elements)=%d len(Positions)=%d, want %d", len(sel.Elements), len(sel.Positions), limit)
	}
	// Chain bonds 0-1 .. 7998-7999 survive; 7999-8000 and the long-range bonds do not.
	if len(sel.Bonds) != limit-1 {
		t.Fatalf("len(Bonds) = %d, want %d", len(sel.Bonds), limit-1)
	}
	for _, b := range sel.Bonds {
		if b[0] >= limit || b[1] >= limit {
			t.Fatalf("bond %v crosses limit %d", b, limit)
		}
	}
}

func TestSelect_ExactlyLimit(t *testing.T) {
	sel := Select(chainFrame(10), 10)
	if sel.Count != 10 || sel.Truncated() {
		t.Fatalf("sel = %+v", sel)
	}
	if len(sel.Bonds) != 9+2 {
		t.Fatalf("len(Bonds) = %d, want 11", len(sel.Bonds))
	}
}

func TestSelect_NonPositiveLimitSelectsAll(t *testing.T) {
	sel := Select(chainFrame(50), -1)
	if sel.Count != 50 {
		t.Fatalf("Count = %d, want 50", sel.Count)
	}
}

func TestSelect_MissingFields(t *testing.T) {
	sel := Select(&Frame{Elements: []uint8{1, 2, 3}}, 2)
	if sel.Count != 2 || len(sel.Elements) != 2 {
		t.Fatalf("sel = %+v, want 2 elements", sel)
	}
	if sel.Positions != nil || sel.Bonds != nil {
		t.Fatalf("absent fields should stay nil: %+v", sel)
	}

	empty := Select(&Frame{}, DefaultLimit)
	if empty.Count != 0 || empty.Elements != nil || empty.Positions != nil {
		t.Fatalf("empty = %+v", empty)
	}

	none := Select(nil, DefaultLimit)
	if none.Count != 0 {
		t.Fatalf("nil frame Count = %d", none.Count)
	}
}

func TestSelect_ShorterElementsThanPositions(t *testing.T) {
	f := &Frame{
		Elements:  []uint8{1},
		Positions: []Vec3{{}, {}, {}},
	}
	sel := Select(f, 2)
	if sel.Count != 2 || len(sel.Elements) != 1 || len(sel.Positions) != 2 {
		t.Fatalf("sel = %+v", sel)
	}
}

func TestEncoder_WaterScenario(t *testing.T) {
	enc := mustEncoder(t, EncoderConfig{})
	f := waterFrame()

	geo, err := enc.Geometry(f)
	if err != nil {
		t.Fatalf("Geometry: %v", err)
	}
	elements, err := codec.Decode[uint8](codec.Uint8, geo.Topology.Elements)
	if err != nil {
		t.Fatalf("decode elements: %v", err)
	}
	if !reflect.DeepEqual(elements, []uint8{1, 6, 8}) {
		t.Fatalf("elements = %v, want [1 6 8]", elements)
	}
	bonds, err := codec.Decode[uint64](codec.Uint64, geo.Topology.Bonds)
	if err != nil {
		t.Fatalf("decode bonds: %v", err)
	}
	if !reflect.DeepEqual(bonds, []uint64{0, 1, 1, 2}) {
		t.Fatalf("bonds = %v, want [0 1 1 2]", bonds)
	}
	box, err := codec.Decode[float32](codec.Float32, geo.Box)
	if err != nil {
		t.Fatalf("decode box: %v", err)
	}
	if !reflect.DeepEqual(box, f.Box) {
		t.Fatalf("box = %v, want %v (unscaled)", box, f.Box)
	}

	msg, ok, err := enc.PositionsMessage(f)
	if err != nil || !ok {
		t.Fatalf("PositionsMessage ok=%v err=%v", ok, err)
	}
	positions, err := codec.Decode[float32](codec.Float32, msg.Positions)
	if err != nil {
		t.Fatalf("decode positions: %v", err)
	}
	want := []float32{0, 0, 0, 0.1, 0, 0, 0, 0.1, 0}
	if !reflect.DeepEqual(positions, want) {
		t.Fatalf("positions = %v, want %v", positions, want)
	}
}

func TestEncoder_PositionsScaledParticleMajor(t *testing.T) {
	enc := mustEncoder(t, EncoderConfig{Limit: 5})
	f := chainFrame(8)

	s, err := enc.Positions(enc.Select(f))
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	got, err := codec.Decode[float32](codec.Float32, s)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 5*3 {
		t.Fatalf("len = %d, want 15", len(got))
	}
	for i := 0; i < 5; i++ {
		for axis := 0; axis < 3; axis++ {
			want := float32(float64(f.Positions[i][axis]) * 0.1)
			if got[i*3+axis] != want {
				t.Fatalf("positions[%d] = %v, want %v", i*3+axis, got[i*3+axis], want)
			}
		}
	}
}

func TestEncoder_TruncatedTopologyBondsBelowLimit(t *testing.T) {
	enc := mustEncoder(t, EncoderConfig{})
	geo, err := enc.Geometry(chainFrame(8500))
	if err != nil {
		t.Fatalf("Geometry: %v", err)
	}
	elements, _ := codec.Decode[uint8](codec.Uint8, geo.Topology.Elements)
	if len(elements) != DefaultLimit {
		t.Fatalf("len(elements) = %d, want %d", len(elements), DefaultLimit)
	}
	bonds, err := codec.Decode[uint64](codec.Uint64, geo.Topology.Bonds)
	if err != nil {
		t.Fatalf("decode bonds: %v", err)
	}
	for i, b := range bonds {
		if b >= DefaultLimit {
			t.Fatalf("bonds[%d] = %d, want < %d", i, b, DefaultLimit)
		}
	}
}

func TestEncoder_Uint32Bonds(t *testing.T) {
	enc := mustEncoder(t, EncoderConfig{BondFormat: codec.Uint32})
	topo, err := enc.Topology(enc.Select(waterFrame()))
	if err != nil {
		t.Fatalf("Topology: %v", err)
	}
	bonds, err := codec.Decode[uint32](codec.Uint32, topo.Bonds)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(bonds, []uint32{0, 1, 1, 2}) {
		t.Fatalf("bonds = %v", bonds)
	}
}

func TestEncoder_NoPositions(t *testing.T) {
	enc := mustEncoder(t, EncoderConfig{})
	_, ok, err := enc.PositionsMessage(&Frame{Elements: []uint8{1}})
	if ok || err != nil {
		t.Fatalf("ok=%v err=%v, want ok=false err=nil", ok, err)
	}

	geo, err := enc.Geometry(&Frame{})
	if err != nil {
		t.Fatalf("Geometry: %v", err)
	}
	if geo.Topology.Elements != "" || geo.Topology.Bonds != "" || geo.Box != "" {
		t.Fatalf("geo = %+v, want empty", geo)
	}
}

func TestEncoder_FieldFailureIsIsolated(t *testing.T) {
	enc := &Encoder{config: DefaultEncoderConfig()}
	enc.config.BondFormat = codec.Format('?')

	geo, err := enc.Geometry(waterFrame())
	if !errors.Is(err, codec.ErrInvalidFormat) {
		t.Fatalf("err = %v, want ErrInvalidFormat", err)
	}
	if geo.Topology.Bonds != "" {
		t.Fatalf("Bonds = %q, want omitted", geo.Topology.Bonds)
	}
	if geo.Topology.Elements == "" || geo.Box == "" {
		t.Fatalf("other fields should still be encoded: %+v", geo)
	}
}

func TestNewEncoder_RejectsBadFormat(t *testing.T) {
	if _, err := NewEncoder(EncoderConfig{PositionFormat: codec.Format('z')}); !errors.Is(err, codec.ErrInvalidFormat) {
		t.Fatalf("err = %v, want ErrInvalidFormat", err)
	}
}

func TestNewEncoder_Defaults(t *testing.T) {
	cfg := mustEncoder(t, EncoderConfig{}).Config()
	if cfg.Limit != DefaultLimit || cfg.Scale != DefaultScale {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.BondFormat != codec.Uint64 || cfg.ElementFormat != codec.Uint8 {
		t.Fatalf("cfg formats = %+v", cfg)
	}
}

func TestFrame_Presence(t *testing.T) {
	var nilFrame *Frame
	if nilFrame.HasPositions() || nilFrame.ParticleCount() != 0 {
		t.Fatal("nil frame should have nothing")
	}
	f := waterFrame()
	if !f.HasPositions() || !f.HasElements() || !f.HasBonds() || !f.HasBox() {
		t.Fatal("water frame should have every field")
	}
	if f.ParticleCount() != 3 {
		t.Fatalf("ParticleCount = %d", f.ParticleCount())
	}
	if (&Frame{Elements: []uint8{1, 2}}).ParticleCount() != 2 {
		t.Fatal("ParticleCount should fall back to elements")
	}
}

func TestFrame_CloneIsDeep(t *testing.T) {
	f := waterFrame()
	c := f.Clone()
	c.Positions[0][0] = 42
	c.Elements[0] = 99
	if f.Positions[0][0] != 0 || f.Elements[0] != 1 {
		t.Fatal("Clone shares memory with source")
	}
	if (&Frame{}).Clone().HasPositions() {
		t.Fatal("Clone should keep absent fields absent")
	}
}
