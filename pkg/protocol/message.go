package protocol

import (
	"encoding/json"
)

// Topology describes the selected particles: one element byte per particle
// and the flattened bond index pairs. Either field is omitted when absent.
type Topology struct {
	Elements string `json:"elements,omitempty"`
	Bonds    string `json:"bonds,omitempty"`
}

// GeometryMessage is sent once per session, before any positions.
type GeometryMessage struct {
	Topology Topology `json:"topology"`
	Box      string   `json:"box,omitempty"`
}

// PositionsMessage carries the scaled float32 positions of the selection,
// flattened as x0,y0,z0,x1,y1,z1,...
type PositionsMessage struct {
	Positions string `json:"positions"`
}

// Encode serializes an outbound message to its JSON text.
func Encode(msg any) ([]byte, error) {
	switch msg.(type) {
	case GeometryMessage, *GeometryMessage, PositionsMessage, *PositionsMessage:
	default:
		return nil, &Error{Op: "encode", Err: ErrUnknownMessage}
	}
	return json.Marshal(msg)
}

// Kind identifies an outbound message variant as seen by the client.
type Kind int

const (
	KindUnknown Kind = iota
	KindGeometry
	KindPositions
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindGeometry:
		return "geometry"
	case KindPositions:
		return "positions"
	}
	return "unknown"
}

// Outbound is a decoded server message, used by clients and tests.
type Outbound struct {
	Kind      Kind
	Geometry  *GeometryMessage
	Positions *PositionsMessage
}

// DecodeOutbound parses a server-to-client message and reports which
// variant it is. A message with a "topology" key is a geometry message and a
// message with only "positions" is a positions message.
func DecodeOutbound(b []byte) (Outbound, error) {
	var probe struct {
		Topology  *Topology `json:"topology"`
		Box       *string   `json:"box"`
		Positions *string   `json:"positions"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return Outbound{}, &Error{Op: "decode", Err: wrapMalformed(err)}
	}

	switch {
	case probe.Topology != nil:
		msg := &GeometryMessage{Topology: *probe.Topology}
		if probe.Box != nil {
			msg.Box = *probe.Box
		}
		return Outbound{Kind: KindGeometry, Geometry: msg}, nil
	case probe.Positions != nil:
		return Outbound{Kind: KindPositions, Positions: &PositionsMessage{Positions: *probe.Positions}}, nil
	}
	return Outbound{}, &Error{Op: "decode", Err: ErrUnknownMessage}
}
