package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// MaxChangeKeys bounds the number of updates plus removals in one inbound
// message.
const MaxChangeKeys = 4096

// StateChange is a client's proposed mutation of the shared multiplayer
// state. Updates maps keys to arbitrary JSON values; Removals is a set.
type StateChange struct {
	Updates  map[string]any
	Removals map[string]struct{}
}

// RemovalKeys returns the removals as a slice in no particular order.
func (c StateChange) RemovalKeys() []string {
	keys := make([]string, 0, len(c.Removals))
	for k := range c.Removals {
		keys = append(keys, k)
	}
	return keys
}

// MarshalJSON encodes the change in its wire form.
func (c StateChange) MarshalJSON() ([]byte, error) {
	wire := struct {
		Updates  map[string]any `json:"updates"`
		Removals []string       `json:"removals"`
	}{
		Updates:  c.Updates,
		Removals: c.RemovalKeys(),
	}
	if wire.Updates == nil {
		wire.Updates = map[string]any{}
	}
	return json.Marshal(wire)
}

// DecodeStateChange parses and validates an inbound client message:
//
//	{"updates": {<key>: <value>, ...}, "removals": [<key>, ...]}
//
// Both fields are optional and default to empty. Anything that does not
// match this shape is rejected with an *Error wrapping ErrMalformedMessage.
func DecodeStateChange(b []byte) (StateChange, error) {
	var wire struct {
		Updates  json.RawMessage `json:"updates"`
		Removals json.RawMessage `json:"removals"`
	}

	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return StateChange{}, &Error{Op: "decode state change", Err: fmt.Errorf("%w: not a JSON object", ErrMalformedMessage)}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return StateChange{}, &Error{Op: "decode state change", Err: wrapMalformed(err)}
	}
	if _, err := dec.Token(); err != io.EOF {
		return StateChange{}, &Error{Op: "decode state change", Err: fmt.Errorf("%w: trailing data", ErrMalformedMessage)}
	}

	change := StateChange{
		Updates:  map[string]any{},
		Removals: map[string]struct{}{},
	}

	if isPresent(wire.Updates) {
		if err := json.Unmarshal(wire.Updates, &change.Updates); err != nil {
			return StateChange{}, &Error{Op: "decode updates", Err: wrapMalformed(err)}
		}
	}
	if isPresent(wire.Removals) {
		var keys []string
		if err := json.Unmarshal(wire.Removals, &keys); err != nil {
			return StateChange{}, &Error{Op: "decode removals", Err: wrapMalformed(err)}
		}
		for _, k := range keys {
			change.Removals[k] = struct{}{}
		}
	}

	if len(change.Updates)+len(change.Removals) > MaxChangeKeys {
		return StateChange{}, &Error{
			Op:  "decode state change",
			Err: fmt.Errorf("%w: %d keys exceeds limit %d", ErrMalformedMessage, len(change.Updates)+len(change.Removals), MaxChangeKeys),
		}
	}
	if _, ok := change.Updates[""]; ok {
		return StateChange{}, &Error{Op: "decode updates", Err: fmt.Errorf("%w: empty key", ErrMalformedMessage)}
	}
	if _, ok := change.Removals[""]; ok {
		return StateChange{}, &Error{Op: "decode removals", Err: fmt.Errorf("%w: empty key", ErrMalformedMessage)}
	}

	return change, nil
}

// isPresent reports whether a raw field was given a non-null value.
func isPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
