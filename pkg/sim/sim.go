// Package sim defines the narrow interface the bridge needs from a running
// simulation session: frame access and the multiplayer update primitive.
//
// Each client connection gets its own Client from a Connector. The
// multiplayer state behind AttemptUpdateMultiplayerState is shared by every
// client of the same simulation.
package sim

import (
	"context"
	"errors"

	"github.com/molbridge/molbridge/pkg/frame"
	"github.com/molbridge/molbridge/pkg/state"
)

var (
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("sim: client closed")

	// ErrUpdateRejected is returned when the simulation refuses a
	// multiplayer state change.
	ErrUpdateRejected = errors.New("sim: update rejected")

	// ErrNoSimulation is returned by a Connector that cannot reach any
	// simulation.
	ErrNoSimulation = errors.New("sim: no simulation available")
)

// Client is a handle on one simulation session.
type Client interface {
	// SubscribeToFrames starts receiving frame updates.
	SubscribeToFrames(ctx context.Context) error

	// WaitUntilFirstFrame blocks until a frame with positions has been
	// received or ctx is done.
	WaitUntilFirstFrame(ctx context.Context) error

	// CurrentFrame returns the latest frame. It never returns nil; before
	// the first update the frame carries no positions. The returned frame
	// must not be modified.
	CurrentFrame() *frame.Frame

	// AttemptUpdateMultiplayerState applies change to the shared state.
	AttemptUpdateMultiplayerState(ctx context.Context, change state.Change) error

	// Close releases the handle.
	Close() error
}

// Connector establishes Clients, one per bridged connection.
type Connector interface {
	Connect(ctx context.Context) (Client, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context) (Client, error)

// Connect calls f(ctx).
func (f ConnectorFunc) Connect(ctx context.Context) (Client, error) {
	return f(ctx)
}
