package sim

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/molbridge/molbridge/pkg/frame"
	"github.com/molbridge/molbridge/pkg/state"
)

// Static is an in-memory Client whose frame is set by the caller. It backs
// demo mode and tests.
type Static struct {
	current    atomic.Pointer[frame.Frame]
	firstFrame chan struct{}
	firstOnce  sync.Once
	closed     atomic.Bool
	subscribed atomic.Bool

	dict *state.Dictionary

	mu      sync.Mutex
	changes []state.Change
	reject  func(state.Change) bool
}

// NewStatic returns a client that applies updates to dict. A nil dict gets
// a private dictionary.
func NewStatic(dict *state.Dictionary) *Static {
	if dict == nil {
		dict = state.NewDictionary()
	}
	s := &Static{
		firstFrame: make(chan struct{}),
		dict:       dict,
	}
	s.current.Store(&frame.Frame{})
	return s
}

// SetFrame publishes f as the current frame. A nil frame is stored as an
// empty frame.
func (s *Static) SetFrame(f *frame.Frame) {
	if f == nil {
		f = &frame.Frame{}
	}
	s.current.Store(f)
	if f.HasPositions() {
		s.firstOnce.Do(func() { close(s.firstFrame) })
	}
}

// SetRejectFunc installs a predicate that makes matching updates fail with
// ErrUpdateRejected.
func (s *Static) SetRejectFunc(fn func(state.Change) bool) {
	s.mu.Lock()
	s.reject = fn
	s.mu.Unlock()
}

// SubscribeToFrames implements Client.
func (s *Static) SubscribeToFrames(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.subscribed.Store(true)
	return nil
}

// Subscribed reports whether SubscribeToFrames was called.
func (s *Static) Subscribed() bool {
	return s.subscribed.Load()
}

// WaitUntilFirstFrame implements Client.
func (s *Static) WaitUntilFirstFrame(ctx context.Context) error {
	select {
	case <-s.firstFrame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CurrentFrame implements Client.
func (s *Static) CurrentFrame() *frame.Frame {
	return s.current.Load()
}

// AttemptUpdateMultiplayerState implements Client.
func (s *Static) AttemptUpdateMultiplayerState(ctx context.Context, change state.Change) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	reject := s.reject
	s.mu.Unlock()
	if reject != nil && reject(change) {
		return ErrUpdateRejected
	}

	s.dict.Apply(change)

	s.mu.Lock()
	s.changes = append(s.changes, change)
	s.mu.Unlock()
	return nil
}

// Changes returns every change applied through this client, in order.
func (s *Static) Changes() []state.Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]state.Change(nil), s.changes...)
}

// Dictionary returns the state the client writes to.
func (s *Static) Dictionary() *state.Dictionary {
	return s.dict
}

// Close implements Client.
func (s *Static) Close() error {
	s.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (s *Static) Closed() bool {
	return s.closed.Load()
}

// StaticConnector returns a Connector whose clients all serve f and write
// to dict.
func StaticConnector(f *frame.Frame, dict *state.Dictionary) Connector {
	if dict == nil {
		dict = state.NewDictionary()
	}
	return ConnectorFunc(func(ctx context.Context) (Client, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := NewStatic(dict)
		s.SetFrame(f)
		return s, nil
	})
}
