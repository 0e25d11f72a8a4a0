// Package playback replays a recorded trajectory as a live simulation.
//
// Every connected client gets an independent cursor that starts advancing
// when the client subscribes to frames. Multiplayer updates from all clients
// go to one shared state.Dictionary.
package playback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/molbridge/molbridge/pkg/frame"
	"github.com/molbridge/molbridge/pkg/sim"
	"github.com/molbridge/molbridge/pkg/state"
)

// DefaultFrameRate is the replay rate used when Options.FrameRate is unset.
const DefaultFrameRate = 30.0

// Options configures replay.
type Options struct {
	// FrameRate is the number of trajectory frames advanced per second.
	FrameRate float64

	// Loop restarts from the first frame after the last one. Without it the
	// last frame stays current.
	Loop bool
}

// Connector hands out playback clients for one trajectory.
type Connector struct {
	frames   []*frame.Frame
	dict     *state.Dictionary
	interval time.Duration
	loop     bool
}

// NewConnector validates traj and prepares its frames for replay. A nil
// dict gets a private dictionary.
func NewConnector(traj *Trajectory, dict *state.Dictionary, opts Options) (*Connector, error) {
	if traj == nil {
		return nil, fmt.Errorf("%w: nil trajectory", ErrInvalidTrajectory)
	}
	if err := traj.Validate(); err != nil {
		return nil, err
	}
	if dict == nil {
		dict = state.NewDictionary()
	}
	rate := opts.FrameRate
	if rate <= 0 {
		rate = DefaultFrameRate
	}

	frames := make([]*frame.Frame, traj.Len())
	for i := range frames {
		frames[i] = traj.Frame(i)
	}

	return &Connector{
		frames:   frames,
		dict:     dict,
		interval: time.Duration(float64(time.Second) / rate),
		loop:     opts.Loop,
	}, nil
}

// Dictionary returns the state shared by all clients of this connector.
func (c *Connector) Dictionary() *state.Dictionary {
	return c.dict
}

// Connect implements sim.Connector.
func (c *Connector) Connect(ctx context.Context) (sim.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cl := &client{
		conn:       c,
		firstFrame: make(chan struct{}),
		done:       make(chan struct{}),
	}
	cl.current.Store(&frame.Frame{})
	return cl, nil
}

type client struct {
	conn *Connector

	current    atomic.Pointer[frame.Frame]
	firstFrame chan struct{}
	firstOnce  sync.Once

	subscribeOnce sync.Once
	closeOnce     sync.Once
	closed        atomic.Bool
	done          chan struct{}
	wg            sync.WaitGroup
}

func (c *client) SubscribeToFrames(ctx context.Context) error {
	if c.closed.Load() {
		return sim.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.subscribeOnce.Do(func() {
		c.wg.Add(1)
		go c.advance()
	})
	return nil
}

func (c *client) advance() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.conn.interval)
	defer ticker.Stop()

	frames := c.conn.frames
	cursor := 0
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.publish(frames[cursor])
			cursor++
			if cursor < len(frames) {
				continue
			}
			if !c.conn.loop {
				return
			}
			cursor = 0
		}
	}
}

func (c *client) publish(f *frame.Frame) {
	c.current.Store(f)
	c.firstOnce.Do(func() { close(c.firstFrame) })
}

func (c *client) WaitUntilFirstFrame(ctx context.Context) error {
	select {
	case <-c.firstFrame:
		return nil
	case <-c.done:
		return sim.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *client) CurrentFrame() *frame.Frame {
	return c.current.Load()
}

func (c *client) AttemptUpdateMultiplayerState(ctx context.Context, change state.Change) error {
	if c.closed.Load() {
		return sim.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.conn.dict.Apply(change)
	return nil
}

func (c *client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
	c.wg.Wait()
	return nil
}
