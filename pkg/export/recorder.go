// Package export records simulation frames into the compact trajectory
// JSON read by playback and by the web client, and stores the result on
// disk or in S3.
//
// A compact trajectory has one topology and a list of position frames:
//
//	{
//	  "topology": {"elements": "<b64 uint8>", "bonds": "<b64 uint32 pairs>"},
//	  "positions": ["<b64 float32 xyz...>", ...],
//	  "box": "<b64 float32>"
//	}
//
// Positions stay in simulation units.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/molbridge/molbridge/pkg/codec"
	"github.com/molbridge/molbridge/pkg/frame"
	"github.com/molbridge/molbridge/pkg/sim"
)

// ErrNoFrames is returned when a recording ends before any frame was taken.
var ErrNoFrames = errors.New("export: no frames recorded")

// Topology is the compact topology block.
type Topology struct {
	Elements string `json:"elements,omitempty"`
	Bonds    string `json:"bonds,omitempty"`
}

// Document is a compact trajectory.
type Document struct {
	Topology  Topology `json:"topology"`
	Positions []string `json:"positions"`
	Box       string   `json:"box,omitempty"`
}

// Len returns the number of recorded frames.
func (d *Document) Len() int { return len(d.Positions) }

// Encode writes d as JSON.
func (d *Document) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(d)
}

// Options controls a recording.
type Options struct {
	// Frames is the number of frames to record. Zero records until ctx is
	// done.
	Frames int

	// Interval is the sampling period. Zero defaults to 1/30 s.
	Interval time.Duration

	// Limit caps the particles per frame; <= 0 keeps all of them.
	Limit int

	// Distinct skips samples where the simulation has not published a new
	// frame since the previous sample.
	Distinct bool
}

// Recorder samples a simulation client into a Document.
type Recorder struct {
	client sim.Client
	opts   Options
	logger *slog.Logger
}

// NewRecorder creates a Recorder reading from client. The client must
// already be subscribed to frames.
func NewRecorder(client sim.Client, opts Options) *Recorder {
	if opts.Interval <= 0 {
		opts.Interval = time.Second / 30
	}
	return &Recorder{
		client: client,
		opts:   opts,
		logger: slog.Default().With("component", "recorder"),
	}
}

// Record waits for the first frame and then samples until Options.Frames
// frames are taken or ctx is done. Topology and box come from the first
// sample. A recording stopped by ctx returns what it has, or ErrNoFrames
// when that is nothing.
func (r *Recorder) Record(ctx context.Context) (*Document, error) {
	if err := r.client.WaitUntilFirstFrame(ctx); err != nil {
		return nil, fmt.Errorf("export: wait for first frame: %w", err)
	}

	doc := &Document{}
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	var (
		last  *frame.Frame
		count int
	)
	for {
		f := r.client.CurrentFrame()
		if f.HasPositions() && !(r.opts.Distinct && f == last) {
			if err := r.add(doc, f, count); err != nil {
				return nil, err
			}
			last = f
			count = len(f.Positions)
			if r.opts.Frames > 0 && doc.Len() >= r.opts.Frames {
				break
			}
		}

		select {
		case <-ctx.Done():
			if doc.Len() == 0 {
				return nil, ErrNoFrames
			}
			r.logger.Info("recording stopped early", "frames", doc.Len(), "reason", ctx.Err())
			return doc, nil
		case <-ticker.C:
		}
	}

	r.logger.Debug("recording complete", "frames", doc.Len())
	return doc, nil
}

// add appends f to doc. The first frame fixes the topology; later frames
// must keep its particle count.
func (r *Recorder) add(doc *Document, f *frame.Frame, count int) error {
	sel := frame.Select(f, r.opts.Limit)

	if doc.Len() == 0 {
		if err := writeTopology(doc, f, sel); err != nil {
			return err
		}
	} else if len(f.Positions) != count {
		return fmt.Errorf("export: frame %d has %d particles, expected %d", doc.Len(), len(f.Positions), count)
	}

	flat := make([]float32, 0, 3*len(sel.Positions))
	for _, p := range sel.Positions {
		flat = append(flat, p[0], p[1], p[2])
	}
	text, err := codec.Encode(codec.Float32, flat)
	if err != nil {
		return fmt.Errorf("export: positions: %w", err)
	}
	doc.Positions = append(doc.Positions, text)
	return nil
}

func writeTopology(doc *Document, f *frame.Frame, sel frame.Selection) error {
	var err error
	if sel.Elements != nil {
		if doc.Topology.Elements, err = codec.Encode(codec.Uint8, sel.Elements); err != nil {
			return fmt.Errorf("export: elements: %w", err)
		}
	}
	if sel.Bonds != nil {
		flat := make([]uint32, 0, 2*len(sel.Bonds))
		for _, b := range sel.Bonds {
			flat = append(flat, b[0], b[1])
		}
		if doc.Topology.Bonds, err = codec.Encode(codec.Uint32, flat); err != nil {
			return fmt.Errorf("export: bonds: %w", err)
		}
	}
	if f.HasBox() {
		if doc.Box, err = codec.Encode(codec.Float32, f.Box); err != nil {
			return fmt.Errorf("export: box: %w", err)
		}
	}
	return nil
}
