package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/molbridge/molbridge/internal/config"
	"github.com/molbridge/molbridge/pkg/export"
)

func recordCmd() *cobra.Command {
	var (
		configPath string
		trajectory string
		out        string
		frames     int
		interval   time.Duration
		limit      int
		demo       bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record simulation frames into a compact trajectory",
		Long: `Record frames from the configured simulation into the compact
trajectory JSON used for offline playback.

The output is a file path or an s3://bucket/key URL. S3 credentials come
from the record.s3 section of molbridge.json or the AWS_* variables.

Examples:
  molbridge record --trajectory water.json --frames 50 --out small.json
  molbridge record --demo --frames 1 --out s3://trajectories/demo.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			// Apply command-line overrides
			if trajectory != "" {
				cfg.Simulation.Trajectory = trajectory
			}
			if out != "" {
				cfg.Record.Out = out
			}
			if cmd.Flags().Changed("frames") {
				cfg.Record.Frames = frames
			}
			if interval > 0 {
				cfg.Record.Interval = config.Duration(interval)
			}
			if limit != 0 {
				cfg.Stream.Limit = limit
			}
			// A recording reads the trajectory once.
			cfg.Simulation.Loop = false
			return runRecord(cmd.Context(), cfg, demo)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to molbridge.json (default ./molbridge.json)")
	cmd.Flags().StringVarP(&trajectory, "trajectory", "t", "", "Trajectory file to record from")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file or s3://bucket/key")
	cmd.Flags().IntVarP(&frames, "frames", "n", 0, "Number of frames to record (0 records until interrupted)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Sampling interval (default from molbridge.json)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum particles per frame (default from molbridge.json)")
	cmd.Flags().BoolVar(&demo, "demo", false, "Record the demo molecule")

	return cmd
}

func runRecord(ctx context.Context, cfg *config.Config, demo bool) error {
	if cfg.Record.Out == "" {
		return errors.New("no output: pass --out or set record.out")
	}
	// TLS is irrelevant for recording.
	cfg.Server.Insecure = true
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := setupLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}

	store, key, err := export.Open(cfg.Record.Out, cfg.Record.S3)
	if err != nil {
		return err
	}

	connector, source, err := newConnector(cfg, demo)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := connector.Connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.SubscribeToFrames(ctx); err != nil {
		return err
	}

	logger.Info("recording", "source", source, "frames", cfg.Record.Frames, "out", cfg.Record.Out)
	rec := export.NewRecorder(client, export.Options{
		Frames:   cfg.Record.Frames,
		Interval: cfg.Record.Interval.Std(),
		Limit:    cfg.Stream.Limit,
		Distinct: !demo,
	})
	doc, err := rec.Record(ctx)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := doc.Encode(&buf); err != nil {
		return err
	}
	// The store write must not be cut short by the interrupt that ended
	// an open-ended recording.
	if err := store.Put(context.WithoutCancel(ctx), key, buf.Bytes()); err != nil {
		return err
	}

	success("Recorded %d frames to %s", doc.Len(), cfg.Record.Out)
	return nil
}
