package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/molbridge/molbridge/internal/config"
	"github.com/molbridge/molbridge/pkg/frame"
	"github.com/molbridge/molbridge/pkg/server"
	"github.com/molbridge/molbridge/pkg/sim"
	"github.com/molbridge/molbridge/pkg/sim/playback"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		address    string
		trajectory string
		demo       bool
		insecure   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the WebSocket bridge",
		Long: `Start the WebSocket bridge.

The simulation is a trajectory file replayed in real time, or a fixed
demo molecule with --demo. Certificates come from the tls section of
molbridge.json or the MOLBRIDGE_TLS_* variables.

Examples:
  molbridge serve --trajectory water.json
  molbridge serve --config /etc/molbridge/molbridge.json
  molbridge serve --demo --insecure --address=:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			// Apply command-line overrides
			if address != "" {
				cfg.Server.Address = address
			}
			if trajectory != "" {
				cfg.Simulation.Trajectory = trajectory
			}
			if insecure {
				cfg.Server.Insecure = true
			}
			return runServe(cmd, cfg, demo)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to molbridge.json (default ./molbridge.json)")
	cmd.Flags().StringVarP(&address, "address", "a", "", "Listen address (default from molbridge.json)")
	cmd.Flags().StringVarP(&trajectory, "trajectory", "t", "", "Trajectory file to replay")
	cmd.Flags().BoolVar(&demo, "demo", false, "Serve a fixed demo molecule instead of a trajectory")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Serve plain ws:// without TLS")

	return cmd
}

func runServe(cmd *cobra.Command, cfg *config.Config, demo bool) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := setupLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}

	connector, source, err := newConnector(cfg, demo)
	if err != nil {
		return err
	}

	serverConfig, err := cfg.ServerConfig()
	if err != nil {
		return err
	}

	srv := server.New(serverConfig, connector)
	srv.SetLogger(logger.With("component", "server"))

	scheme := "wss"
	if serverConfig.Insecure {
		scheme = "ws"
	}
	success("Streaming %s", source)
	info("%s://%s/", scheme, serverConfig.Address)

	return srv.Run(cmd.Context())
}

// newConnector builds the simulation connector and describes it.
func newConnector(cfg *config.Config, demo bool) (sim.Connector, string, error) {
	if demo {
		return sim.StaticConnector(demoFrame(), nil), "demo molecule", nil
	}

	path := cfg.ResolvePath(cfg.Simulation.Trajectory)
	if path == "" {
		return nil, "", errors.New("no simulation configured: pass --trajectory or --demo")
	}
	traj, err := playback.LoadTrajectory(path)
	if err != nil {
		return nil, "", err
	}
	connector, err := playback.NewConnector(traj, nil, playback.Options{
		FrameRate: cfg.Simulation.FrameRate,
		Loop:      cfg.Simulation.Loop,
	})
	if err != nil {
		return nil, "", err
	}
	return connector, fmt.Sprintf("%s (%d frames)", path, traj.Len()), nil
}

// demoFrame is three water molecules in a 3 nm box.
func demoFrame() *frame.Frame {
	f := &frame.Frame{Box: []float32{3, 0, 0, 0, 3, 0, 0, 0, 3}}
	for i := 0; i < 3; i++ {
		x := float32(0.5 + float32(i))
		o := uint32(len(f.Positions))
		f.Elements = append(f.Elements, 8, 1, 1)
		f.Positions = append(f.Positions,
			frame.Vec3{x, 1.5, 1.5},
			frame.Vec3{x + 0.0757, 1.5586, 1.5},
			frame.Vec3{x - 0.0757, 1.5586, 1.5},
		)
		f.Bonds = append(f.Bonds, frame.Bond{o, o + 1}, frame.Bond{o, o + 2})
	}
	return f
}
