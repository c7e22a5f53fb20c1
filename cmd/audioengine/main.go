// Command audioengine is a minimal host for the audio engine: it lists
// playback devices and plays a list of files back to back through one
// output, the way a smoke-test harness exercises the engine end to end.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tphakala/birdnet-go/internal/audiocore/output"
	"github.com/tphakala/birdnet-go/internal/audiocore/output/malgosink"
	"github.com/tphakala/birdnet-go/internal/audiocore/player"
	"github.com/tphakala/birdnet-go/internal/engine"
	"github.com/tphakala/birdnet-go/internal/engineconf"
	errs "github.com/tphakala/birdnet-go/internal/errors"
)

func main() {
	root := &cobra.Command{
		Use:   "audioengine",
		Short: "Exercise the real-time audio engine core",
	}
	root.AddCommand(devicesCommand(), playCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available playback devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := malgosink.EnumerateDevices()
			if err != nil {
				return fmt.Errorf("enumerate devices: %w", err)
			}
			for _, d := range devices {
				fmt.Printf("%d: %s (%s)\n", d.Index, d.Name, d.ID)
			}
			return nil
		},
	}
}

func playCommand() *cobra.Command {
	var deviceName string
	var configPath string
	var sentryDSN string

	cmd := &cobra.Command{
		Use:   "play <file> [file...]",
		Short: "Queue and play one or more WAV/FLAC files gaplessly",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := errs.InitReporting(sentryDSN, "audioengine-cli", ""); err != nil {
				return fmt.Errorf("init error reporting: %w", err)
			}

			cfg := engineconf.Default()
			if configPath != "" {
				loaded, err := engineconf.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			if err := engineconf.Validate(cfg); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if len(cfg.Outputs) == 0 {
				cfg.Outputs = []engineconf.OutputConfig{{
					Name:    "default",
					Filters: []string{"replay_gain", "convert"},
				}}
			}

			sink := malgosink.New(cfg.Outputs[0].Name, deviceName)
			if err := sink.Enable(); err != nil {
				return fmt.Errorf("enable sink: %w", err)
			}
			defer sink.Disable()

			sinks := map[string]output.Sink{cfg.Outputs[0].Name: sink}
			registry := prometheus.NewRegistry()

			e, err := engine.New(cfg, sinks, registry)
			if err != nil {
				return fmt.Errorf("start engine: %w", err)
			}
			defer e.Close()

			e.Player.Queue(&player.Song{URI: args[0]})
			for _, uri := range args[1:] {
				for {
					if _, queued := e.Player.QueuedSong(); !queued {
						break
					}
					time.Sleep(50 * time.Millisecond)
				}
				e.Player.Queue(&player.Song{URI: uri})
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-sigCh:
					e.Player.Stop()
					return nil
				case <-ticker.C:
					h := e.Health()
					fmt.Printf("\r%s  %s  outputs %d/%d  cpu %.0f%%   ",
						h.State, h.CurrentSong, h.OutputsOpen, h.OutputsTotal, h.Resources.CPUPercent)
					if h.State == "stop" && h.CurrentSong == "" {
						fmt.Println()
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&deviceName, "device", "", "playback device name substring (default device if empty)")
	cmd.Flags().StringVar(&configPath, "config", "", "path to an audioengine config file")
	cmd.Flags().StringVar(&sentryDSN, "sentry-dsn", "", "Sentry DSN for error reporting (disabled if empty)")
	return cmd
}
