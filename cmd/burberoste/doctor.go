package main

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/gpericol/BurberOste/internal/config"
	"github.com/gpericol/BurberOste/internal/transport"
)

const doctorDialTimeout = 5 * time.Second

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			ok := true

			cfg, path, err := loadConfig(cmd)
			if err != nil {
				check(out, "Config", false, err.Error())
				return fmt.Errorf("some prerequisites are missing")
			}
			if path == "" {
				check(out, "Config", true, "no file, using defaults")
			} else {
				check(out, "Config", true, path)
			}

			if cfg.Recorder.Name == "ffmpeg" {
				bin := cfg.Recorder.OptString("binary")
				if bin == "" {
					bin = "ffmpeg"
				}
				if p, err := exec.LookPath(bin); err != nil {
					check(out, "ffmpeg", false, "not found. Install ffmpeg or set recorder.options.binary")
					ok = false
				} else {
					check(out, "ffmpeg", true, p)
				}
			} else {
				check(out, "Recorder", true, cfg.Recorder.Name)
			}

			if err := checkServer(cmd.Context(), cfg.Server); err != nil {
				check(out, "Server", false, fmt.Sprintf("%s unreachable: %v", cfg.Server.URL, err))
				ok = false
			} else {
				check(out, "Server", true, cfg.Server.URL+" ("+cfg.Server.Protocol+")")
			}

			if !ok {
				fmt.Fprintln(out, "\nSome prerequisites are missing.")
				return fmt.Errorf("some prerequisites are missing")
			}
			fmt.Fprintln(out, "\nAll prerequisites met. The innkeeper is waiting.")
			return nil
		},
	}
}

// checkServer connects once with the configured protocol, including its
// handshake, and disconnects.
func checkServer(ctx context.Context, srv config.ServerConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ch, err := transport.NewChannel(transport.ChannelConfig{
		URL:         srv.URL,
		Protocol:    srv.Protocol,
		DialTimeout: doctorDialTimeout,
	})
	if err != nil {
		return err
	}
	return ch.Check(ctx)
}

func check(w io.Writer, name string, ok bool, detail string) {
	mark := "✓"
	if !ok {
		mark = "✗"
	}
	fmt.Fprintf(w, "  %s %-10s %s\n", mark, name, detail)
}
