// Command burberoste is the voice client for the Burbero Oste NPC server.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gpericol/BurberOste/internal/capture"
	"github.com/gpericol/BurberOste/internal/config"
	"github.com/gpericol/BurberOste/internal/recorder"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "burberoste: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "burberoste",
		Short:         "Talk to the grumpy innkeeper",
		Long:          "Burberoste records your voice, sends it to the NPC server and shows the innkeeper's replies.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Version = version
	root.PersistentFlags().String("config", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(newTalkCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "burberoste %s\n", version)
		},
	})
	return root
}

// ── Configuration ─────────────────────────────────────────────────────────────

// loadConfig reads the file named by --config. A missing file falls back to
// the built-in defaults so the client works out of the box against a local
// server.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg = config.Default()
		config.ApplyDefaults(cfg)
		return cfg, "", nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("config file %q not found", path)
	}
	return nil, "", err
}

// ── Recorder wiring ───────────────────────────────────────────────────────────

// registerBuiltinRecorders adds the recorders that ship with burberoste.
func registerBuiltinRecorders(reg *config.Registry) {
	reg.RegisterRecorder("ffmpeg", func(e config.RecorderEntry) (capture.Microphone, error) {
		return recorder.NewFFmpegMicrophone(recorder.FFmpegConfig{
			Binary:      e.OptString("binary"),
			InputFormat: e.OptString("input_format"),
			Device:      e.OptString("device"),
			Bitrate:     e.OptString("bitrate"),
		})
	})
	reg.RegisterRecorder("opus", func(e config.RecorderEntry) (capture.Microphone, error) {
		return recorder.NewOpusMicrophone(recorder.OpusConfig{
			Source:   recorder.WAVFile{Path: e.OptString("file")},
			Bitrate:  e.OptInt("bitrate"),
			Realtime: e.OptBool("realtime"),
		})
	})
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The level lives in a LevelVar so a
// config reload can change it. When the terminal UI owns the screen, logs go
// to the configured file, or nowhere.
func newLogger(cfg config.ClientConfig, tui bool) (*slog.Logger, *slog.LevelVar, func() error, error) {
	levels := new(slog.LevelVar)
	levels.Set(cfg.LogLevel.SlogLevel())

	var (
		out     io.Writer = os.Stderr
		closeFn           = func() error { return nil }
	)
	switch {
	case cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out, closeFn = f, f.Close
	case tui:
		out = io.Discard
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: levels})), levels, closeFn, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, configPath string) {
	if configPath == "" {
		configPath = "(defaults)"
	}
	limit := cfg.Capture.MaxDuration.String()
	if cfg.Capture.MaxDuration == 0 {
		limit = "(none)"
	}
	telemetry := cfg.Telemetry.ListenAddr
	if telemetry == "" {
		telemetry = "(disabled)"
	}
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║       Burberoste  startup summary     ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Config", configPath)
	printRow(w, "Server", cfg.Server.URL)
	printRow(w, "Mode", string(cfg.Capture.Mode))
	printRow(w, "Max length", limit)
	printRow(w, "Recorder", cfg.Recorder.Name)
	printRow(w, "NPC", cfg.NPC.Name)
	printRow(w, "Telemetry", telemetry)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w io.Writer, label, value string) {
	if r := []rune(value); len(r) > 23 {
		value = string(r[:22]) + "…"
	}
	fmt.Fprintf(w, "║  %-11s: %-23s ║\n", label, value)
}
