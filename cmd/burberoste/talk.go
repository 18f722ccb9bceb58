package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/gpericol/BurberOste/internal/app"
	"github.com/gpericol/BurberOste/internal/capture"
	"github.com/gpericol/BurberOste/internal/config"
	"github.com/gpericol/BurberOste/internal/observe"
	"github.com/gpericol/BurberOste/internal/recorder"
	"github.com/gpericol/BurberOste/internal/ui"
)

const (
	shutdownTimeout = 15 * time.Second
	replayTimeout   = 2 * time.Minute
)

type talkOptions struct {
	headless bool
	replay   string
}

func newTalkCmd() *cobra.Command {
	var opts talkOptions
	cmd := &cobra.Command{
		Use:   "talk",
		Short: "Start a conversation with the innkeeper",
		Long: "Connects to the NPC server and records your voice. In the terminal UI, " +
			"space starts and stops a recording and q quits. With --replay a WAV file is " +
			"sent as one utterance and the reply is printed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTalk(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.headless, "headless", false, "print the conversation instead of drawing the terminal UI")
	cmd.Flags().StringVar(&opts.replay, "replay", "", "send the given WAV file as one utterance, print the reply and exit")
	return cmd
}

func runTalk(cmd *cobra.Command, opts talkOptions) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	tui := !opts.headless && opts.replay == ""

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, levels, closeLog, err := newLogger(cfg.Client, tui)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// The global providers must exist before anything asks for the default
	// instrument set.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Microphone ────────────────────────────────────────────────────────────
	mic, err := buildMicrophone(cfg, opts.replay)
	if err != nil {
		return fmt.Errorf("build recorder: %w", err)
	}

	slog.Info("burberoste starting",
		"config", configPath,
		"server", cfg.Server.URL,
		"mode", cfg.Capture.Mode,
		"recorder", cfg.Recorder.Name,
		"log_level", cfg.Client.LogLevel,
	)
	if !tui {
		printStartupSummary(cmd.ErrOrStderr(), cfg, configPath)
	}

	switch {
	case opts.replay != "":
		return runReplay(ctx, cfg, mic)
	case opts.headless:
		return runHeadless(ctx, cfg, configPath, levels, mic)
	default:
		return runTUI(ctx, cfg, configPath, levels, mic)
	}
}

// buildMicrophone picks the recorder. A replay always uses the opus recorder
// on the given file, paced in real time like a live microphone.
func buildMicrophone(cfg *config.Config, replay string) (capture.Microphone, error) {
	if replay != "" {
		// A replayed file has no continuity with earlier utterances.
		cfg.Capture.RetainSeed = false
		cfg.Recorder = config.RecorderEntry{Name: "opus"}
		return recorder.NewOpusMicrophone(recorder.OpusConfig{
			Source:   recorder.WAVFile{Path: replay},
			Realtime: true,
		})
	}
	reg := config.NewRegistry()
	registerBuiltinRecorders(reg)
	return reg.CreateRecorder(cfg.Recorder)
}

// ── Run modes ─────────────────────────────────────────────────────────────────

func runReplay(ctx context.Context, cfg *config.Config, mic capture.Microphone) error {
	console := ui.NewConsole(os.Stdout, cfg.NPC.Name)
	application, err := app.New(cfg, mic, console)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- application.Run(runCtx) }()

	replyCtx, cancelReply := context.WithTimeout(ctx, replayTimeout)
	_, replyErr := application.Replay(replyCtx, console.Replies())
	cancelReply()

	cancel()
	runErr := <-done
	shutdown(application)
	if replyErr != nil {
		return replyErr
	}
	return runErr
}

func runHeadless(ctx context.Context, cfg *config.Config, configPath string, levels *slog.LevelVar, mic capture.Microphone) error {
	console := ui.NewConsole(os.Stdout, cfg.NPC.Name)
	application, err := newApp(cfg, configPath, levels, mic, console)
	if err != nil {
		return err
	}
	defer shutdown(application)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go readCommands(runCtx, cancel, os.Stdin, application.Controller())

	fmt.Fprintln(os.Stderr, "Press Enter to start or stop a recording, q then Enter to quit.")
	if err := application.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// readCommands toggles recording on every empty line of r and calls quit on
// "q". End of input leaves the client running until a signal arrives.
func readCommands(ctx context.Context, quit context.CancelFunc, r io.Reader, c ui.Capture) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(sc.Text()) {
		case "":
			if c.IsActive() {
				c.Stop()
			} else {
				c.Start()
			}
		case "q", "quit":
			quit()
			return
		}
	}
}

func runTUI(ctx context.Context, cfg *config.Config, configPath string, levels *slog.LevelVar, mic capture.Microphone) error {
	bridge := ui.NewBridge(0)
	application, err := newApp(cfg, configPath, levels, mic, bridge)
	if err != nil {
		return err
	}
	defer shutdown(application)

	program := tea.NewProgram(
		ui.New(application.Controller(), cfg.NPC.Name),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 2)
	go func() { done <- application.Run(runCtx) }()
	go func() { done <- bridge.Run(runCtx, program.Send) }()

	_, progErr := program.Run()
	cancel()
	for range 2 {
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("run error", "err", err)
		}
	}
	if progErr != nil && !errors.Is(progErr, tea.ErrProgramKilled) {
		return fmt.Errorf("terminal ui: %w", progErr)
	}
	return nil
}

// newApp builds the application with hot reload of the config file, when
// there is one.
func newApp(cfg *config.Config, configPath string, levels *slog.LevelVar, mic capture.Microphone, p app.Presenter) (*app.App, error) {
	opts := []app.Option{app.WithLogLevel(levels)}

	// The watcher only fires from Run, after application is assigned.
	var application *app.App
	if configPath != "" {
		w, err := config.NewWatcher(configPath, func(old, new *config.Config) {
			application.Reload(old, new)
		})
		if err != nil {
			return nil, fmt.Errorf("config watcher: %w", err)
		}
		opts = append(opts, app.WithWatcher(w))
	}

	application, err := app.New(cfg, mic, p, opts...)
	if err != nil {
		return nil, err
	}
	return application, nil
}

func shutdown(application *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}
