// Package app wires the client subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the transport channel,
// the adapter and the capture controller from the config, Run keeps the
// background services going, and Shutdown tears everything down in order.
//
// The microphone and the presenter are injected by the caller, which picks
// them according to the run mode (terminal UI, headless, replay).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/gpericol/BurberOste/internal/capture"
	"github.com/gpericol/BurberOste/internal/config"
	"github.com/gpericol/BurberOste/internal/health"
	"github.com/gpericol/BurberOste/internal/observe"
	"github.com/gpericol/BurberOste/internal/transport"
	"github.com/gpericol/BurberOste/pkg/types"
)

// ErrNoReply is returned by [App.Replay] when the server does not answer in
// time.
var ErrNoReply = errors.New("app: no reply from the server")

const (
	connectPoll       = 50 * time.Millisecond
	serverReadTimeout = 10 * time.Second
)

// Presenter shows the conversation and the status line.
type Presenter interface {
	capture.Observer
	transport.ReplyHandler

	// SetNPCName changes the name shown for replies without npc_name.
	SetNPCName(name string)
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	presenter Presenter
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	channel    *transport.Channel
	adapter    *transport.Adapter
	controller *capture.Controller
	health     *health.Handler

	// Optional collaborators.
	clock     capture.Clock
	watcher   *config.Watcher
	logLevel  *slog.LevelVar
	telemetry net.Listener
	server    *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics injects the instrument set instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClock injects the capture controller's clock.
func WithClock(c capture.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithWatcher runs w alongside the other services and applies the changes it
// reports with [App.Reload].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithLogLevel lets [App.Reload] change the level of the running logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. mic records the
// player and p presents the results. When cfg.Telemetry.ListenAddr is set the
// telemetry listener is bound here, so address errors surface immediately.
func New(cfg *config.Config, mic capture.Microphone, p Presenter, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, presenter: p}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Channel ───────────────────────────────────────────────────────
	ch, err := transport.NewChannel(transport.ChannelConfig{
		URL:        cfg.Server.URL,
		Protocol:   cfg.Server.Protocol,
		MaxRetries: cfg.Server.Reconnect.MaxRetries,
		Backoff:    cfg.Server.Reconnect.Backoff,
		MaxBackoff: cfg.Server.Reconnect.MaxBackoff,
		Metrics:    a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init channel: %w", err)
	}
	a.channel = ch

	// ── 2. Adapter ───────────────────────────────────────────────────────
	ad, err := transport.NewAdapter(transport.AdapterConfig{
		Mode:    cfg.Capture.Mode,
		Sender:  ch,
		Status:  p,
		Replies: p,
		Metrics: a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init adapter: %w", err)
	}
	ad.Attach(ch)
	a.adapter = ad

	// ── 3. Capture controller ────────────────────────────────────────────
	ctrl, err := capture.New(capture.Config{
		Mode:             cfg.Capture.Mode,
		MaxDuration:      cfg.Capture.MaxDuration,
		ProgressInterval: cfg.Capture.ProgressInterval,
		FlushInterval:    cfg.Capture.FlushInterval,
		Timeslice:        cfg.Capture.Timeslice,
		FinalizeTimeout:  cfg.Capture.FinalizeTimeout,
		RetainSeed:       cfg.Capture.RetainSeed,
		Microphone:       mic,
		Segments:         ad,
		Observer:         p,
		Clock:            a.clock,
		Metrics:          a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init capture: %w", err)
	}
	a.controller = ctrl
	a.closers = append(a.closers, ctrl.Close)

	// ── 4. Health ────────────────────────────────────────────────────────
	a.health = health.New(
		health.Condition("microphone", ctrl.Initialized, "microphone not acquired"),
		health.Condition("channel", ch.Connected, "not connected to the server"),
	)

	// ── 5. Telemetry listener ────────────────────────────────────────────
	if addr := cfg.Telemetry.ListenAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			_ = ctrl.Close()
			return nil, fmt.Errorf("app: telemetry listen %q: %w", addr, err)
		}
		a.telemetry = ln
		a.server = &http.Server{
			Handler:           a.telemetryHandler(),
			ReadHeaderTimeout: serverReadTimeout,
		}
	}

	return a, nil
}

// telemetryHandler serves /metrics, /healthz and /readyz.
func (a *App) telemetryHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// Controller returns the capture controller for the presentation layer to
// drive.
func (a *App) Controller() *capture.Controller { return a.controller }

// Readiness evaluates the same checks as /readyz.
func (a *App) Readiness(ctx context.Context) health.Report {
	return a.health.Evaluate(ctx)
}

// TelemetryAddr returns the bound telemetry address, or nil when the
// endpoint is disabled.
func (a *App) TelemetryAddr() net.Addr {
	if a.telemetry == nil {
		return nil
	}
	return a.telemetry.Addr()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the background services and blocks until ctx is cancelled: the
// server channel and its adapter, the microphone acquisition, the telemetry
// endpoint and the config watcher. Giving up on the server is reported to the
// player but does not end Run; the player can still quit normally.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.channel.Run(gctx)
		if errors.Is(err, transport.ErrReconnectExhausted) {
			slog.Error("app: server unreachable, giving up", "url", a.cfg.Server.URL, "err", err)
			return nil
		}
		return err
	})
	g.Go(func() error { return a.adapter.Run(gctx) })
	g.Go(func() error {
		err := a.Initialize(gctx)
		if err != nil && gctx.Err() == nil {
			// Already reported to the player.
			slog.Warn("app: microphone unavailable", "err", err)
		}
		return nil
	})

	if a.server != nil {
		g.Go(func() error {
			slog.Info("telemetry endpoint listening", "addr", a.telemetry.Addr().String())
			if err := a.server.Serve(a.telemetry); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: telemetry server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	slog.Info("app running", "server", a.cfg.Server.URL, "mode", a.cfg.Capture.Mode)
	return g.Wait()
}

// Initialize acquires the microphone with the configured constraints.
func (a *App) Initialize(ctx context.Context) error {
	c := a.cfg.Capture.Constraints
	return a.controller.Initialize(ctx, capture.Constraints{
		EchoCancellation: c.EchoCancellation,
		NoiseSuppression: c.NoiseSuppression,
		AutoGainControl:  c.AutoGainControl,
	})
}

// WaitConnected blocks until the server channel is connected or ctx is done.
func (a *App) WaitConnected(ctx context.Context) error {
	t := time.NewTicker(connectPoll)
	defer t.Stop()
	for !a.channel.Connected() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("app: waiting for server: %w", ctx.Err())
		case <-t.C:
		}
	}
	return nil
}

// Replay records one utterance and waits for the NPC's answer. It is meant
// for scripted runs with a recorder that ends capture on its own, such as a
// WAV file replayed through the opus recorder; Run must be running. The
// utterance is also stopped when ctx is done.
func (a *App) Replay(ctx context.Context, replies <-chan types.NpcReply) (types.NpcReply, error) {
	if err := a.WaitConnected(ctx); err != nil {
		return types.NpcReply{}, err
	}
	if !a.controller.Initialized() {
		if err := a.Initialize(ctx); err != nil {
			return types.NpcReply{}, err
		}
	}
	if !a.controller.Start() {
		return types.NpcReply{}, fmt.Errorf("app: could not start recording in state %s", a.controller.State())
	}
	slog.Info("app: replaying utterance")

	select {
	case r := <-replies:
		return r, nil
	case <-ctx.Done():
		a.controller.Stop()
		return types.NpcReply{}, fmt.Errorf("%w: %w", ErrNoReply, ctx.Err())
	}
}

// Reload applies a changed configuration. The log level and the NPC name
// take effect immediately; other changes are logged as needing a restart.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.NPCNameChanged {
		a.presenter.SetNPCName(d.NewNPCName)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		if a.telemetry != nil {
			// Closing an already closed listener is harmless.
			_ = a.telemetry.Close()
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
