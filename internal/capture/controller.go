package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gpericol/BurberOste/internal/observe"
	"github.com/gpericol/BurberOste/internal/status"
	"github.com/gpericol/BurberOste/pkg/audio"
)

// Defaults applied by [New] to zero-valued [Config] fields.
const (
	DefaultProgressInterval = 100 * time.Millisecond
	DefaultFlushInterval    = time.Second
	DefaultTimeslice        = 250 * time.Millisecond
	DefaultFinalizeTimeout  = 2 * time.Second
)

// State is the controller lifecycle state.
type State int32

const (
	// StateIdle means no recording is in progress.
	StateIdle State = iota

	// StateRecording means the recorder is capturing audio.
	StateRecording

	// StateStopping means a stop was requested and the controller is waiting
	// for the recorder to flush.
	StateStopping
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config configures a [Controller].
type Config struct {
	// Mode selects single or streaming delivery. Required.
	Mode audio.DeliveryMode

	// MaxDuration stops a recording automatically. Zero means no limit, in
	// which case no progress is reported either.
	MaxDuration time.Duration

	// ProgressInterval is the progress report period. Default: 100ms.
	ProgressInterval time.Duration

	// FlushInterval is the streaming flush period. Default: 1s.
	FlushInterval time.Duration

	// Timeslice is how often a streaming recorder emits data. Default: 250ms.
	// Single mode always uses zero.
	Timeslice time.Duration

	// FinalizeTimeout bounds how long the controller waits in Stopping for
	// the recorder to report EventStopped. Default: 2s.
	FinalizeTimeout time.Duration

	// RetainSeed keeps the most recent chunk after each streaming flush and
	// prefixes it to the next segment.
	RetainSeed bool

	// Microphone grants the recorder. Required.
	Microphone Microphone

	// Segments receives finished audio. Required.
	Segments SegmentSink

	// Observer receives status, progress and recording updates. Optional.
	Observer Observer

	// Clock defaults to [SystemClock].
	Clock Clock

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Controller is the capture state machine. All exported methods are safe for
// concurrent use.
//
// Collaborators (the recorder, the segment sink and the observer) are called
// with the controller's lock held, in capture order. They must not call
// Start or Stop; IsActive and State are lock free and may be called
// from anywhere.
type Controller struct {
	cfg   Config
	strat strategy

	state atomic.Int32

	mu       sync.Mutex
	recorder Recorder
	session  *session
	gen      uint64
	closed   bool
}

// New validates cfg, fills defaults and selects the delivery strategy.
func New(cfg Config) (*Controller, error) {
	var errs []error
	if !cfg.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("capture: invalid delivery mode %q", cfg.Mode))
	}
	if cfg.Microphone == nil {
		errs = append(errs, errors.New("capture: microphone is required"))
	}
	if cfg.Segments == nil {
		errs = append(errs, errors.New("capture: segment sink is required"))
	}
	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"max duration", cfg.MaxDuration},
		{"progress interval", cfg.ProgressInterval},
		{"flush interval", cfg.FlushInterval},
		{"timeslice", cfg.Timeslice},
		{"finalize timeout", cfg.FinalizeTimeout},
	} {
		if f.d < 0 {
			errs = append(errs, fmt.Errorf("capture: %s must not be negative, got %s", f.name, f.d))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.Timeslice == 0 {
		cfg.Timeslice = DefaultTimeslice
	}
	if cfg.FinalizeTimeout == 0 {
		cfg.FinalizeTimeout = DefaultFinalizeTimeout
	}
	if cfg.Observer == nil {
		cfg.Observer = StatusObserver(status.Discard)
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	c := &Controller{cfg: cfg}
	if cfg.Mode == audio.DeliveryStreaming {
		c.strat = streamingStrategy{
			slice:      cfg.Timeslice,
			interval:   cfg.FlushInterval,
			retainSeed: cfg.RetainSeed,
		}
	} else {
		c.strat = singleStrategy{}
	}
	return c, nil
}

// Mode returns the delivery mode the controller was built with.
func (c *Controller) Mode() audio.DeliveryMode { return c.cfg.Mode }

// State returns the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// IsActive reports whether a recording is in progress.
func (c *Controller) IsActive() bool { return c.State() == StateRecording }

// Initialized reports whether the microphone has been acquired.
func (c *Controller) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recorder != nil
}

// Initialize acquires the microphone. On failure it reports exactly one
// danger status and returns an *[AcquisitionError]; the controller stays
// uninitialized and Start keeps returning false. Calling Initialize on an
// initialized controller is a no-op.
func (c *Controller) Initialize(ctx context.Context, constraints Constraints) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.recorder != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	rec, err := c.cfg.Microphone.Acquire(ctx, constraints, c.handleEvent)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("capture: initialize: %w", ctxErr)
		}
		aerr := asAcquisitionError(err)
		slog.Error("capture: microphone acquisition failed", "reason", aerr.Reason, "err", aerr.Err)
		status.Report(c.cfg.Observer, status.EventAcquireFailed, status.MessageAcquireFailed+aerr.Reason)
		return aerr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.recorder != nil {
		// Lost a race with Close or a concurrent Initialize.
		_ = rec.Close()
		if c.closed {
			return ErrClosed
		}
		return nil
	}
	c.recorder = rec
	slog.Info("capture: microphone ready", "mime", rec.MimeType(), "mode", c.cfg.Mode)
	status.Report(c.cfg.Observer, status.EventReady, status.MessageReady)
	return nil
}

// Start begins a recording. It returns false when the microphone has not
// been acquired, when a recording is already in progress or finishing, or
// when the recorder refuses to start.
func (c *Controller) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recorder == nil {
		slog.Debug("capture: start ignored, microphone not initialized")
		return false
	}
	if st := c.State(); st != StateIdle {
		slog.Debug("capture: start ignored", "state", st)
		return false
	}
	if c.session != nil {
		c.session.stopTimers()
		c.session = nil
	}

	c.gen++
	s := newSession(c.gen, c.cfg.Clock.Now())
	if err := c.recorder.Start(c.strat.timeslice()); err != nil {
		slog.Error("capture: recorder start failed", "err", err)
		status.Report(c.cfg.Observer, status.EventRecorderFailed, status.MessageRecorderFailed+err.Error())
		return false
	}

	c.session = s
	c.setState(StateRecording)
	c.strat.begin(s, c.cfg.Segments)

	if c.cfg.MaxDuration > 0 {
		s.maxTimer = c.after(s, c.cfg.MaxDuration, c.onMaxDuration)
		s.progressTimer = c.after(s, c.cfg.ProgressInterval, c.onProgress)
	}
	if d := c.strat.flushInterval(); d > 0 {
		s.flushTimer = c.after(s, d, c.onFlush)
	}

	c.cfg.Metrics.RecordStart(context.Background())
	slog.Info("capture: recording started", "session_id", s.id, "mode", c.cfg.Mode, "max_duration", c.cfg.MaxDuration)

	c.cfg.Observer.RecordingChanged(true)
	if c.cfg.MaxDuration > 0 {
		c.cfg.Observer.Progress(0)
		status.Report(c.cfg.Observer, status.EventRecording, fmt.Sprintf(status.MessageListening, formatLimit(c.cfg.MaxDuration)))
	} else {
		status.Report(c.cfg.Observer, status.EventRecording, status.MessageListeningNoLimit)
	}
	return true
}

// Stop ends the current recording. It returns false unless a recording is in
// progress. The segment is delivered once the recorder has flushed.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked(false)
}

// Close discards any recording in progress and releases the microphone.
// Close is idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if s := c.session; s != nil {
		s.stopTimers()
		c.session = nil
		c.setState(StateIdle)
		c.cfg.Metrics.RecordFinish(context.Background(), observe.OutcomeFailed, s.auto, c.cfg.Clock.Now().Sub(s.started))
		slog.Debug("capture: recording discarded on close", "session_id", s.id)
	}
	rec := c.recorder
	c.recorder = nil
	c.mu.Unlock()

	if rec == nil {
		return nil
	}
	if err := rec.Close(); err != nil {
		return fmt.Errorf("capture: close recorder: %w", err)
	}
	return nil
}

// handleEvent applies a recorder event:
//
//	event     Idle          Recording                 Stopping
//	Started   ignore        log                       ignore
//	Data      drop (stale)  buffer                    buffer
//	Stopped   ignore        cancel timers, finalize   finalize
//	Error     report        reset to Idle, report     reset to Idle, report
func (c *Controller) handleEvent(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	st := c.State()

	switch ev.Kind {
	case EventStarted:
		if st == StateRecording {
			slog.Debug("capture: recorder started", "session_id", s.id)
		}

	case EventData:
		if len(ev.Data) == 0 {
			return
		}
		if s == nil || st == StateIdle {
			slog.Debug("capture: dropping stale chunk", "bytes", len(ev.Data))
			return
		}
		s.chunks = append(s.chunks, ev.Data)

	case EventStopped:
		switch st {
		case StateRecording:
			slog.Info("capture: recorder ended capture", "session_id", s.id)
			s.stopCaptureTimers()
			s.stopped = c.cfg.Clock.Now()
			c.setState(StateStopping)
			c.cfg.Observer.RecordingChanged(false)
			c.finalizeLocked()
		case StateStopping:
			c.finalizeLocked()
		}

	case EventError:
		c.failLocked(ev.Err)

	default:
		slog.Warn("capture: unknown recorder event", "kind", ev.Kind)
	}
}

// after arms a timer owned by s. The callback runs under the controller lock
// and is skipped if s is no longer the current session.
func (c *Controller) after(s *session, d time.Duration, fire func(*session)) Timer {
	gen := s.gen
	return c.cfg.Clock.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.session == nil || c.session.gen != gen {
			slog.Debug("capture: ignoring timer from stale session", "generation", gen)
			return
		}
		fire(c.session)
	})
}

func (c *Controller) onMaxDuration(s *session) {
	s.maxTimer = nil
	if c.stopLocked(true) {
		slog.Info("capture: maximum duration reached", "session_id", s.id, "max_duration", c.cfg.MaxDuration)
	}
}

func (c *Controller) onProgress(s *session) {
	s.progressTimer = nil
	if c.State() != StateRecording {
		return
	}
	c.cfg.Observer.Progress(c.progress(s))
	s.progressTimer = c.after(s, c.cfg.ProgressInterval, c.onProgress)
}

func (c *Controller) onFlush(s *session) {
	s.flushTimer = nil
	if c.State() != StateRecording {
		return
	}
	c.strat.flush(s, c.cfg.Segments, c.recorder.MimeType())
	s.flushTimer = c.after(s, c.strat.flushInterval(), c.onFlush)
}

func (c *Controller) onFinalizeTimeout(s *session) {
	s.finalizeTimer = nil
	if c.State() != StateStopping {
		return
	}
	slog.Warn("capture: recorder did not report stop in time, finalizing",
		"session_id", s.id, "timeout", c.cfg.FinalizeTimeout)
	c.finalizeLocked()
}

// progress returns the elapsed share of the maximum duration, clamped to
// [0, 100].
func (c *Controller) progress(s *session) float64 {
	elapsed := c.cfg.Clock.Now().Sub(s.started)
	p := float64(elapsed) / float64(c.cfg.MaxDuration) * 100
	return min(max(p, 0), 100)
}

// stopLocked moves Recording to Stopping. c.mu must be held.
func (c *Controller) stopLocked(auto bool) bool {
	if st := c.State(); st != StateRecording {
		slog.Debug("capture: stop ignored", "state", st)
		return false
	}
	s := c.session
	s.stopCaptureTimers()
	s.auto = auto
	s.stopped = c.cfg.Clock.Now()
	c.setState(StateStopping)
	c.cfg.Observer.RecordingChanged(false)
	if c.cfg.MaxDuration > 0 {
		c.cfg.Observer.Progress(c.progress(s))
	}

	if err := c.recorder.Stop(); err != nil {
		c.failLocked(err)
		return false
	}
	s.finalizeTimer = c.after(s, c.cfg.FinalizeTimeout, c.onFinalizeTimeout)
	slog.Info("capture: recording stopped", "session_id", s.id, "auto", auto, "elapsed", s.stopped.Sub(s.started))
	status.Report(c.cfg.Observer, status.EventProcessing, status.MessageProcessing)
	return true
}

// finalizeLocked hands buffered audio to the sink and returns to Idle.
// c.mu must be held and the state must be Stopping.
func (c *Controller) finalizeLocked() {
	s := c.session
	s.stopTimers()
	c.strat.finalize(s, c.cfg.Segments, c.recorder.MimeType())
	c.session = nil
	c.setState(StateIdle)

	outcome := observe.OutcomeDelivered
	if !s.emitted {
		outcome = observe.OutcomeEmpty
	}
	c.cfg.Metrics.RecordFinish(context.Background(), outcome, s.auto, s.stopped.Sub(s.started))
	slog.Info("capture: recording finalized", "session_id", s.id, "segments", s.seq)

	if s.emitted {
		status.Report(c.cfg.Observer, status.EventAwaitingReply, status.MessageAwaitingReply)
	} else {
		status.Report(c.cfg.Observer, status.EventNothingCaptured, status.MessageNothingCaptured)
	}
}

// failLocked abandons the current session after a recorder error and
// reports it once. Buffered audio is discarded. c.mu must be held.
func (c *Controller) failLocked(err error) {
	if err == nil {
		err = errors.New("unknown recorder error")
	}
	slog.Error("capture: recorder error", "err", err, "state", c.State())

	if s := c.session; s != nil {
		wasRecording := c.State() == StateRecording
		s.stopTimers()
		if s.stopped.IsZero() {
			s.stopped = c.cfg.Clock.Now()
		}
		c.session = nil
		c.setState(StateIdle)
		c.cfg.Metrics.RecordFinish(context.Background(), observe.OutcomeFailed, s.auto, s.stopped.Sub(s.started))
		if wasRecording {
			c.cfg.Observer.RecordingChanged(false)
		}
	}
	status.Report(c.cfg.Observer, status.EventRecorderFailed, status.MessageRecorderFailed+err.Error())
}

func (c *Controller) setState(s State) { c.state.Store(int32(s)) }

// formatLimit renders a duration limit for the player, "8s" rather than
// "8.000s".
func formatLimit(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	return d.String()
}
