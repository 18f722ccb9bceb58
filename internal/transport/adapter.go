package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gpericol/BurberOste/internal/observe"
	"github.com/gpericol/BurberOste/internal/status"
	"github.com/gpericol/BurberOste/pkg/audio"
	"github.com/gpericol/BurberOste/pkg/types"
)

// Sender delivers envelopes. [*Channel] is the production implementation.
type Sender interface {
	Send(env Envelope) error
}

// ReplyHandler receives decoded server replies.
type ReplyHandler interface {
	// Reply receives an npc_response payload exactly as the server sent it.
	Reply(r types.NpcReply)

	// Transcription receives a transcription_result text.
	Transcription(text string)
}

// ReplyFuncs adapts plain functions to [ReplyHandler]. Nil fields are
// skipped.
type ReplyFuncs struct {
	OnReply         func(types.NpcReply)
	OnTranscription func(string)
}

// Reply implements [ReplyHandler].
func (f ReplyFuncs) Reply(r types.NpcReply) {
	if f.OnReply != nil {
		f.OnReply(r)
	}
}

// Transcription implements [ReplyHandler].
func (f ReplyFuncs) Transcription(text string) {
	if f.OnTranscription != nil {
		f.OnTranscription(text)
	}
}

const defaultAdapterQueue = 32

// AdapterConfig configures an [Adapter].
type AdapterConfig struct {
	// Mode must match the capture controller's mode.
	Mode audio.DeliveryMode

	// Sender delivers encoded envelopes. Required.
	Sender Sender

	// Status receives connection, reply and failure status lines. Optional.
	Status status.Sink

	// Replies receives inbound replies. Optional.
	Replies ReplyHandler

	// QueueSize bounds the encode queue. Defaults to 32.
	QueueSize int

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

type jobKind int

const (
	jobStart jobKind = iota
	jobSegment
	jobStop
)

type job struct {
	kind      jobKind
	sessionID string
	segment   audio.Segment
}

// Adapter bridges the capture controller and the [Channel]. It implements
// the controller's segment sink: every call only enqueues, and a single
// goroutine started by Run encodes and sends in enqueue order, so start and
// stop brackets never overtake audio.
type Adapter struct {
	cfg   AdapterConfig
	queue chan job

	mu        sync.Mutex
	failedKey string
	lastFinal time.Time
}

// NewAdapter validates cfg and returns an adapter. Call Run to start
// delivery.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if !cfg.Mode.IsValid() {
		return nil, fmt.Errorf("transport: invalid delivery mode %q", cfg.Mode)
	}
	if cfg.Sender == nil {
		return nil, errors.New("transport: sender is required")
	}
	if cfg.Status == nil {
		cfg.Status = status.Discard
	}
	if cfg.Replies == nil {
		cfg.Replies = ReplyFuncs{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultAdapterQueue
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Adapter{cfg: cfg, queue: make(chan job, cfg.QueueSize)}, nil
}

// NotifyStart queues start_recording. It is a no-op in single mode.
func (a *Adapter) NotifyStart(sessionID string) {
	if a.cfg.Mode != audio.DeliveryStreaming {
		return
	}
	a.enqueue(job{kind: jobStart, sessionID: sessionID})
}

// SendSegment queues seg for encoding and delivery.
func (a *Adapter) SendSegment(seg audio.Segment) {
	a.enqueue(job{kind: jobSegment, sessionID: seg.SessionID, segment: seg})
}

// NotifyStop queues stop_recording. It is a no-op in single mode.
func (a *Adapter) NotifyStop(sessionID string) {
	if a.cfg.Mode != audio.DeliveryStreaming {
		return
	}
	a.enqueue(job{kind: jobStop, sessionID: sessionID})
}

func (a *Adapter) enqueue(j job) {
	select {
	case a.queue <- j:
	default:
		a.deliveryFailed(context.Background(), j.sessionID, "queue_full", ErrQueueFull)
	}
}

// Run encodes and sends queued jobs until ctx is cancelled. Jobs still queued
// at that point are dropped.
func (a *Adapter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-a.queue:
			a.deliver(ctx, j)
		}
	}
}

func (a *Adapter) deliver(ctx context.Context, j job) {
	// The brackets carry no payload; the server keys a recording by its
	// connection.
	var env Envelope
	switch j.kind {
	case jobStart:
		env = Envelope{Event: EventStartRecording}
	case jobStop:
		env = Envelope{Event: EventStopRecording}
	case jobSegment:
		a.deliverSegment(ctx, j.segment)
		return
	}
	if err := a.cfg.Sender.Send(env); err != nil {
		a.deliveryFailed(ctx, j.sessionID, failureReason(err), err)
		return
	}
	a.cfg.Metrics.RecordSent(ctx, env.Event, 0)
	slog.Debug("transport: sent", "event", env.Event, "session_id", j.sessionID)
}

func (a *Adapter) deliverSegment(ctx context.Context, seg audio.Segment) {
	event := EventCompleteAudio
	if a.cfg.Mode == audio.DeliveryStreaming {
		event = EventAudioData
	}

	ctx, span := observe.StartSpan(ctx, "transport.send_segment",
		trace.WithAttributes(
			attribute.String("event", event),
			attribute.String("session_id", seg.SessionID),
			attribute.Int("seq", seg.Seq),
			attribute.Int("bytes", seg.Len()),
			attribute.Bool("final", seg.Final),
		),
	)
	defer span.End()

	env, err := NewEnvelope(event, EncodeDataURL(seg.MimeType, seg.Data))
	if err == nil {
		err = a.cfg.Sender.Send(env)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.deliveryFailed(ctx, seg.SessionID, failureReason(err), err)
		return
	}

	a.cfg.Metrics.RecordSent(ctx, event, seg.Len())
	if seg.Final {
		a.mu.Lock()
		a.lastFinal = time.Now()
		a.mu.Unlock()
	}
	observe.Logger(ctx).Debug("transport: segment sent",
		"event", event, "session_id", seg.SessionID, "seq", seg.Seq, "bytes", seg.Len())
}

// connectionKey groups channel-side write failures, which carry no session,
// so that one dropped connection yields one status line.
const connectionKey = "connection"

// HandleDeliveryFailure reports an envelope the channel accepted but could
// not write. Register it with [Channel.OnDeliveryFailure].
func (a *Adapter) HandleDeliveryFailure(env Envelope, err error) {
	a.deliveryFailed(context.Background(), connectionKey, failureReason(err), fmt.Errorf("%s: %w", env.Event, err))
}

// deliveryFailed reports a failure once per key: a recording session, or
// the current connection.
func (a *Adapter) deliveryFailed(ctx context.Context, key, reason string, err error) {
	a.cfg.Metrics.RecordDeliveryFailure(ctx, reason)
	slog.Warn("transport: delivery failed", "key", key, "reason", reason, "err", err)

	a.mu.Lock()
	repeat := key == a.failedKey
	a.failedKey = key
	a.mu.Unlock()
	if repeat {
		return
	}
	status.Report(a.cfg.Status, status.EventDeliveryFailed, status.MessageDeliveryFailed+err.Error())
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	default:
		return "write"
	}
}

// HandleMessage dispatches an inbound envelope. Register it with
// [Channel.OnMessage].
func (a *Adapter) HandleMessage(env Envelope) {
	ctx := context.Background()
	a.cfg.Metrics.RecordReceived(ctx, env.Event)

	switch env.Event {
	case EventNpcResponse:
		var r types.NpcReply
		if err := env.Decode(&r); err != nil {
			slog.Warn("transport: dropping reply", "err", err)
			return
		}
		a.mu.Lock()
		if !a.lastFinal.IsZero() {
			a.cfg.Metrics.ReplyLatency.Record(ctx, time.Since(a.lastFinal).Seconds())
			a.lastFinal = time.Time{}
		}
		a.mu.Unlock()
		slog.Info("transport: npc replied", "npc", r.NpcName, "chars", len(r.Text))
		a.cfg.Replies.Reply(r)
		status.Report(a.cfg.Status, status.EventReplied, status.MessageReplied)

	case EventTranscriptionResult:
		var tr types.Transcription
		if err := env.Decode(&tr); err != nil {
			slog.Warn("transport: dropping transcription", "err", err)
			return
		}
		a.cfg.Replies.Transcription(tr.Text)
		status.Report(a.cfg.Status, status.EventTranscribed, status.MessageTranscribed)

	case EventError:
		var se types.ServerError
		if err := env.Decode(&se); err != nil {
			slog.Warn("transport: malformed error event", "err", err)
			se.Message = "unknown server error"
		}
		slog.Warn("transport: server error", "message", se.Message)
		status.Report(a.cfg.Status, status.EventServerError, status.MessageServerError+se.Message)

	case EventConnectResponse:
		slog.Debug("transport: server greeting", "data", string(env.Data))

	default:
		slog.Debug("transport: ignoring unknown event", "event", env.Event)
	}
}

// HandleState reports connection changes. Register it with
// [Channel.OnState].
func (a *Adapter) HandleState(s ConnState, err error) {
	switch s {
	case StateConnected:
		a.mu.Lock()
		a.failedKey = ""
		a.mu.Unlock()
		status.Report(a.cfg.Status, status.EventConnected, status.MessageConnected)
	case StateReconnecting:
		status.Report(a.cfg.Status, status.EventReconnecting, status.MessageReconnecting)
	case StateDisconnected:
		slog.Debug("transport: disconnected", "err", err)
		status.Report(a.cfg.Status, status.EventDisconnected, status.MessageDisconnected)
	}
}

// Attach registers the adapter's handlers on ch.
func (a *Adapter) Attach(ch *Channel) {
	ch.OnMessage(a.HandleMessage)
	ch.OnState(a.HandleState)
	ch.OnDeliveryFailure(a.HandleDeliveryFailure)
}
