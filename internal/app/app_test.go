package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/gpericol/BurberOste/internal/app"
	"github.com/gpericol/BurberOste/internal/capture/mock"
	"github.com/gpericol/BurberOste/internal/config"
	"github.com/gpericol/BurberOste/internal/observe"
	"github.com/gpericol/BurberOste/internal/transport"
	"github.com/gpericol/BurberOste/internal/ui"
	"github.com/gpericol/BurberOste/pkg/audio"
	"github.com/gpericol/BurberOste/pkg/types"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// npcServer speaks the Socket.IO handshake on one connection, records every
// event it receives and answers complete_audio with reply.
type npcServer struct {
	reply types.NpcReply

	mu       sync.Mutex
	received []transport.Envelope
}

func (s *npcServer) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.received))
	for i, env := range s.received {
		out[i] = env.Event
	}
	return out
}

func (s *npcServer) envelopes() []transport.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Envelope(nil), s.received...)
}

func (s *npcServer) start(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/socket.io/" || r.URL.Query().Get("EIO") != "4" {
			http.NotFound(w, r)
			return
		}
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		if err := conn.Write(ctx, websocket.MessageText, []byte(`0{"sid":"e1","pingInterval":25000,"pingTimeout":20000}`)); err != nil {
			return
		}
		if _, data, err := conn.Read(ctx); err != nil || string(data) != "40" {
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, []byte(`40{"sid":"s1"}`)); err != nil {
			return
		}
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			env, ok := parseEvent(data)
			if !ok {
				continue
			}
			s.mu.Lock()
			s.received = append(s.received, env)
			s.mu.Unlock()
			if env.Event != transport.EventCompleteAudio {
				continue
			}
			body, _ := json.Marshal(s.reply)
			raw := []byte(`42["npc_response",` + string(body) + `]`)
			if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

// parseEvent reads a 42["name",data] packet.
func parseEvent(data []byte) (transport.Envelope, bool) {
	body, ok := bytes.CutPrefix(data, []byte("42"))
	if !ok {
		return transport.Envelope{}, false
	}
	var args []json.RawMessage
	if err := json.Unmarshal(body, &args); err != nil || len(args) == 0 {
		return transport.Envelope{}, false
	}
	var env transport.Envelope
	if err := json.Unmarshal(args[0], &env.Event); err != nil {
		return transport.Envelope{}, false
	}
	if len(args) > 1 {
		env.Data = args[1]
	}
	return env, true
}

func testConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.Server.URL = url
	cfg.Server.Reconnect.MaxRetries = 2
	cfg.Server.Reconnect.Backoff = 10 * time.Millisecond
	cfg.Capture.Mode = audio.DeliverySingle
	cfg.Telemetry.ListenAddr = ""
	return cfg
}

// runApp starts a.Run and stops it on cleanup.
func runApp(t *testing.T, a *app.App) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after cancel")
		}
		_ = a.Shutdown(context.Background())
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestNew_InvalidServerURL(t *testing.T) {
	t.Parallel()

	cfg := testConfig("ftp://example.com")
	_, err := app.New(cfg, &mock.Microphone{}, ui.NewConsole(io.Discard, "Oste"), app.WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
	if !strings.Contains(err.Error(), "init channel") {
		t.Errorf("error %q does not name the channel", err)
	}
}

func TestNew_TelemetryListenError(t *testing.T) {
	t.Parallel()

	cfg := testConfig("ws://localhost:1/ws")
	cfg.Telemetry.ListenAddr = "127.0.0.1:-1"
	_, err := app.New(cfg, &mock.Microphone{}, ui.NewConsole(io.Discard, "Oste"), app.WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("expected listen error")
	}
}

func TestApp_ReplayRoundTrip(t *testing.T) {
	t.Parallel()

	level := 7
	srv := &npcServer{reply: types.NpcReply{Text: "Cosa vuoi?", NpcName: "Oste", SympathyLevel: &level}}
	url := srv.start(t)

	rec := &mock.Recorder{}
	console := ui.NewConsole(io.Discard, "Oste")
	a, err := app.New(testConfig(url), &mock.Microphone{Result: rec}, console, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runApp(t, a)

	// Play the recorder side: one chunk, then the host ends the capture.
	go func() {
		for rec.Starts() == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		rec.EmitData([]byte("opus-bytes"))
		rec.EmitStopped()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reply, err := a.Replay(ctx, console.Replies())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if reply.Text != "Cosa vuoi?" {
		t.Errorf("reply text = %q", reply.Text)
	}
	if got, ok := reply.Sympathy(); !ok || got != 7 {
		t.Errorf("sympathy = %d, %v", got, ok)
	}

	events := srv.events()
	if len(events) != 1 || events[0] != transport.EventCompleteAudio {
		t.Errorf("server received %v, want [complete_audio]", events)
	}
	if a.Controller().IsActive() {
		t.Error("controller still recording after reply")
	}
}

func TestApp_StreamingDefaultsReassembleCapture(t *testing.T) {
	t.Parallel()

	srv := &npcServer{}
	url := srv.start(t)

	cfg := config.Default()
	cfg.Server.URL = url
	cfg.Capture.Mode = audio.DeliveryStreaming
	cfg.Telemetry.ListenAddr = ""
	config.ApplyDefaults(cfg)

	clock := mock.NewClock(time.Unix(0, 0))
	rec := &mock.Recorder{}
	a, err := app.New(cfg, &mock.Microphone{Result: rec}, ui.NewConsole(io.Discard, "Oste"),
		app.WithMetrics(testMetrics(t)), app.WithClock(clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runApp(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.WaitConnected(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "microphone", a.Controller().Initialized)
	if !a.Controller().Start() {
		t.Fatal("Start refused")
	}

	var captured []byte
	for i := 0; i < 14; i++ {
		clock.Advance(cfg.Capture.Timeslice)
		chunk := []byte{byte(i), byte(i), byte(i)}
		captured = append(captured, chunk...)
		rec.EmitData(chunk)
	}
	a.Controller().Stop()
	rec.EmitStopped()

	waitFor(t, "stop_recording", func() bool {
		ev := srv.events()
		return len(ev) > 0 && ev[len(ev)-1] == transport.EventStopRecording
	})

	envs := srv.envelopes()
	if envs[0].Event != transport.EventStartRecording || len(envs[0].Data) != 0 {
		t.Errorf("first event = %s %s, want bare start_recording", envs[0].Event, envs[0].Data)
	}
	var got []byte
	for _, env := range envs[1 : len(envs)-1] {
		if env.Event != transport.EventAudioData {
			t.Fatalf("unexpected %s between the brackets", env.Event)
		}
		var dataURL string
		if err := env.Decode(&dataURL); err != nil {
			t.Fatalf("audio_data payload: %v", err)
		}
		_, data, err := transport.DecodeDataURL(dataURL)
		if err != nil {
			t.Fatalf("DecodeDataURL: %v", err)
		}
		got = append(got, data...)
	}
	if len(envs) < 4 {
		t.Errorf("got %d events, want several audio_data flushes", len(envs))
	}
	if !bytes.Equal(got, captured) {
		t.Errorf("reassembled audio = %v, want %v", got, captured)
	}
}

func TestApp_ReplayTimesOut(t *testing.T) {
	t.Parallel()

	srv := &npcServer{}
	url := srv.start(t)

	rec := &mock.Recorder{}
	console := ui.NewConsole(io.Discard, "Oste")
	a, err := app.New(testConfig(url), &mock.Microphone{Result: rec}, console, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runApp(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err = a.Replay(ctx, console.Replies())
	if !errors.Is(err, app.ErrNoReply) {
		t.Fatalf("Replay err = %v, want ErrNoReply", err)
	}
	if rec.Stops() == 0 {
		t.Error("recorder was not stopped after the deadline")
	}
}

func TestApp_TelemetryReadiness(t *testing.T) {
	t.Parallel()

	srv := &npcServer{}
	url := srv.start(t)

	cfg := testConfig(url)
	cfg.Telemetry.ListenAddr = "127.0.0.1:0"
	a, err := app.New(cfg, &mock.Microphone{}, ui.NewConsole(io.Discard, "Oste"), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	addr := a.TelemetryAddr()
	if addr == nil {
		t.Fatal("TelemetryAddr is nil with a listen address configured")
	}
	runApp(t, a)

	base := "http://" + addr.String()
	waitFor(t, "readyz 200", func() bool {
		resp, err := http.Get(base + "/readyz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d", resp.StatusCode)
	}
}

func TestApp_NotReadyWithoutMicrophone(t *testing.T) {
	t.Parallel()

	srv := &npcServer{}
	url := srv.start(t)

	cfg := testConfig(url)
	cfg.Telemetry.ListenAddr = "127.0.0.1:0"
	mic := &mock.Microphone{AcquireError: errors.New("no device")}
	a, err := app.New(cfg, mic, ui.NewConsole(io.Discard, "Oste"), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runApp(t, a)

	waitFor(t, "acquire attempt", func() bool { return mic.CallCount() > 0 })
	resp, err := http.Get("http://" + a.TelemetryAddr().String() + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if !bytes.Contains(body, []byte("microphone")) {
		t.Errorf("body %s does not name the microphone", body)
	}
}

func TestApp_RunSurvivesUnreachableServer(t *testing.T) {
	t.Parallel()

	// Reserve a port, then free it so dialing is refused.
	reserved := httptest.NewServer(http.NotFoundHandler())
	url := reserved.URL
	reserved.Close()

	a, err := app.New(testConfig(url), &mock.Microphone{}, ui.NewConsole(io.Discard, "Oste"), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Errorf("Run returned %v after the server gave up, want nil", err)
	}
	if !a.Controller().Initialized() {
		t.Error("microphone should still be acquired without a server")
	}
	rep := a.Readiness(context.Background())
	if rep.Ready() || rep.Checks["microphone"] != "ok" || rep.Checks["channel"] == "ok" {
		t.Errorf("readiness = %+v, want microphone ok and channel failing", rep)
	}
	_ = a.Shutdown(context.Background())
}

type namedPresenter struct {
	*ui.Console
	mu   sync.Mutex
	name string
}

func (p *namedPresenter) SetNPCName(name string) {
	p.mu.Lock()
	p.name = name
	p.mu.Unlock()
	p.Console.SetNPCName(name)
}

func TestApp_Reload(t *testing.T) {
	t.Parallel()

	p := &namedPresenter{Console: ui.NewConsole(io.Discard, "Oste")}
	var level slog.LevelVar
	old := testConfig("ws://localhost:1/ws")
	a, err := app.New(old, &mock.Microphone{}, p, app.WithMetrics(testMetrics(t)), app.WithLogLevel(&level))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	next := testConfig("ws://localhost:1/ws")
	next.Client.LogLevel = config.LogDebug
	next.NPC.Name = "Gino"
	next.Capture.MaxDuration = 3 * time.Second
	a.Reload(old, next)

	if level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", level.Level())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.name != "Gino" {
		t.Errorf("npc name = %q, want Gino", p.name)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	rec := &mock.Recorder{}
	a, err := app.New(testConfig("ws://localhost:1/ws"), &mock.Microphone{Result: rec}, ui.NewConsole(io.Discard, "Oste"), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if a.Controller().Start() {
		t.Error("Start succeeded after Shutdown")
	}
}

func TestShutdown_ExpiredContext(t *testing.T) {
	t.Parallel()

	a, err := app.New(testConfig("ws://localhost:1/ws"), &mock.Microphone{}, ui.NewConsole(io.Discard, "Oste"), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown err = %v, want context.Canceled", err)
	}
}
