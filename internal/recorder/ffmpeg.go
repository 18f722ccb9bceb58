package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gpericol/BurberOste/internal/capture"
)

// WebMMime is the content type produced by the ffmpeg recorder.
const WebMMime = "audio/webm;codecs=opus"

const (
	defaultBinary  = "ffmpeg"
	defaultBitrate = "32k"
	captureRate    = 48000

	openTimeout  = 5 * time.Second
	stopGrace    = 3 * time.Second
	stderrLimit  = 4096
)

// FFmpegConfig configures [FFmpegMicrophone]. Zero fields take platform
// defaults.
type FFmpegConfig struct {
	// Binary is the ffmpeg executable. Default: "ffmpeg" from PATH.
	Binary string

	// InputFormat is the ffmpeg capture demuxer. Default: pulse on Linux,
	// avfoundation on macOS, dshow on Windows.
	InputFormat string

	// Device is the capture device name for InputFormat.
	Device string

	// Bitrate is the Opus bitrate. Default: "32k".
	Bitrate string
}

// DefaultInput returns the capture demuxer and device for goos.
func DefaultInput(goos string) (format, device string, err error) {
	switch goos {
	case "linux":
		return "pulse", "default", nil
	case "darwin":
		return "avfoundation", ":0", nil
	case "windows":
		return "dshow", "audio=default", nil
	default:
		return "", "", fmt.Errorf("recorder: no default capture device for %s, set recorder.options.input_format and device", goos)
	}
}

// FFmpegMicrophone captures the system microphone through an ffmpeg
// subprocess, one process per recording.
type FFmpegMicrophone struct {
	cfg FFmpegConfig
}

// NewFFmpegMicrophone fills platform defaults into cfg.
func NewFFmpegMicrophone(cfg FFmpegConfig) (*FFmpegMicrophone, error) {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if cfg.Bitrate == "" {
		cfg.Bitrate = defaultBitrate
	}
	if cfg.InputFormat == "" || cfg.Device == "" {
		format, device, err := DefaultInput(runtime.GOOS)
		if err != nil {
			return nil, err
		}
		if cfg.InputFormat == "" {
			cfg.InputFormat = format
		}
		if cfg.Device == "" {
			cfg.Device = device
		}
	}
	return &FFmpegMicrophone{cfg: cfg}, nil
}

// Acquire checks that ffmpeg is installed and can open the capture device.
func (m *FFmpegMicrophone) Acquire(ctx context.Context, c capture.Constraints, h capture.EventHandler) (capture.Recorder, error) {
	bin, err := exec.LookPath(m.cfg.Binary)
	if err != nil {
		return nil, capture.NewAcquisitionError("ffmpeg not found, install it and make sure it is in PATH", capture.ErrNoDevice)
	}
	if c.EchoCancellation {
		slog.Debug("recorder: ffmpeg has no echo cancellation filter, ignoring constraint")
	}

	pctx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()
	trial := exec.CommandContext(pctx, bin,
		"-hide_banner", "-loglevel", "error",
		"-f", m.cfg.InputFormat, "-i", m.cfg.Device,
		"-t", "0.1", "-f", "null", "-",
	)
	var stderr bytes.Buffer
	trial.Stderr = &stderr
	if err := trial.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		reason := strings.TrimSpace(stderr.String())
		if reason == "" {
			reason = err.Error()
		}
		return nil, capture.NewAcquisitionError(reason, errors.Join(capture.ErrNoDevice, err))
	}

	slog.Debug("recorder: ffmpeg capture device ready", "format", m.cfg.InputFormat, "device", m.cfg.Device)
	return &ffmpegRecorder{cfg: m.cfg, bin: bin, constraints: c, handler: h}, nil
}

// ffmpegRecorder runs one ffmpeg process per recording and slices its WebM
// output.
type ffmpegRecorder struct {
	cfg         FFmpegConfig
	bin         string
	constraints capture.Constraints
	handler     capture.EventHandler

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stopping bool
	done     chan struct{}
	closed   bool
}

// ffmpegArgs builds the capture command line.
func ffmpegArgs(cfg FFmpegConfig, c capture.Constraints, timeslice time.Duration) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", cfg.InputFormat, "-i", cfg.Device,
		"-ac", "1", "-ar", strconv.Itoa(captureRate),
	}
	var filters []string
	if c.NoiseSuppression {
		filters = append(filters, "afftdn")
	}
	if c.AutoGainControl {
		filters = append(filters, "dynaudnorm")
	}
	if len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}
	args = append(args, "-c:a", "libopus", "-b:a", cfg.Bitrate)
	if timeslice > 0 {
		args = append(args, "-flush_packets", "1", "-cluster_time_limit", strconv.FormatInt(timeslice.Milliseconds(), 10))
	}
	return append(args, "-f", "webm", "pipe:1")
}

func (r *ffmpegRecorder) Start(timeslice time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("recorder: closed")
	}
	if r.cmd != nil {
		return errors.New("recorder: already recording")
	}

	cmd := exec.Command(r.bin, ffmpegArgs(r.cfg, r.constraints, timeslice)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("recorder: ffmpeg stdout: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("recorder: ffmpeg stdin: %w", err)
	}
	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("recorder: start ffmpeg: %w", err)
	}

	r.cmd = cmd
	r.stdin = stdin
	r.stopping = false
	r.done = make(chan struct{})
	slog.Debug("recorder: ffmpeg started", "pid", cmd.Process.Pid, "timeslice", timeslice)

	go r.run(cmd, stdout, stderr, timeslice, r.done)
	return nil
}

func (r *ffmpegRecorder) run(cmd *exec.Cmd, stdout io.Reader, stderr *limitedBuffer, timeslice time.Duration, done chan struct{}) {
	defer close(done)
	r.handler(capture.Event{Kind: capture.EventStarted})

	readErr := pump(stdout, timeslice, func(b []byte) {
		r.handler(capture.Event{Kind: capture.EventData, Data: b})
	})
	waitErr := cmd.Wait()

	r.mu.Lock()
	requested := r.stopping || r.closed
	r.cmd = nil
	r.stdin = nil
	r.mu.Unlock()

	switch {
	case readErr != nil:
		r.handler(capture.Event{Kind: capture.EventError, Err: fmt.Errorf("recorder: read ffmpeg output: %w", readErr)})
	case waitErr != nil && !requested:
		msg := strings.TrimSpace(stderr.String())
		r.handler(capture.Event{Kind: capture.EventError, Err: fmt.Errorf("recorder: ffmpeg exited: %w: %s", waitErr, msg)})
	default:
		r.handler(capture.Event{Kind: capture.EventStopped})
	}
}

// Stop asks ffmpeg to finish the file by sending "q" on stdin, and kills it
// if it has not exited within a grace period.
func (r *ffmpegRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.stopping {
		return nil
	}
	r.stopping = true
	if _, err := io.WriteString(r.stdin, "q"); err != nil {
		slog.Debug("recorder: ffmpeg stdin closed early", "err", err)
	}
	_ = r.stdin.Close()

	proc, done := r.cmd.Process, r.done
	go func() {
		select {
		case <-done:
		case <-time.After(stopGrace):
			slog.Warn("recorder: ffmpeg did not exit after quit request, killing", "pid", proc.Pid)
			_ = proc.Kill()
		}
	}()
	return nil
}

func (r *ffmpegRecorder) MimeType() string { return WebMMime }

// Close kills a running ffmpeg process and waits for it to exit.
func (r *ffmpegRecorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cmd, done := r.cmd, r.done
	r.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		<-done
	}
	return nil
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		b.buf.Write(p[:min(len(p), room)])
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
