package recorder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"layeh.com/gopus"

	"github.com/gpericol/BurberOste/internal/capture"
	"github.com/gpericol/BurberOste/pkg/audio"
)

// OpusMime is the content type produced by the Opus recorder: raw Opus
// packets, each preceded by its length as a big-endian uint16.
const OpusMime = "audio/opus;framing=len16"

// Opus encodes 48 kHz mono at 20 ms per packet.
const (
	opusSampleRate = 48000
	opusChannels   = 1
	opusFrameMs    = 20
	opusFrameSize  = opusSampleRate * opusFrameMs / 1000 // 960
	opusMaxPacket  = 4000
	opusBitrate    = 32000
)

var opusFormat = audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}

// PCMSource provides 16-bit PCM for the Opus recorder. Open is called once
// per recording.
type PCMSource interface {
	Open() (audio.Format, io.ReadCloser, error)
}

// WAVFile is a [PCMSource] reading a 16-bit PCM WAV file.
type WAVFile struct {
	Path string
}

// Open implements [PCMSource].
func (w WAVFile) Open() (audio.Format, io.ReadCloser, error) {
	f, err := os.Open(w.Path)
	if err != nil {
		return audio.Format{}, nil, fmt.Errorf("recorder: open %s: %w", w.Path, err)
	}
	format, pcm, err := audio.ReadWAV(f)
	if err != nil {
		_ = f.Close()
		return audio.Format{}, nil, fmt.Errorf("recorder: %s: %w", w.Path, err)
	}
	return format, readCloser{Reader: pcm, Closer: f}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// OpusConfig configures [OpusMicrophone].
type OpusConfig struct {
	// Source provides the PCM to encode. Required.
	Source PCMSource

	// Bitrate in bits per second. Default: 32000.
	Bitrate int

	// Realtime releases frames at playback speed, like a live microphone.
	Realtime bool
}

// OpusMicrophone encodes a PCM source with libopus in process. Every
// recording replays the source from the beginning; reaching its end ends the
// recording as if the host had stopped capture.
type OpusMicrophone struct {
	cfg OpusConfig
}

// NewOpusMicrophone validates cfg.
func NewOpusMicrophone(cfg OpusConfig) (*OpusMicrophone, error) {
	if cfg.Source == nil {
		return nil, errors.New("recorder: opus source is required")
	}
	if cfg.Bitrate <= 0 {
		cfg.Bitrate = opusBitrate
	}
	return &OpusMicrophone{cfg: cfg}, nil
}

// Acquire opens the source once to check that it is readable.
func (m *OpusMicrophone) Acquire(ctx context.Context, c capture.Constraints, h capture.EventHandler) (capture.Recorder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	format, rc, err := m.cfg.Source.Open()
	if err != nil {
		return nil, capture.NewAcquisitionError(err.Error(), errors.Join(capture.ErrNoDevice, err))
	}
	_ = rc.Close()
	slog.Debug("recorder: opus source ready", "format", format, "processing", c != capture.Constraints{})
	return &opusRecorder{cfg: m.cfg, handler: h}, nil
}

type opusRecorder struct {
	cfg     OpusConfig
	handler capture.EventHandler

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

func (r *opusRecorder) Start(timeslice time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("recorder: closed")
	}
	if r.cancel != nil {
		return errors.New("recorder: already recording")
	}

	format, src, err := r.cfg.Source.Open()
	if err != nil {
		return err
	}
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("recorder: create opus encoder: %w", err)
	}
	enc.SetBitrate(r.cfg.Bitrate)

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	pr, pw := io.Pipe()
	go func() {
		err := encodePackets(ctx, enc, src, format, r.cfg.Realtime, pw)
		_ = src.Close()
		_ = pw.CloseWithError(err)
	}()
	go r.run(pr, timeslice, r.done)
	return nil
}

func (r *opusRecorder) run(pr *io.PipeReader, timeslice time.Duration, done chan struct{}) {
	defer close(done)
	r.handler(capture.Event{Kind: capture.EventStarted})
	err := pump(pr, timeslice, func(b []byte) {
		r.handler(capture.Event{Kind: capture.EventData, Data: b})
	})

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()

	if err != nil {
		r.handler(capture.Event{Kind: capture.EventError, Err: err})
		return
	}
	r.handler(capture.Event{Kind: capture.EventStopped})
}

// Stop ends the replay; already encoded packets are still delivered.
func (r *opusRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

func (r *opusRecorder) MimeType() string { return OpusMime }

func (r *opusRecorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// encodePackets converts src to 48 kHz mono, encodes it in 20 ms Opus
// packets and writes them length-prefixed to w. The final partial frame is
// padded with silence. Cancelling ctx ends the stream cleanly.
func encodePackets(ctx context.Context, enc *gopus.Encoder, src io.Reader, format audio.Format, realtime bool, w io.Writer) error {
	frames := audio.ConvertStream(audio.StreamFrames(ctx, src, format, opusFrameMs*time.Millisecond, realtime), opusFormat)
	defer audio.Drain(frames)

	const frameBytes = opusFrameSize * 2 * opusChannels
	var pending []byte
	write := func(pcm []byte) error {
		packet, err := enc.Encode(bytesToInt16s(pcm), opusFrameSize, opusMaxPacket)
		if err != nil {
			return fmt.Errorf("recorder: opus encode: %w", err)
		}
		var prefix [2]byte
		binary.BigEndian.PutUint16(prefix[:], uint16(len(packet)))
		if _, err := w.Write(prefix[:]); err != nil {
			return err
		}
		_, err = w.Write(packet)
		return err
	}

	for frame := range frames {
		pending = append(pending, frame.Data...)
		for len(pending) >= frameBytes {
			if err := write(pending[:frameBytes]); err != nil {
				return err
			}
			pending = pending[frameBytes:]
		}
	}
	if len(pending) > 0 && ctx.Err() == nil {
		padded := make([]byte, frameBytes)
		copy(padded, pending)
		return write(padded)
	}
	return nil
}

// bytesToInt16s converts little-endian bytes to int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return pcm
}

// SplitPackets parses a length-prefixed Opus stream into packets. A
// truncated trailing packet is reported as io.ErrUnexpectedEOF.
func SplitPackets(data []byte) ([][]byte, error) {
	var packets [][]byte
	for len(data) > 0 {
		if len(data) < 2 {
			return packets, io.ErrUnexpectedEOF
		}
		n := int(binary.BigEndian.Uint16(data))
		data = data[2:]
		if len(data) < n {
			return packets, io.ErrUnexpectedEOF
		}
		packets = append(packets, data[:n])
		data = data[n:]
	}
	return packets, nil
}
