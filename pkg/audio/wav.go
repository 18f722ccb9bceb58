package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrUnsupportedWAV is returned by [ReadWAV] for WAV files that are not
// uncompressed 16-bit PCM.
var ErrUnsupportedWAV = errors.New("audio: only 16-bit PCM WAV is supported")

// ReadWAV parses the RIFF header of a WAV stream and returns its format and a
// reader limited to the sample data. Chunks other than "fmt " and "data" are
// skipped.
func ReadWAV(r io.Reader) (Format, io.Reader, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Format{}, nil, fmt.Errorf("audio: read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Format{}, nil, errors.New("audio: not a RIFF/WAVE stream")
	}

	var (
		format  Format
		haveFmt bool
		hdr     [8]byte
	)
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return Format{}, nil, fmt.Errorf("audio: read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, nil, fmt.Errorf("audio: fmt chunk too short (%d bytes)", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return Format{}, nil, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			tag := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if tag != 1 || bits != 16 {
				return Format{}, nil, fmt.Errorf("%w (format tag %d, %d bits)", ErrUnsupportedWAV, tag, bits)
			}
			format = Format{
				Channels:   int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
			}
			haveFmt = true
			if size%2 == 1 {
				if _, err := io.CopyN(io.Discard, r, 1); err != nil {
					return Format{}, nil, fmt.Errorf("audio: skip fmt padding: %w", err)
				}
			}
		case "data":
			if !haveFmt {
				return Format{}, nil, errors.New("audio: data chunk before fmt chunk")
			}
			return format, io.LimitReader(r, size), nil
		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return Format{}, nil, fmt.Errorf("audio: skip %q chunk: %w", id, err)
			}
		}
	}
}

// StreamFrames reads PCM from r in frames of frameDur and delivers them on the
// returned channel, which is closed at EOF, on a read error, or when ctx is
// cancelled. With pace set, frames are released in real time so the stream
// behaves like a live microphone.
func StreamFrames(ctx context.Context, r io.Reader, f Format, frameDur time.Duration, pace bool) <-chan AudioFrame {
	out := make(chan AudioFrame, 16)
	frameBytes := int(int64(f.SampleRate)*int64(frameDur)/int64(time.Second)) * 2 * max(f.Channels, 1)

	go func() {
		defer close(out)
		if frameBytes <= 0 {
			return
		}

		var ticker *time.Ticker
		if pace {
			ticker = time.NewTicker(frameDur)
			defer ticker.Stop()
		}

		var ts time.Duration
		for {
			buf := make([]byte, frameBytes)
			n, err := io.ReadFull(r, buf)
			if n > 0 {
				frame := AudioFrame{Data: buf[:n-n%(2*max(f.Channels, 1))], SampleRate: f.SampleRate, Channels: f.Channels, Timestamp: ts}
				ts += frame.Duration()
				if ticker != nil {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
					}
				}
				select {
				case <-ctx.Done():
					return
				case out <- frame:
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

// WriteWAV writes pcm as a canonical 16-bit PCM WAV file.
func WriteWAV(w io.Writer, f Format, pcm []byte) error {
	le := binary.LittleEndian
	channels := max(f.Channels, 1)
	hdr := make([]byte, 44)
	copy(hdr[0:], "RIFF")
	le.PutUint32(hdr[4:], uint32(36+len(pcm)))
	copy(hdr[8:], "WAVE")
	copy(hdr[12:], "fmt ")
	le.PutUint32(hdr[16:], 16)
	le.PutUint16(hdr[20:], 1)
	le.PutUint16(hdr[22:], uint16(channels))
	le.PutUint32(hdr[24:], uint32(f.SampleRate))
	le.PutUint32(hdr[28:], uint32(f.SampleRate*channels*2))
	le.PutUint16(hdr[32:], uint16(channels*2))
	le.PutUint16(hdr[34:], 16)
	copy(hdr[36:], "data")
	le.PutUint32(hdr[40:], uint32(len(pcm)))
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("audio: write wav header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("audio: write wav data: %w", err)
	}
	return nil
}
