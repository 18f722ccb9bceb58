package audio_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/gpericol/BurberOste/pkg/audio"
)

// buildWAV assembles a canonical WAV file with an extra LIST chunk before the
// data chunk.
func buildWAV(t *testing.T, rate, channels, bits int, pcm []byte) []byte {
	t.Helper()
	var b bytes.Buffer
	le := binary.LittleEndian
	list := []byte("INFOabc") // odd length exercises padding

	b.WriteString("RIFF")
	_ = binary.Write(&b, le, uint32(0))
	b.WriteString("WAVE")

	b.WriteString("fmt ")
	_ = binary.Write(&b, le, uint32(16))
	_ = binary.Write(&b, le, uint16(1))
	_ = binary.Write(&b, le, uint16(channels))
	_ = binary.Write(&b, le, uint32(rate))
	_ = binary.Write(&b, le, uint32(rate*channels*bits/8))
	_ = binary.Write(&b, le, uint16(channels*bits/8))
	_ = binary.Write(&b, le, uint16(bits))

	b.WriteString("LIST")
	_ = binary.Write(&b, le, uint32(len(list)))
	b.Write(list)
	b.WriteByte(0)

	b.WriteString("data")
	_ = binary.Write(&b, le, uint32(len(pcm)))
	b.Write(pcm)
	return b.Bytes()
}

func TestReadWAV(t *testing.T) {
	pcm := pcm(1, 2, 3, 4)
	format, data, err := audio.ReadWAV(bytes.NewReader(buildWAV(t, 16000, 1, 16, pcm)))
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if format.SampleRate != 16000 || format.Channels != 1 {
		t.Errorf("format: got %s", format)
	}
	var got bytes.Buffer
	if _, err := got.ReadFrom(data); err != nil {
		t.Fatalf("read data: %v", err)
	}
	if !bytes.Equal(got.Bytes(), pcm) {
		t.Errorf("data: got %v, want %v", got.Bytes(), pcm)
	}
}

func TestReadWAV_Rejects8Bit(t *testing.T) {
	_, _, err := audio.ReadWAV(bytes.NewReader(buildWAV(t, 8000, 1, 8, []byte{1, 2})))
	if !errors.Is(err, audio.ErrUnsupportedWAV) {
		t.Fatalf("expected ErrUnsupportedWAV, got %v", err)
	}
}

func TestReadWAV_NotRIFF(t *testing.T) {
	_, _, err := audio.ReadWAV(bytes.NewReader([]byte("OggS0000000000000000")))
	if err == nil {
		t.Fatal("expected error for non-RIFF input")
	}
}

func TestStreamFrames(t *testing.T) {
	// 1000 Hz mono, 10 ms frames = 10 samples = 20 bytes per frame.
	pcm := make([]byte, 50)
	format := audio.Format{SampleRate: 1000, Channels: 1}

	var frames []audio.AudioFrame
	for f := range audio.StreamFrames(context.Background(), bytes.NewReader(pcm), format, 10*time.Millisecond, false) {
		frames = append(frames, f)
	}
	if len(frames) != 3 {
		t.Fatalf("frames: got %d, want 3", len(frames))
	}
	if len(frames[2].Data) != 10 {
		t.Errorf("tail frame: got %d bytes, want 10", len(frames[2].Data))
	}
	if frames[1].Timestamp != 10*time.Millisecond {
		t.Errorf("frame 1 timestamp: got %v, want 10ms", frames[1].Timestamp)
	}
}

func TestWriteWAV_RoundTrip(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	var b bytes.Buffer
	if err := audio.WriteWAV(&b, audio.Format{SampleRate: 16000, Channels: 2}, pcm); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	if b.Len() != 44+len(pcm) {
		t.Fatalf("file size = %d, want %d", b.Len(), 44+len(pcm))
	}

	f, r, err := audio.ReadWAV(&b)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if f.SampleRate != 16000 || f.Channels != 2 {
		t.Errorf("format = %s, want 16000 Hz stereo", f)
	}
	var got bytes.Buffer
	if _, err := got.ReadFrom(r); err != nil {
		t.Fatalf("read data: %v", err)
	}
	if !bytes.Equal(got.Bytes(), pcm) {
		t.Errorf("data = %v, want %v", got.Bytes(), pcm)
	}
}
