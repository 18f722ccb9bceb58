package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz mono".
func (f Format) String() string {
	switch {
	case f.Channels <= 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case f.Channels == 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Converter reshapes frames of one stream into a mono target format. It keeps
// per-stream state and must not be shared between goroutines.
type Converter struct {
	target  Format
	from    Format
	dropped int
}

// NewConverter returns a converter producing mono PCM at target.SampleRate.
func NewConverter(target Format) *Converter {
	return &Converter{target: Format{SampleRate: target.SampleRate, Channels: 1}}
}

// Convert returns frame in the target format. A frame already in that format
// is returned as is. A frame whose length is not a whole number of
// multi-channel samples is dropped and comes back with nil Data.
func (c *Converter) Convert(frame AudioFrame) AudioFrame {
	src := Format{SampleRate: frame.SampleRate, Channels: max(frame.Channels, 1)}
	out := AudioFrame{SampleRate: c.target.SampleRate, Channels: 1, Timestamp: frame.Timestamp}

	if len(frame.Data)%(2*src.Channels) != 0 {
		if c.dropped == 0 {
			slog.Warn("audio: dropping misaligned PCM frame", "bytes", len(frame.Data), "format", src)
		}
		c.dropped++
		return out
	}
	if src == c.target {
		return frame
	}
	if src != c.from {
		slog.Debug("audio: converting source format", "from", src, "to", c.target)
		c.from = src
	}

	samples := DownmixMono(decodeSamples(frame.Data), src.Channels)
	out.Data = encodeSamples(ResampleMono16(samples, src.SampleRate, c.target.SampleRate))
	return out
}

// ConvertStream converts every frame read from in and forwards the non-empty
// results. The returned channel closes after in does.
func ConvertStream(in <-chan AudioFrame, target Format) <-chan AudioFrame {
	out := make(chan AudioFrame, cap(in))
	conv := NewConverter(target)
	go func() {
		defer close(out)
		for frame := range in {
			if f := conv.Convert(frame); len(f.Data) > 0 {
				out <- f
			}
		}
	}()
	return out
}

// DownmixMono averages interleaved samples across channels. The mean of int16
// values always fits in int16, so no clamping is needed.
func DownmixMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		var sum int32
		for _, s := range samples[i*channels : (i+1)*channels] {
			sum += int32(s)
		}
		mono[i] = int16(sum / int32(channels))
	}
	return mono
}

// ResampleMono16 converts mono samples from srcRate to dstRate by linear
// interpolation. Matching rates return the input slice.
func ResampleMono16(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	out := make([]int16, n)
	step := float64(srcRate) / float64(dstRate)
	last := len(samples) - 1

	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		a, b := samples[j], samples[min(j+1, last)]
		frac := pos - float64(j)
		out[i] = int16(float64(a) + (float64(b)-float64(a))*frac)
	}
	return out
}

func decodeSamples(pcm []byte) []int16 {
	s := make([]int16, len(pcm)/2)
	for i := range s {
		s[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return s
}

func encodeSamples(s []int16) []byte {
	pcm := make([]byte, 2*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(v))
	}
	return pcm
}
