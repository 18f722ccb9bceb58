package audio_test

import (
	"bytes"
	"testing"

	"github.com/gpericol/BurberOste/pkg/audio"
)

func TestDeliveryMode_IsValid(t *testing.T) {
	for _, m := range []audio.DeliveryMode{audio.DeliverySingle, audio.DeliveryStreaming} {
		if !m.IsValid() {
			t.Errorf("%q should be valid", m)
		}
	}
	if audio.DeliveryMode("chunked").IsValid() {
		t.Error(`"chunked" should be invalid`)
	}
}

func TestConcat(t *testing.T) {
	a, b := []byte("ab"), []byte("cd")
	got := audio.Concat([][]byte{a, nil, b})
	if !bytes.Equal(got, []byte("abcd")) {
		t.Fatalf("got %q, want %q", got, "abcd")
	}
	got[0] = 'x'
	if a[0] != 'a' {
		t.Error("Concat must not alias its inputs")
	}
}

func TestAudioFrame_Duration(t *testing.T) {
	f := audio.AudioFrame{Data: make([]byte, 1920), SampleRate: 48000, Channels: 1}
	if d := f.Duration(); d.Milliseconds() != 20 {
		t.Errorf("duration: got %v, want 20ms", d)
	}
	if d := (audio.AudioFrame{Data: []byte{1, 2}}).Duration(); d != 0 {
		t.Errorf("unknown format duration: got %v, want 0", d)
	}
}
