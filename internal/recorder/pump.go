// Package recorder provides the host recording facilities behind
// [capture.Microphone]: an ffmpeg subprocess capturing the system microphone
// as WebM/Opus, and an in-process Opus encoder fed from a PCM source such as
// a WAV file.
//
// Both deliver their output through the same slicing pump so that the
// controller sees identical event timing regardless of the backend.
package recorder

import (
	"bytes"
	"errors"
	"io"
	"time"
)

const readBufferSize = 4096

// pump copies r to emit in slices. With a positive timeslice it emits
// whatever accumulated every timeslice; with zero it emits once at EOF.
// Remaining bytes are always emitted before pump returns. It returns the
// first read error other than io.EOF.
func pump(r io.Reader, timeslice time.Duration, emit func([]byte)) error {
	reads := make(chan []byte, 16)
	var readErr error
	go func() {
		defer close(reads)
		buf := make([]byte, readBufferSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				reads <- bytes.Clone(buf[:n])
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr = err
				}
				return
			}
		}
	}()

	var tick <-chan time.Time
	if timeslice > 0 {
		t := time.NewTicker(timeslice)
		defer t.Stop()
		tick = t.C
	}

	var pending []byte
	flush := func() {
		if len(pending) > 0 {
			emit(pending)
			pending = nil
		}
	}
	for {
		select {
		case b, ok := <-reads:
			if !ok {
				flush()
				return readErr
			}
			pending = append(pending, b...)
		case <-tick:
			flush()
		}
	}
}
