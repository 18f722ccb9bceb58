package capture

import (
	"time"

	"github.com/gpericol/BurberOste/pkg/audio"
)

// strategy decides how captured chunks become segments. It is chosen once
// when the controller is built and never changes.
type strategy interface {
	// timeslice is passed to Recorder.Start.
	timeslice() time.Duration

	// flushInterval is the period of the flush timer, or zero for none.
	flushInterval() time.Duration

	// begin runs when a session enters Recording.
	begin(s *session, sink SegmentSink)

	// flush runs on each flush timer tick while Recording.
	flush(s *session, sink SegmentSink, mime string)

	// finalize runs once when the recorder has stopped. It must leave the
	// session's buffer empty.
	finalize(s *session, sink SegmentSink, mime string)
}

// singleStrategy buffers the whole recording and delivers it as one segment.
type singleStrategy struct{}

func (singleStrategy) timeslice() time.Duration            { return 0 }
func (singleStrategy) flushInterval() time.Duration        { return 0 }
func (singleStrategy) begin(*session, SegmentSink)         {}
func (singleStrategy) flush(*session, SegmentSink, string) {}

func (singleStrategy) finalize(s *session, sink SegmentSink, mime string) {
	if !s.pending() {
		s.chunks = nil
		return
	}
	sink.SendSegment(audio.Segment{
		SessionID: s.id,
		Seq:       s.seq,
		Data:      audio.Concat(s.chunks),
		MimeType:  mime,
		Final:     true,
	})
	s.seq++
	s.emitted = true
	s.chunks = nil
}

// streamingStrategy delivers partial segments every flush interval inside a
// NotifyStart/NotifyStop bracket.
type streamingStrategy struct {
	slice      time.Duration
	interval   time.Duration
	retainSeed bool
}

func (st streamingStrategy) timeslice() time.Duration     { return st.slice }
func (st streamingStrategy) flushInterval() time.Duration { return st.interval }

func (streamingStrategy) begin(s *session, sink SegmentSink) {
	sink.NotifyStart(s.id)
}

func (st streamingStrategy) flush(s *session, sink SegmentSink, mime string) {
	if !s.pending() {
		return
	}
	st.emit(s, sink, mime, false)
	if st.retainSeed {
		s.chunks = [][]byte{s.chunks[len(s.chunks)-1]}
		s.fresh = 1
	} else {
		s.chunks = nil
		s.fresh = 0
	}
}

func (st streamingStrategy) finalize(s *session, sink SegmentSink, mime string) {
	if s.pending() {
		st.emit(s, sink, mime, true)
	}
	s.chunks = nil
	s.fresh = 0
	sink.NotifyStop(s.id)
}

func (streamingStrategy) emit(s *session, sink SegmentSink, mime string, final bool) {
	sink.SendSegment(audio.Segment{
		SessionID: s.id,
		Seq:       s.seq,
		Data:      audio.Concat(s.chunks),
		MimeType:  mime,
		Final:     final,
	})
	s.seq++
	s.emitted = true
}
