package capture

import (
	"time"

	"github.com/google/uuid"
)

// session is the per-recording state. It is created on Start and dropped when
// the controller returns to Idle. All fields are guarded by Controller.mu.
type session struct {
	id      string
	gen     uint64
	started time.Time
	stopped time.Time
	auto    bool

	// chunks holds raw recorder output in arrival order. When a continuity
	// seed is retained, chunks[:fresh] is that seed and has already been
	// sent.
	chunks [][]byte
	fresh  int
	seq    int

	// emitted is set once any segment of this session reached the sink.
	emitted bool

	maxTimer      Timer
	progressTimer Timer
	flushTimer    Timer
	finalizeTimer Timer
}

func newSession(gen uint64, now time.Time) *session {
	return &session{id: uuid.NewString(), gen: gen, started: now}
}

// pending reports whether chunks holds data that has not been sent.
func (s *session) pending() bool { return len(s.chunks) > s.fresh }

// stopCaptureTimers cancels the timers that only make sense while recording.
func (s *session) stopCaptureTimers() {
	stopTimer(&s.maxTimer)
	stopTimer(&s.progressTimer)
	stopTimer(&s.flushTimer)
}

// stopTimers cancels every timer the session owns.
func (s *session) stopTimers() {
	s.stopCaptureTimers()
	stopTimer(&s.finalizeTimer)
}

func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
