package audio

import (
	"sync"
	"sync/atomic"

	"github.com/faiface/beep"
)

// Source is a speech streamer attached to the voice bus. Done is closed exactly
// once, either when the streamer drains or when the source is stopped or
// replaced.
type Source struct {
	streamer    beep.Streamer
	done        chan struct{}
	once        sync.Once
	interrupted atomic.Bool
}

func newSource(s beep.Streamer) *Source {
	return &Source{streamer: s, done: make(chan struct{})}
}

// Done is closed when the source stops producing audio.
func (s *Source) Done() <-chan struct{} { return s.done }

// Interrupted reports whether the source was cut off before its natural end.
func (s *Source) Interrupted() bool { return s.interrupted.Load() }

func (s *Source) finish(interrupted bool) {
	s.once.Do(func() {
		s.interrupted.Store(interrupted)
		close(s.done)
	})
}
