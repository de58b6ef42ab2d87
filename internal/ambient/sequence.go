package ambient

import (
	"math/rand"
)

// EventKind names a scheduled musical gesture.
type EventKind int

const (
	Swell EventKind = iota
	Bell
)

func (k EventKind) String() string {
	if k == Bell {
		return "bell"
	}
	return "swell"
}

// Event is one gesture at At seconds after the sequence start.
type Event struct {
	At    float64
	Kind  EventKind
	Freqs []float64
}

// Sequence lazily yields the swell/bell score in time order. Reset restarts
// the identical score from the seed.
type Sequence struct {
	cfg     Config
	seed    int64
	rng     *rand.Rand
	loopAt  float64
	pending []Event
}

// NewSequence returns a sequence positioned at its start.
func NewSequence(cfg Config, seed int64) *Sequence {
	s := &Sequence{cfg: cfg, seed: seed}
	s.Reset()
	return s
}

// Reset rewinds to t=0 with the original seed.
func (s *Sequence) Reset() {
	s.rng = rand.New(rand.NewSource(s.seed))
	s.loopAt = 0
	s.pending = s.pending[:0]
}

// Reseed rewinds with a new seed so the next session plays a fresh score.
func (s *Sequence) Reseed(seed int64) {
	s.seed = seed
	s.Reset()
}

// Next returns the next event.
func (s *Sequence) Next() Event {
	if len(s.pending) == 0 {
		s.generateLoop()
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev
}

// generateLoop emits one loop window: a swell at its start and, with the
// configured probability, a bell somewhere inside the first BellWindow.
func (s *Sequence) generateLoop() {
	scale := s.cfg.Scale
	low := 4
	if low > len(scale) {
		low = len(scale)
	}
	hiOffset := 2
	if hiOffset+low > len(scale) {
		hiOffset = len(scale) - low
	}
	n1 := scale[s.rng.Intn(low)]
	n2 := scale[s.rng.Intn(low)+hiOffset]
	s.pending = append(s.pending, Event{At: s.loopAt, Kind: Swell, Freqs: []float64{n1, n2}})

	offset := s.rng.Float64() * s.cfg.BellWindow.Seconds()
	if s.rng.Float64() < s.cfg.BellProbability {
		hz := scale[s.rng.Intn(len(scale))] * 2
		s.pending = append(s.pending, Event{At: s.loopAt + offset, Kind: Bell, Freqs: []float64{hz}})
	}
	s.loopAt += s.cfg.LoopMin.Seconds() + s.rng.Float64()*s.cfg.LoopJitter.Seconds()
}
