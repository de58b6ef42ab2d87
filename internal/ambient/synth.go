// Package ambient generates the procedural music bed and ducks it around speech.
package ambient

import (
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chadiek/companion/internal/audio"
)

type synthState int

const (
	stopped synthState = iota
	running
	stopping
)

// Synth owns one ambient session at a time: drones, a noise texture and the
// swell/bell score. Every voice it creates is released on teardown.
type Synth struct {
	cfg    Config
	graph  *audio.Graph
	log    zerolog.Logger
	ducker *Ducker
	seq    *Sequence
	rng    *rand.Rand

	mu      sync.Mutex
	state   synthState
	session uint64
	start   float64
	voices  []*voice
}

// NewSynth attaches a synthesizer to the graph's ambient and texture buses.
func NewSynth(graph *audio.Graph, cfg Config, logger zerolog.Logger) *Synth {
	cfg = cfg.withDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed))
	return &Synth{
		cfg:    cfg,
		graph:  graph,
		log:    logger.With().Str("component", "ambient").Logger(),
		ducker: newDucker(graph, cfg.Duck, *cfg.Volume),
		seq:    NewSequence(cfg, rng.Int63()),
		rng:    rng,
	}
}

// Ducker returns the ducking controller bound to this synth's bus.
func (s *Synth) Ducker() *Ducker { return s.ducker }

// Enable starts a session unless one is already running. A session that is
// still fading out is torn down first.
func (s *Synth) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case running:
		return
	case stopping:
		s.teardownLocked()
	}
	s.session++
	s.state = running
	s.start = s.graph.Now()
	s.seq.Reseed(s.rng.Int63())

	rate := int(s.graph.SampleRate())
	for _, hz := range s.cfg.DroneFreqs {
		v := newDrone(rate, hz, s.cfg.DroneGain)
		s.voices = append(s.voices, v)
		s.graph.AddAmbient(v)
	}
	noise := newNoise(rate, s.cfg.NoiseSeconds, s.rng)
	s.voices = append(s.voices, noise)
	s.graph.AddTexture(noise)

	s.ducker.activate(s.cfg.FadeIn)
	tex := s.graph.TextureGain()
	tex.CancelScheduledValues(s.start)
	tex.SetValueAtTime(0, s.start)
	tex.LinearRampToValueAtTime(s.ducker.Target()*s.cfg.NoiseLevel, s.start+s.cfg.NoiseFadeIn.Seconds())

	s.scheduleNextLocked()
	s.log.Info().Uint64("session", s.session).Float64("volume", s.ducker.Target()).Msg("ambient enabled")
}

// Disable stops the score, fades everything out and releases the session's
// voices once the fade has completed.
func (s *Synth) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != running {
		return
	}
	s.state = stopping
	s.session++
	token := s.session

	now := s.graph.Now()
	s.ducker.deactivate(s.cfg.FadeOut)
	s.graph.TextureGain().RampTo(0, now, s.cfg.FadeOut)
	s.graph.Schedule(now+s.cfg.TeardownDelay.Seconds(), func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.session == token && s.state == stopping {
			s.teardownLocked()
		}
	})
	s.log.Info().Msg("ambient disabled")
}

// SetVolume clamps v to [0,1] and glides toward it. While ducked the discount
// is applied to the new target.
func (s *Synth) SetVolume(v float64) {
	v = clamp01(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ducker.setTarget(v)
	if s.state == running {
		s.graph.TextureGain().RampTo(v*s.cfg.NoiseLevel, s.graph.Now(), s.cfg.Duck.Smooth)
	}
}

// Volume is the user-set target.
func (s *Synth) Volume() float64 { return s.ducker.Target() }

// Enabled reports whether a session is running (not fading out).
func (s *Synth) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == running
}

// ActiveVoices counts voices still attached to the graph.
func (s *Synth) ActiveVoices() int { return s.graph.AmbientVoices() }

// Dispose tears down immediately without a fade.
func (s *Synth) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session++
	s.ducker.deactivate(0)
	s.teardownLocked()
}

func (s *Synth) scheduleNextLocked() {
	ev := s.seq.Next()
	token := s.session
	s.graph.Schedule(s.start+ev.At, func() { s.fire(token, ev) })
}

// fire runs on the render goroutine.
func (s *Synth) fire(token uint64, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.session || s.state != running {
		return
	}
	rate := int(s.graph.SampleRate())
	var v *voice
	switch ev.Kind {
	case Bell:
		v = newBell(s.cfg, rate, ev.Freqs[0])
	default:
		v = newSwell(s.cfg, rate, ev.Freqs[0], ev.Freqs[1])
	}
	s.pruneLocked()
	s.voices = append(s.voices, v)
	s.graph.AddAmbient(v)
	s.log.Trace().Stringer("kind", ev.Kind).Floats64("hz", ev.Freqs).Msg("ambient event")
	s.scheduleNextLocked()
}

func (s *Synth) pruneLocked() {
	live := s.voices[:0]
	for _, v := range s.voices {
		if !v.done() {
			live = append(live, v)
		}
	}
	clear(s.voices[len(live):])
	s.voices = live
}

func (s *Synth) teardownLocked() {
	for _, v := range s.voices {
		v.stop()
	}
	s.voices = nil
	s.graph.ClearAmbient()
	now := s.graph.Now()
	s.graph.AmbientGain().RampTo(0, now, 0)
	s.graph.TextureGain().RampTo(0, now, 0)
	s.state = stopped
}
