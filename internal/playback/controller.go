// Package playback plays synthesized speech on the voice bus, one source at a
// time, ducking the ambient bed while it plays.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chadiek/companion/internal/audio"
)

// Outcome says how a Play call ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeInterrupted
	OutcomeSuperseded
	OutcomeDecodeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeSuperseded:
		return "superseded"
	case OutcomeDecodeFailed:
		return "decode_failed"
	}
	return "unknown"
}

// Ducker is asserted while speech plays.
type Ducker interface {
	SetDucked(bool)
}

// Hooks observe the playback lifecycle. Either may be nil.
type Hooks struct {
	OnStart  func(d time.Duration)
	OnFinish func(Outcome)
}

type playing struct {
	src    *audio.Source
	reason Outcome // reported if the source is cut off
}

// Controller enforces a single speech source on the graph.
type Controller struct {
	graph  *audio.Graph
	ducker Ducker
	log    zerolog.Logger
	hooks  Hooks

	mu  sync.Mutex
	cur *playing
}

// NewController returns a controller for graph. A nil ducker disables ducking.
func NewController(graph *audio.Graph, ducker Ducker, logger zerolog.Logger) *Controller {
	if ducker == nil {
		ducker = noDuck{}
	}
	return &Controller{
		graph:  graph,
		ducker: ducker,
		log:    logger.With().Str("component", "playback").Logger(),
	}
}

// SetHooks installs lifecycle observers. Call before the first Play.
func (c *Controller) SetHooks(h Hooks) { c.hooks = h }

// Play decodes encoded and plays it to the end. Decode failures are logged
// and reported as OutcomeDecodeFailed, never as an error. Cancelling ctx stops
// the source.
func (c *Controller) Play(ctx context.Context, encoded []byte) Outcome {
	buf, err := Decode(encoded, c.graph.SampleRate())
	if err != nil {
		c.log.Warn().Err(err).Int("bytes", len(encoded)).Msg("speech decode failed")
		c.mu.Lock()
		idle := c.cur == nil
		c.mu.Unlock()
		if idle {
			c.ducker.SetDucked(false)
		}
		c.finished(OutcomeDecodeFailed)
		return OutcomeDecodeFailed
	}

	p := &playing{reason: OutcomeInterrupted}
	c.mu.Lock()
	if prev := c.cur; prev != nil {
		prev.reason = OutcomeSuperseded
	}
	c.ducker.SetDucked(true)
	p.src = c.graph.StartSpeech(buf.Streamer(0, buf.Len()))
	c.cur = p
	c.mu.Unlock()

	d := c.graph.SampleRate().D(buf.Len())
	c.log.Debug().Dur("duration", d).Msg("speech started")
	if c.hooks.OnStart != nil {
		c.hooks.OnStart(d)
	}

	select {
	case <-p.src.Done():
	case <-ctx.Done():
		c.graph.StopSpeech(p.src)
		<-p.src.Done()
	}

	outcome := OutcomeCompleted
	c.mu.Lock()
	if p.src.Interrupted() {
		outcome = p.reason
	}
	release := c.cur == p
	if release {
		c.cur = nil
	}
	c.mu.Unlock()
	if release {
		c.ducker.SetDucked(false)
	}
	c.log.Debug().Stringer("outcome", outcome).Msg("speech ended")
	c.finished(outcome)
	return outcome
}

// Stop halts the active source and releases ducking. Safe when idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	p := c.cur
	c.cur = nil
	c.mu.Unlock()
	if p != nil {
		c.graph.StopSpeech(p.src)
		c.log.Debug().Msg("speech stopped")
	}
	c.ducker.SetDucked(false)
}

// Speaking reports whether a source is playing.
func (c *Controller) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil
}

func (c *Controller) finished(o Outcome) {
	if c.hooks.OnFinish != nil {
		c.hooks.OnFinish(o)
	}
}

type noDuck struct{}

func (noDuck) SetDucked(bool) {}
