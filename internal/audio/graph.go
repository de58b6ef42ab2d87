package audio

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
)

// renderQuantum is the number of frames rendered between parameter and
// scheduler updates.
const renderQuantum = 128

// GraphConfig describes the fixed graph.
type GraphConfig struct {
	SampleRate    int     // default 48000
	ReverbSeconds float64 // impulse length, default 3
	ReverbMix     float64 // wet level added on top of the dry ambient path, default 1
	Seed          int64   // impulse noise seed
}

func (c GraphConfig) withDefaults() GraphConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.ReverbSeconds <= 0 {
		c.ReverbSeconds = 3
	}
	if c.ReverbMix == 0 {
		c.ReverbMix = 1
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	return c
}

// Graph is the fixed mixing topology. It implements beep.Streamer and never
// drains; whatever pulls it (speaker, WebRTC pacer, tests) advances the clock.
//
//	ambient voices -> ambient tap -> ambient gain -> dry + reverb -> master
//	texture voices -> texture gain --------------------------------> master
//	speech source  -> voice tap ----------------------------------> master
//	mic frames     -> mic tap (visualization only)
type Graph struct {
	cfg  GraphConfig
	rate beep.SampleRate
	step float64

	frames    atomic.Int64
	suspended atomic.Bool
	sched     scheduler

	mu      sync.Mutex
	ambient *beep.Mixer
	texture *beep.Mixer
	reverb  *Reverb
	speech  *Source

	master      *Param
	ambientGain *Param
	textureGain *Param

	voiceTap   *Tap
	micTap     *Tap
	ambientTap *Tap

	amb, wet, tex, sp, gain []float64
	ambBuf, wetBuf, texBuf  [][2]float64
	spBuf                   [][2]float64
}

// NewGraph builds the graph. Taps exist from construction onward.
func NewGraph(cfg GraphConfig) *Graph {
	cfg = cfg.withDefaults()
	g := &Graph{
		cfg:         cfg,
		rate:        beep.SampleRate(cfg.SampleRate),
		step:        1 / float64(cfg.SampleRate),
		ambient:     &beep.Mixer{},
		texture:     &beep.Mixer{},
		reverb:      NewReverb(cfg.SampleRate, cfg.ReverbSeconds, cfg.Seed),
		master:      NewParam(1),
		ambientGain: NewParam(0),
		textureGain: NewParam(0),
		voiceTap:    NewTap(512, 0.9),
		micTap:      NewTap(512, 0.9),
		ambientTap:  NewTap(256, 0.95),
		gain:        make([]float64, renderQuantum),
		ambBuf:      make([][2]float64, renderQuantum),
		wetBuf:      make([][2]float64, renderQuantum),
		texBuf:      make([][2]float64, renderQuantum),
		spBuf:       make([][2]float64, renderQuantum),
	}
	return g
}

// SampleRate is the graph's output rate.
func (g *Graph) SampleRate() beep.SampleRate { return g.rate }

// Now is the graph clock in seconds.
func (g *Graph) Now() float64 { return float64(g.frames.Load()) * g.step }

// Master is the mute/master gain.
func (g *Graph) Master() *Param { return g.master }

// AmbientGain is the ducking target for the ambient bus.
func (g *Graph) AmbientGain() *Param { return g.ambientGain }

// TextureGain controls the noise texture bus, which bypasses ducking and reverb.
func (g *Graph) TextureGain() *Param { return g.textureGain }

func (g *Graph) VoiceTap() *Tap   { return g.voiceTap }
func (g *Graph) MicTap() *Tap     { return g.micTap }
func (g *Graph) AmbientTap() *Tap { return g.ambientTap }

// AddAmbient attaches a voice to the ambient bus. Voices are dropped once they
// report ok=false.
func (g *Graph) AddAmbient(s ...beep.Streamer) {
	g.mu.Lock()
	g.ambient.Add(s...)
	g.mu.Unlock()
}

// AddTexture attaches a voice to the texture bus.
func (g *Graph) AddTexture(s ...beep.Streamer) {
	g.mu.Lock()
	g.texture.Add(s...)
	g.mu.Unlock()
}

// ClearAmbient detaches every ambient and texture voice.
func (g *Graph) ClearAmbient() {
	g.mu.Lock()
	g.ambient.Clear()
	g.texture.Clear()
	g.mu.Unlock()
}

// AmbientVoices counts voices attached to the ambient and texture buses.
func (g *Graph) AmbientVoices() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ambient.Len() + g.texture.Len()
}

// Schedule runs fn on the render goroutine before the block containing graph
// time at. Callbacks due in the past run before the next block.
func (g *Graph) Schedule(at float64, fn func()) { g.sched.add(at, fn) }

// Pending reports how many scheduled callbacks have not run yet.
func (g *Graph) Pending() int { return g.sched.len() }

// StartSpeech attaches s to the voice bus, finishing any previous source first.
func (g *Graph) StartSpeech(s beep.Streamer) *Source {
	src := newSource(s)
	g.mu.Lock()
	prev := g.speech
	g.speech = src
	g.mu.Unlock()
	if prev != nil {
		prev.finish(true)
	}
	return src
}

// StopSpeech detaches src if it is still the active source. A nil src stops
// whatever is playing. It reports whether a source was stopped.
func (g *Graph) StopSpeech(src *Source) bool {
	g.mu.Lock()
	cur := g.speech
	if cur == nil || (src != nil && cur != src) {
		g.mu.Unlock()
		return false
	}
	g.speech = nil
	g.mu.Unlock()
	cur.finish(true)
	return true
}

// Speech returns the active source, if any.
func (g *Graph) Speech() *Source {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.speech
}

// Suspend freezes the clock and renders silence until Resume.
func (g *Graph) Suspend() { g.suspended.Store(true) }

// Resume restarts the clock.
func (g *Graph) Resume() { g.suspended.Store(false) }

// Suspended reports whether rendering is frozen.
func (g *Graph) Suspended() bool { return g.suspended.Load() }

// Advance renders and discards d worth of audio.
func (g *Graph) Advance(d time.Duration) {
	buf := make([][2]float64, 1024)
	n := g.rate.N(d)
	for n > 0 {
		k := n
		if k > len(buf) {
			k = len(buf)
		}
		g.Stream(buf[:k])
		n -= k
	}
}

// Stream renders the mix. It always fills samples and never drains.
func (g *Graph) Stream(samples [][2]float64) (int, bool) {
	for off := 0; off < len(samples); off += renderQuantum {
		end := off + renderQuantum
		if end > len(samples) {
			end = len(samples)
		}
		g.render(samples[off:end])
	}
	return len(samples), true
}

// Err implements beep.Streamer.
func (g *Graph) Err() error { return nil }

func (g *Graph) render(out [][2]float64) {
	if g.suspended.Load() {
		for i := range out {
			out[i] = [2]float64{}
		}
		return
	}
	n := len(out)
	start := g.frames.Load()
	t0 := float64(start) * g.step
	t1 := float64(start+int64(n)) * g.step
	for {
		fn, ok := g.sched.popDue(t1)
		if !ok {
			break
		}
		fn()
	}

	g.mu.Lock()
	amb, wet, tex, sp := g.ambBuf[:n], g.wetBuf[:n], g.texBuf[:n], g.spBuf[:n]
	gain := g.gain[:n]

	clear(amb)
	g.ambient.Stream(amb)
	g.ambientTap.Write(amb)
	g.ambientGain.Fill(t0, g.step, gain)
	for i := range amb {
		amb[i][0] *= gain[i]
		amb[i][1] *= gain[i]
	}
	g.reverb.Process(wet, amb)

	clear(tex)
	g.texture.Stream(tex)
	g.textureGain.Fill(t0, g.step, gain)
	for i := range tex {
		tex[i][0] *= gain[i]
		tex[i][1] *= gain[i]
	}

	clear(sp)
	var ended *Source
	if g.speech != nil {
		sn, ok := g.speech.streamer.Stream(sp)
		if !ok {
			ended, g.speech = g.speech, nil
		}
		clear(sp[max(sn, 0):])
	}
	g.voiceTap.Write(sp)

	g.master.Fill(t0, g.step, gain)
	mix := g.cfg.ReverbMix
	for i := range out {
		for c := 0; c < 2; c++ {
			out[i][c] = clip((amb[i][c] + wet[i][c]*mix + tex[i][c] + sp[i][c]) * gain[i])
		}
	}
	g.mu.Unlock()
	g.frames.Add(int64(n))

	if ended != nil {
		ended.finish(false)
	}
}

func clip(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}
