package ambient

import (
	"math"
	"math/rand"
	"sync/atomic"

	"github.com/chadiek/companion/internal/audio"
)

type waveShape int

const (
	sine waveShape = iota
	triangle
)

type oscillator struct {
	shape waveShape
	phase float64
	inc   float64
}

func newOscillator(shape waveShape, hz float64, rate int) *oscillator {
	return &oscillator{shape: shape, inc: hz / float64(rate)}
}

func (o *oscillator) next() float64 {
	var v float64
	switch o.shape {
	case triangle:
		v = 4*math.Abs(o.phase-0.5) - 1
	default:
		v = math.Sin(2 * math.Pi * o.phase)
	}
	o.phase += o.inc
	if o.phase >= 1 {
		o.phase -= math.Floor(o.phase)
	}
	return v
}

// biquad is an RBJ cookbook low-pass filter.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func lowpass(cutoff, q float64, rate int) *biquad {
	w0 := 2 * math.Pi * cutoff / float64(rate)
	alpha := math.Sin(w0) / (2 * q)
	cosw := math.Cos(w0)
	a0 := 1 + alpha
	return &biquad{
		b0: (1 - cosw) / 2 / a0,
		b1: (1 - cosw) / a0,
		b2: (1 - cosw) / 2 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

// voice is a mono generator with an envelope on its own local clock. It
// drains after end samples (or never when end < 0) or once stopped, which is
// what lets the graph mixer drop it.
type voice struct {
	kind    string
	rate    float64
	n       int64
	end     int64
	gen     func() float64
	env     *audio.Param
	envBuf  []float64
	stopped atomic.Bool
	drained atomic.Bool
}

func (v *voice) Stream(samples [][2]float64) (int, bool) {
	if v.stopped.Load() || (v.end >= 0 && v.n >= v.end) {
		v.drained.Store(true)
		return 0, false
	}
	k := len(samples)
	if v.end >= 0 && int64(k) > v.end-v.n {
		k = int(v.end - v.n)
	}
	if cap(v.envBuf) < k {
		v.envBuf = make([]float64, k)
	}
	env := v.envBuf[:k]
	v.env.Fill(float64(v.n)/v.rate, 1/v.rate, env)
	for i := 0; i < k; i++ {
		s := v.gen() * env[i]
		samples[i] = [2]float64{s, s}
	}
	v.n += int64(k)
	return k, true
}

func (v *voice) Err() error { return nil }

func (v *voice) stop() { v.stopped.Store(true) }

func (v *voice) done() bool { return v.drained.Load() || v.stopped.Load() }

// newSwell sums two triangle notes through a low-pass with a slow attack and
// slower release.
func newSwell(cfg Config, rate int, f1, f2 float64) *voice {
	o1 := newOscillator(triangle, f1, rate)
	o2 := newOscillator(triangle, f2, rate)
	lp := lowpass(cfg.SwellCutoff, math.Sqrt2/2, rate)
	env := audio.NewParam(0)
	env.SetValueAtTime(0, 0)
	env.LinearRampToValueAtTime(cfg.SwellPeak, cfg.SwellAttack.Seconds())
	env.LinearRampToValueAtTime(0, cfg.SwellLength.Seconds())
	return &voice{
		kind: "swell",
		rate: float64(rate),
		end:  int64(cfg.SwellLength.Seconds() * float64(rate)),
		gen:  func() float64 { return lp.process(o1.next() + o2.next()) },
		env:  env,
	}
}

// newBell is a sine with a fast attack and a long exponential ring.
func newBell(cfg Config, rate int, hz float64) *voice {
	o := newOscillator(sine, hz, rate)
	env := audio.NewParam(0)
	env.SetValueAtTime(0, 0)
	env.LinearRampToValueAtTime(cfg.BellPeak, cfg.BellAttack.Seconds())
	env.ExponentialRampToValueAtTime(bellFloor, cfg.BellDecay.Seconds())
	return &voice{
		kind: "bell",
		rate: float64(rate),
		end:  int64(cfg.BellLength.Seconds() * float64(rate)),
		gen:  o.next,
		env:  env,
	}
}

// newDrone plays a continuous sine until stopped.
func newDrone(rate int, hz, gain float64) *voice {
	o := newOscillator(sine, hz, rate)
	return &voice{
		kind: "drone",
		rate: float64(rate),
		end:  -1,
		gen:  o.next,
		env:  audio.NewParam(gain),
	}
}

// newNoise loops a pink-noise buffer of the given length until stopped.
func newNoise(rate int, seconds float64, rng *rand.Rand) *voice {
	buf := pinkNoise(int(seconds*float64(rate)), rng)
	i := 0
	return &voice{
		kind: "noise",
		rate: float64(rate),
		end:  -1,
		gen: func() float64 {
			v := buf[i]
			i = (i + 1) % len(buf)
			return v
		},
		env: audio.NewParam(1),
	}
}

// pinkNoise fills n samples with Paul Kellet's refined pink filter.
func pinkNoise(n int, rng *rand.Rand) []float64 {
	if n < 1 {
		n = 1
	}
	out := make([]float64, n)
	var b0, b1, b2, b3, b4, b5, b6 float64
	for i := range out {
		white := rng.Float64()*2 - 1
		b0 = 0.99886*b0 + white*0.0555179
		b1 = 0.99332*b1 + white*0.0750759
		b2 = 0.96900*b2 + white*0.1538520
		b3 = 0.86650*b3 + white*0.3104856
		b4 = 0.55000*b4 + white*0.5329522
		b5 = -0.7616*b5 - white*0.0168980
		out[i] = (b0 + b1 + b2 + b3 + b4 + b5 + b6 + white*0.5362) * 0.11
		b6 = white * 0.115926
	}
	return out
}
