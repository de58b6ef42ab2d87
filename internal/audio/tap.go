package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

const (
	tapMinDecibels = -100.0
	tapMaxDecibels = -30.0
)

// Tap is a read-only analysis point on a bus. Writers push the signal flowing
// through the bus; readers poll the spectrum and level without affecting it.
type Tap struct {
	mu        sync.Mutex
	fftSize   int
	smoothing float64
	ring      []float64
	pos       int
	win       []float64
	smoothed  []float64
	written   uint64
}

// NewTap creates a tap with the given FFT size (power of two) and temporal
// smoothing constant in [0,1).
func NewTap(fftSize int, smoothing float64) *Tap {
	return &Tap{
		fftSize:   fftSize,
		smoothing: smoothing,
		ring:      make([]float64, fftSize),
		win:       window.Blackman(fftSize),
		smoothed:  make([]float64, fftSize/2),
	}
}

// FrequencyBinCount is half the FFT size.
func (t *Tap) FrequencyBinCount() int { return t.fftSize / 2 }

// Write pushes stereo frames, downmixed to mono.
func (t *Tap) Write(samples [][2]float64) {
	t.mu.Lock()
	for _, s := range samples {
		t.ring[t.pos] = (s[0] + s[1]) / 2
		t.pos = (t.pos + 1) % t.fftSize
	}
	t.written += uint64(len(samples))
	t.mu.Unlock()
}

// WriteMono pushes mono samples in [-1,1].
func (t *Tap) WriteMono(samples []float64) {
	t.mu.Lock()
	for _, s := range samples {
		t.ring[t.pos] = s
		t.pos = (t.pos + 1) % t.fftSize
	}
	t.written += uint64(len(samples))
	t.mu.Unlock()
}

// Written reports how many frames have passed through the tap.
func (t *Tap) Written() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written
}

// FrequencyData returns the smoothed magnitude spectrum of the most recent
// window scaled to bytes between -100 dB and -30 dB.
func (t *Tap) FrequencyData() []uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	x := make([]float64, t.fftSize)
	for i := range x {
		x[i] = t.ring[(t.pos+i)%t.fftSize] * t.win[i]
	}
	spec := fft.FFTReal(x)
	out := make([]uint8, len(t.smoothed))
	for k := range t.smoothed {
		mag := cmplx.Abs(spec[k]) / float64(t.fftSize)
		t.smoothed[k] = t.smoothing*t.smoothed[k] + (1-t.smoothing)*mag
		db := tapMinDecibels
		if t.smoothed[k] > 0 {
			db = 20 * math.Log10(t.smoothed[k])
		}
		scaled := 255 * (db - tapMinDecibels) / (tapMaxDecibels - tapMinDecibels)
		switch {
		case scaled < 0:
			scaled = 0
		case scaled > 255:
			scaled = 255
		}
		out[k] = uint8(scaled)
	}
	return out
}

// Level is the RMS of the current window.
func (t *Tap) Level() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sum float64
	for _, v := range t.ring {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(t.ring)))
}
