package audio

import (
	"math"
	"math/rand"

	"github.com/mjibson/go-dsp/fft"
)

// reverbBlock is the partition size of the convolution engine. The wet signal
// is delayed by one partition.
const reverbBlock = 1024

// Reverb is a stereo convolution reverb using uniformly partitioned
// overlap-save, so a multi-second impulse stays affordable per block.
type Reverb struct {
	ch  [2]*convolver
	in  [][2]float64
	out [][2]float64
	pos int
}

// NewReverb builds a reverb from a synthetic decaying-noise impulse of the
// given length in seconds.
func NewReverb(rate int, seconds float64, seed int64) *Reverb {
	length := int(float64(rate) * seconds)
	if length < 1 {
		length = 1
	}
	rng := rand.New(rand.NewSource(seed))
	var impulse [2][]float64
	for c := range impulse {
		impulse[c] = make([]float64, length)
	}
	for i := 0; i < length; i++ {
		decay := math.Pow(1-float64(i)/float64(length), 2)
		impulse[0][i] = (rng.Float64()*2 - 1) * decay
		impulse[1][i] = (rng.Float64()*2 - 1) * decay
	}
	normalize(impulse[0], impulse[1])
	return &Reverb{
		ch:  [2]*convolver{newConvolver(impulse[0]), newConvolver(impulse[1])},
		in:  make([][2]float64, reverbBlock),
		out: make([][2]float64, reverbBlock),
	}
}

// Process convolves src into dst sample by sample; dst and src have equal length.
func (r *Reverb) Process(dst, src [][2]float64) {
	for i, s := range src {
		r.in[r.pos] = s
		dst[i] = r.out[r.pos]
		r.pos++
		if r.pos == reverbBlock {
			r.pos = 0
			r.flush()
		}
	}
}

func (r *Reverb) flush() {
	for c := 0; c < 2; c++ {
		block := make([]float64, reverbBlock)
		for i := range block {
			block[i] = r.in[i][c]
		}
		y := r.ch[c].process(block)
		for i := range y {
			r.out[i][c] = y[i]
		}
	}
}

// normalize scales both channels so the impulse has unit energy per channel.
func normalize(l, r []float64) {
	var power float64
	for i := range l {
		power += l[i]*l[i] + r[i]*r[i]
	}
	if power == 0 {
		return
	}
	scale := 1 / math.Sqrt(power/2)
	for i := range l {
		l[i] *= scale
		r[i] *= scale
	}
}

type convolver struct {
	parts [][]complex128 // FFT of each impulse partition, zero padded to 2B
	fdl   [][]complex128 // frequency domain delay line of input spectra
	head  int
	prev  []float64
}

func newConvolver(h []float64) *convolver {
	n := (len(h) + reverbBlock - 1) / reverbBlock
	c := &convolver{
		parts: make([][]complex128, n),
		fdl:   make([][]complex128, n),
		prev:  make([]float64, reverbBlock),
	}
	for p := 0; p < n; p++ {
		seg := make([]float64, 2*reverbBlock)
		end := (p + 1) * reverbBlock
		if end > len(h) {
			end = len(h)
		}
		copy(seg, h[p*reverbBlock:end])
		c.parts[p] = fft.FFTReal(seg)
		c.fdl[p] = make([]complex128, 2*reverbBlock)
	}
	return c
}

func (c *convolver) process(block []float64) []float64 {
	buf := make([]float64, 2*reverbBlock)
	copy(buf, c.prev)
	copy(buf[reverbBlock:], block)
	copy(c.prev, block)

	c.head = (c.head + len(c.fdl) - 1) % len(c.fdl)
	c.fdl[c.head] = fft.FFTReal(buf)

	acc := make([]complex128, 2*reverbBlock)
	for p := range c.parts {
		x := c.fdl[(c.head+p)%len(c.fdl)]
		h := c.parts[p]
		for k := range acc {
			acc[k] += x[k] * h[k]
		}
	}
	y := fft.IFFT(acc)
	out := make([]float64, reverbBlock)
	for i := range out {
		out[i] = real(y[reverbBlock+i])
	}
	return out
}
