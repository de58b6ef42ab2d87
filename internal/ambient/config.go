package ambient

import "time"

// DPentatonic is D major pentatonic across D3..F#4.
var DPentatonic = []float64{146.83, 164.81, 185.00, 220.00, 246.94, 293.66, 329.63, 369.99}

const bellFloor = 0.001

// Config tunes the ambient bed. Zero fields take defaults.
type Config struct {
	Volume        *float64      // initial user target, 0.5 when nil
	FadeIn        time.Duration // 3s
	FadeOut       time.Duration // 3s
	TeardownDelay time.Duration // 3.1s, after which every session voice is released

	DroneFreqs []float64 // D2, A2
	DroneGain  float64   // 0.1

	NoiseSeconds float64       // pink noise loop length, 2s
	NoiseLevel   float64       // texture gain relative to the target volume, 0.005
	NoiseFadeIn  time.Duration // 5s

	Scale       []float64
	LoopMin     time.Duration // 6s
	LoopJitter  time.Duration // 2s
	SwellCutoff float64       // 400 Hz
	SwellPeak   float64       // 0.05
	SwellAttack time.Duration // 4s
	SwellLength time.Duration // 10s

	BellProbability float64       // 0.7
	BellWindow      time.Duration // 2s
	BellPeak        float64       // 0.05
	BellAttack      time.Duration // 50ms
	BellDecay       time.Duration // 3s
	BellLength      time.Duration // 3.1s

	Duck DuckConfig
	Seed int64
}

// DuckConfig tunes ducking around speech.
type DuckConfig struct {
	Ratio   float64       // fraction of the target while ducked, 0.2
	Attack  time.Duration // 0.5s
	Release time.Duration // 2s
	Smooth  time.Duration // volume changes, 0.5s
}

func (c Config) withDefaults() Config {
	vol := 0.5
	if c.Volume != nil {
		vol = clamp01(*c.Volume)
	}
	c.Volume = &vol
	setDur(&c.FadeIn, 3*time.Second)
	setDur(&c.FadeOut, 3*time.Second)
	setDur(&c.TeardownDelay, 3100*time.Millisecond)
	if len(c.DroneFreqs) == 0 {
		c.DroneFreqs = []float64{73.42, 110.00}
	}
	setF(&c.DroneGain, 0.1)
	setF(&c.NoiseSeconds, 2)
	setF(&c.NoiseLevel, 0.005)
	setDur(&c.NoiseFadeIn, 5*time.Second)
	if len(c.Scale) == 0 {
		c.Scale = DPentatonic
	}
	setDur(&c.LoopMin, 6*time.Second)
	setDur(&c.LoopJitter, 2*time.Second)
	setF(&c.SwellCutoff, 400)
	setF(&c.SwellPeak, 0.05)
	setDur(&c.SwellAttack, 4*time.Second)
	setDur(&c.SwellLength, 10*time.Second)
	setF(&c.BellProbability, 0.7)
	setDur(&c.BellWindow, 2*time.Second)
	if c.BellWindow >= c.LoopMin {
		c.BellWindow = c.LoopMin / 2
	}
	setF(&c.BellPeak, 0.05)
	setDur(&c.BellAttack, 50*time.Millisecond)
	setDur(&c.BellDecay, 3*time.Second)
	setDur(&c.BellLength, 3100*time.Millisecond)
	c.Duck = c.Duck.withDefaults()
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

func (c DuckConfig) withDefaults() DuckConfig {
	setF(&c.Ratio, 0.2)
	setDur(&c.Attack, 500*time.Millisecond)
	setDur(&c.Release, 2*time.Second)
	setDur(&c.Smooth, 500*time.Millisecond)
	return c
}

func setDur(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

func setF(f *float64, def float64) {
	if *f <= 0 {
		*f = def
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
