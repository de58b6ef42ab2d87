package ambient

import (
	"sync"
	"time"

	"github.com/chadiek/companion/internal/audio"
)

// Ducker couples speech playback to the ambient bus gain. The user target and
// the ducked flag are tracked separately, so a volume change mid-duck lands
// on the new target once the duck releases.
type Ducker struct {
	graph *audio.Graph
	cfg   DuckConfig

	mu     sync.Mutex
	target float64
	ducked bool
	active bool
}

func newDucker(graph *audio.Graph, cfg DuckConfig, target float64) *Ducker {
	return &Ducker{graph: graph, cfg: cfg, target: target}
}

// SetDucked lowers the bed to Ratio of the target over Attack, or restores it
// over Release. It does nothing while ambient is not enabled.
func (d *Ducker) SetDucked(on bool) { d.Duck(on) }

// Duck is SetDucked, reporting whether the bed actually moved.
func (d *Ducker) Duck(on bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active || d.ducked == on {
		return false
	}
	d.ducked = on
	ramp := d.cfg.Release
	if on {
		ramp = d.cfg.Attack
	}
	d.rampLocked(ramp)
	return true
}

// Ducked reports whether the bed is currently held down.
func (d *Ducker) Ducked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ducked
}

// Target is the user-set level, independent of ducking.
func (d *Ducker) Target() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.target
}

// Level is the gain the bus is heading for.
func (d *Ducker) Level() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.levelLocked()
}

func (d *Ducker) setTarget(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.target = v
	if d.active {
		d.rampLocked(d.cfg.Smooth)
	}
}

// activate fades the bus from silence to the current level.
func (d *Ducker) activate(fade time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = true
	d.ducked = false
	gain := d.graph.AmbientGain()
	now := d.graph.Now()
	gain.CancelScheduledValues(now)
	gain.SetValueAtTime(0, now)
	gain.LinearRampToValueAtTime(d.levelLocked(), now+fade.Seconds())
}

// deactivate fades the bus out; ducking requests are ignored from here on.
func (d *Ducker) deactivate(fade time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = false
	d.ducked = false
	d.graph.AmbientGain().RampTo(0, d.graph.Now(), fade)
}

func (d *Ducker) levelLocked() float64 {
	if d.ducked {
		return d.target * d.cfg.Ratio
	}
	return d.target
}

func (d *Ducker) rampLocked(over time.Duration) {
	d.graph.AmbientGain().RampTo(d.levelLocked(), d.graph.Now(), over)
}
