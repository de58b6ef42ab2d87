package audio

import (
	"math"
	"sync"
	"time"
)

type paramEventKind int

const (
	eventSet paramEventKind = iota
	eventLinear
	eventExponential
)

type paramEvent struct {
	kind  paramEventKind
	time  float64
	value float64
}

// Param is a gain-style parameter automated on the graph clock (seconds).
// Events are kept in time order; events in the past are folded into the
// anchor value by Prune so the list stays bounded.
type Param struct {
	mu     sync.Mutex
	value  float64
	anchor float64
	events []paramEvent
}

// NewParam returns a parameter holding v.
func NewParam(v float64) *Param { return &Param{value: v} }

// SetValueAtTime jumps to v at t.
func (p *Param) SetValueAtTime(v, t float64) {
	p.mu.Lock()
	p.insert(paramEvent{kind: eventSet, time: t, value: v})
	p.mu.Unlock()
}

// LinearRampToValueAtTime ramps linearly from the previous event to v, arriving at t.
func (p *Param) LinearRampToValueAtTime(v, t float64) {
	p.mu.Lock()
	p.insert(paramEvent{kind: eventLinear, time: t, value: v})
	p.mu.Unlock()
}

// ExponentialRampToValueAtTime ramps exponentially from the previous event to v.
// Both ends must be non-zero with the same sign, otherwise the value holds and
// jumps at t.
func (p *Param) ExponentialRampToValueAtTime(v, t float64) {
	p.mu.Lock()
	p.insert(paramEvent{kind: eventExponential, time: t, value: v})
	p.mu.Unlock()
}

// CancelScheduledValues drops every event at or after t.
func (p *Param) CancelScheduledValues(t float64) {
	p.mu.Lock()
	p.cancel(t)
	p.mu.Unlock()
}

// RampTo holds the current value at now and ramps linearly to v over d.
func (p *Param) RampTo(v, now float64, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur := p.valueAt(now)
	p.cancel(now)
	if d <= 0 {
		p.insert(paramEvent{kind: eventSet, time: now, value: v})
		return
	}
	p.insert(paramEvent{kind: eventSet, time: now, value: cur})
	p.insert(paramEvent{kind: eventLinear, time: now + d.Seconds(), value: v})
}

// ValueAt evaluates the automation curve at t.
func (p *Param) ValueAt(t float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valueAt(t)
}

// Fill writes len(out) values starting at t0 with step seconds between them and
// prunes the events that lie before the end of the window.
func (p *Param) Fill(t0, step float64, out []float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 || p.events[0].time > t0+step*float64(len(out)) && p.events[0].kind == eventSet {
		for i := range out {
			out[i] = p.value
		}
		return
	}
	for i := range out {
		out[i] = p.valueAt(t0 + step*float64(i))
	}
	p.prune(t0 + step*float64(len(out)))
}

// Prune folds events at or before t into the anchor value.
func (p *Param) Prune(t float64) {
	p.mu.Lock()
	p.prune(t)
	p.mu.Unlock()
}

// Pending reports the number of scheduled events not yet folded.
func (p *Param) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *Param) valueAt(t float64) float64 {
	v, t0 := p.value, p.anchor
	for _, e := range p.events {
		if e.time <= t {
			v, t0 = e.value, e.time
			continue
		}
		switch e.kind {
		case eventLinear:
			if t > t0 {
				return v + (e.value-v)*(t-t0)/(e.time-t0)
			}
		case eventExponential:
			if t > t0 && v*e.value > 0 {
				return v * math.Pow(e.value/v, (t-t0)/(e.time-t0))
			}
		}
		return v
	}
	return v
}

func (p *Param) insert(e paramEvent) {
	i := len(p.events)
	for i > 0 && p.events[i-1].time > e.time {
		i--
	}
	p.events = append(p.events, paramEvent{})
	copy(p.events[i+1:], p.events[i:])
	p.events[i] = e
}

func (p *Param) cancel(t float64) {
	n := len(p.events)
	for n > 0 && p.events[n-1].time >= t {
		n--
	}
	p.events = p.events[:n]
}

func (p *Param) prune(t float64) {
	i := 0
	for i < len(p.events) && p.events[i].time <= t {
		p.value, p.anchor = p.events[i].value, p.events[i].time
		i++
	}
	if i > 0 {
		p.events = append(p.events[:0], p.events[i:]...)
	}
}
