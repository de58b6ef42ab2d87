package barge

import (
	"math"
	"sync"
	"time"
)

type simpleVAD struct {
	threshold float64
	smoothN   int
	win       []bool
}

func newSimpleVAD(threshold float64, smoothN int) *simpleVAD {
	if smoothN <= 0 {
		smoothN = 1
	}
	return &simpleVAD{threshold: threshold, smoothN: smoothN}
}

func (v *simpleVAD) isSpeech(frame Frame10ms) bool {
	if len(frame) == 0 {
		return false
	}
	b := rms(frame) >= v.threshold
	v.win = append(v.win, b)
	if len(v.win) > v.smoothN {
		v.win = v.win[len(v.win)-v.smoothN:]
	}
	trueCount := 0
	for _, x := range v.win {
		if x {
			trueCount++
		}
	}
	return trueCount*2 >= len(v.win)
}

func (v *simpleVAD) reset() { v.win = v.win[:0] }

// simpleDTD flags double talk when mic energy exceeds what echo of the
// current outgoing speech could explain.
type simpleDTD struct {
	overlapLevel float64
	echoRatio    float64
}

func (d *simpleDTD) overlap(micWin []Frame10ms, refLevel float64) bool {
	var sum float64
	var n int
	for _, f := range micWin {
		for _, s := range f {
			x := float64(s) / 32768
			sum += x * x
			n++
		}
	}
	if n == 0 {
		return false
	}
	residual := math.Sqrt(sum/float64(n)) - d.echoRatio*refLevel
	return residual > d.overlapLevel
}

type voteWindow struct {
	winDur time.Duration
	hist   []bool
}

func newVoteWindow(ms int) *voteWindow {
	return &voteWindow{winDur: time.Duration(ms) * time.Millisecond}
}

func (v *voteWindow) Push(b bool) {
	v.hist = append(v.hist, b)
	limit := int(v.winDur/(10*time.Millisecond)) + 1
	if len(v.hist) > limit {
		v.hist = v.hist[len(v.hist)-limit:]
	}
}

func (v *voteWindow) Ratio() float64 {
	if len(v.hist) == 0 {
		return 0
	}
	var t int
	for _, b := range v.hist {
		if b {
			t++
		}
	}
	return float64(t) / float64(len(v.hist))
}

func (v *voteWindow) Full() bool {
	return len(v.hist) >= int(v.winDur/(10*time.Millisecond))+1
}

func (v *voteWindow) Reset() { v.hist = v.hist[:0] }

// fixed-size 10ms frame window of latest N frames
type frameWindow struct {
	frames []Frame10ms
	size   int
}

func newFrameWindow(n int) *frameWindow { return &frameWindow{size: n} }

func (w *frameWindow) Push(f Frame10ms) {
	w.frames = append(w.frames, f)
	if len(w.frames) > w.size {
		w.frames = w.frames[len(w.frames)-w.size:]
	}
}

func (w *frameWindow) Reset() { w.frames = w.frames[:0] }

// Detector votes VAD and double-talk cues per 10ms mic frame while the agent
// is speaking and fires OnTrigger when both agree for most of a window.
type Detector struct {
	cfg       Config
	ev        Events
	reference func() float64

	mu       sync.Mutex
	speaking bool
	since    time.Time
	pending  []int16

	vad      *simpleVAD
	dtd      *simpleDTD
	micWin   *frameWindow
	votesOn  *voteWindow
	votesOff *voteWindow

	now func() time.Time
}

// NewDetector builds a detector. reference returns the current outgoing
// speech level (0..1) and may be nil.
func NewDetector(cfg Config, ev Events, reference func() float64) *Detector {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if reference == nil {
		reference = func() float64 { return 0 }
	}
	return &Detector{
		cfg:       cfg,
		ev:        ev,
		reference: reference,
		vad:       newSimpleVAD(cfg.VADThreshold, cfg.VADSmoothFrames),
		dtd:       &simpleDTD{overlapLevel: cfg.OverlapLevel, echoRatio: cfg.EchoRatio},
		micWin:    newFrameWindow(16), // ~160ms
		votesOn:   newVoteWindow(cfg.FuseWinMs),
		votesOff:  newVoteWindow(cfg.HysteresisOffMs),
		now:       time.Now,
	}
}

// SetSpeaking toggles speaking state; detection runs only while speaking.
func (d *Detector) SetSpeaking(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if on && !d.speaking {
		d.since = d.now()
	}
	d.speaking = on
	d.resetLocked()
}

// Speaking reports whether detection is armed.
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Reset clears window state.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.resetLocked()
	d.mu.Unlock()
}

func (d *Detector) resetLocked() {
	d.vad.reset()
	d.micWin.Reset()
	d.votesOn.Reset()
	d.votesOff.Reset()
	d.pending = d.pending[:0]
}

// Feed accepts mic PCM of any length at SampleRate and splits it into 10ms frames.
func (d *Detector) Feed(pcm []int16) {
	n := d.cfg.SampleRate / 100
	var fired *Cues

	d.mu.Lock()
	if !d.speaking {
		d.mu.Unlock()
		return
	}
	d.pending = append(d.pending, pcm...)
	for len(d.pending) >= n && fired == nil {
		frame := make(Frame10ms, n)
		copy(frame, d.pending[:n])
		d.pending = d.pending[n:]
		fired = d.onFrameLocked(frame)
	}
	if fired != nil {
		d.speaking = false
		d.resetLocked()
	}
	d.mu.Unlock()

	if fired != nil && d.ev.OnTrigger != nil {
		d.ev.OnTrigger(d.now(), *fired)
	}
}

func (d *Detector) onFrameLocked(frame Frame10ms) *Cues {
	d.micWin.Push(frame)
	vadYes := d.vad.isSpeech(frame)
	dtdYes := d.dtd.overlap(d.micWin.frames, d.reference())

	if d.now().Sub(d.since) < time.Duration(d.cfg.HoldOffMs)*time.Millisecond {
		return nil
	}

	both := vadYes && dtdYes
	d.votesOn.Push(both)
	d.votesOff.Push(!vadYes && !dtdYes)
	if d.votesOn.Full() && d.votesOn.Ratio() >= 2.0/3.0 {
		return &Cues{VAD: vadYes, DTD: dtdYes}
	}
	if d.votesOff.Ratio() >= 2.0/3.0 {
		d.votesOn.Reset()
	}
	return nil
}

func rms(frame []int16) float64 {
	var sum float64
	for _, s := range frame {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(frame)))
}
