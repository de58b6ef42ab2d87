// Package audio owns the single output device, the fixed mixing graph, and
// the analysis taps read by visualizers.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrDisposed is returned by Initialize after Dispose.
var ErrDisposed = errors.New("audio: engine disposed")

// Config holds engine configuration.
type Config struct {
	Graph    GraphConfig
	MuteRamp time.Duration // master gain ramp, default 400ms
}

// Engine is the process-wide audio service with an explicit lifecycle.
type Engine struct {
	cfg     Config
	log     zerolog.Logger
	graph   *Graph
	out     Output
	capture Capture

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	initialized  bool
	disposed     bool
	muted        bool
	micConnected bool

	lmu       sync.Mutex
	listeners []func([]int16)
}

// NewEngine constructs the graph; the output device is not touched until Initialize.
func NewEngine(cfg Config, out Output, capture Capture, logger zerolog.Logger) *Engine {
	if cfg.MuteRamp <= 0 {
		cfg.MuteRamp = 400 * time.Millisecond
	}
	if out == nil {
		out = &NullOutput{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:     cfg,
		log:     logger.With().Str("component", "audio").Logger(),
		graph:   NewGraph(cfg.Graph),
		out:     out,
		capture: capture,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Graph exposes the mixing graph to the buses built on top of it.
func (e *Engine) Graph() *Graph { return e.graph }

// Initialize starts the output device on first call and resumes a suspended
// graph on later calls.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	if e.initialized {
		if e.graph.Suspended() {
			e.graph.Resume()
			e.log.Debug().Msg("resumed")
		}
		return nil
	}
	if err := e.out.Start(e.graph, e.graph.SampleRate()); err != nil {
		return fmt.Errorf("start output: %w", err)
	}
	e.initialized = true
	e.log.Info().Int("sample_rate", int(e.graph.SampleRate())).Msg("audio engine initialized")
	return nil
}

// Initialized reports whether the output device has been started.
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// Suspend freezes rendering; Initialize resumes it.
func (e *Engine) Suspend() { e.graph.Suspend() }

// Dispose stops the output and capture devices.
func (e *Engine) Dispose() error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return nil
	}
	e.disposed = true
	e.mu.Unlock()

	e.cancel()
	e.graph.StopSpeech(nil)
	var errs []error
	if e.capture != nil {
		errs = append(errs, e.capture.Close())
	}
	errs = append(errs, e.out.Close())
	return errors.Join(errs...)
}

// SetMuted ramps the master gain to 0 or 1.
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	e.muted = muted
	e.mu.Unlock()
	target := 1.0
	if muted {
		target = 0
	}
	e.graph.Master().RampTo(target, e.graph.Now(), e.cfg.MuteRamp)
}

// Muted reports the last requested mute state.
func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// ConnectMicrophone opens the capture device once. Frames feed the mic tap and
// registered listeners and never reach the output mix. Failure is logged and a
// later call retries.
func (e *Engine) ConnectMicrophone() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.micConnected || e.disposed {
		return
	}
	if e.capture == nil {
		e.log.Warn().Msg("no capture device configured; microphone visualization disabled")
		return
	}
	if err := e.capture.Open(e.ctx, e.handleMic); err != nil {
		e.log.Warn().Err(err).Msg("could not connect microphone")
		return
	}
	e.micConnected = true
	e.log.Info().Msg("microphone connected")
}

// MicConnected reports whether capture is running.
func (e *Engine) MicConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.micConnected
}

// OnMicFrame registers a listener for 16 kHz mic frames.
func (e *Engine) OnMicFrame(fn func(pcm []int16)) {
	e.lmu.Lock()
	e.listeners = append(e.listeners, fn)
	e.lmu.Unlock()
}

func (e *Engine) handleMic(pcm []int16) {
	mono := make([]float64, len(pcm))
	for i, s := range pcm {
		mono[i] = float64(s) / 32768
	}
	e.graph.MicTap().WriteMono(mono)

	e.lmu.Lock()
	listeners := make([]func([]int16), len(e.listeners))
	copy(listeners, e.listeners)
	e.lmu.Unlock()
	for _, fn := range listeners {
		fn(pcm)
	}
}

func (e *Engine) VoiceTap() *Tap   { return e.graph.VoiceTap() }
func (e *Engine) MicTap() *Tap     { return e.graph.MicTap() }
func (e *Engine) AmbientTap() *Tap { return e.graph.AmbientTap() }
