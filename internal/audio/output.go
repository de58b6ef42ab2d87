package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

// Output is the device that pulls the graph.
type Output interface {
	Start(src beep.Streamer, rate beep.SampleRate) error
	Close() error
}

// SpeakerOutput plays the graph on the default local sound card.
type SpeakerOutput struct {
	Buffer time.Duration // device buffer, default 100ms

	mu      sync.Mutex
	started bool
}

func (o *SpeakerOutput) Start(src beep.Streamer, rate beep.SampleRate) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return nil
	}
	buf := o.Buffer
	if buf <= 0 {
		buf = time.Second / 10
	}
	if err := speaker.Init(rate, rate.N(buf)); err != nil {
		return fmt.Errorf("speaker init: %w", err)
	}
	speaker.Play(src)
	o.started = true
	return nil
}

func (o *SpeakerOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return nil
	}
	speaker.Clear()
	speaker.Close()
	o.started = false
	return nil
}

// NullOutput pulls the graph in real time and discards the samples. It keeps
// the clock moving on headless hosts.
type NullOutput struct {
	Interval time.Duration // pull period, default 10ms

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (o *NullOutput) Start(src beep.Streamer, rate beep.SampleRate) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return nil
	}
	interval := o.Interval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	go func() {
		defer close(o.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		buf := make([][2]float64, rate.N(interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				src.Stream(buf)
			}
		}
	}()
	return nil
}

func (o *NullOutput) Close() error {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
