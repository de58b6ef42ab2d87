package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// CaptureRate is the rate of frames delivered by every Capture.
const CaptureRate = 16000

// Capture delivers mono 16 kHz PCM frames from a microphone.
type Capture interface {
	Open(ctx context.Context, onFrame func(pcm []int16)) error
	Close() error
}

// PortAudioCapture reads the default input device.
type PortAudioCapture struct {
	FrameSamples int // samples per read, default 320 (20ms)

	mu     sync.Mutex
	stream *portaudio.Stream
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *PortAudioCapture) Open(ctx context.Context, onFrame func(pcm []int16)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return nil
	}
	n := c.FrameSamples
	if n <= 0 {
		n = CaptureRate / 50
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	buf := make([]int16, n)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(CaptureRate), len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("portaudio open: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("portaudio start: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	c.stream, c.cancel, c.done = stream, cancel, make(chan struct{})
	go func() {
		defer close(c.done)
		for ctx.Err() == nil {
			if err := stream.Read(); err != nil {
				return
			}
			frame := make([]int16, len(buf))
			copy(frame, buf)
			onFrame(frame)
		}
	}()
	return nil
}

func (c *PortAudioCapture) Close() error {
	c.mu.Lock()
	stream, cancel, done := c.stream, c.cancel, c.done
	c.stream = nil
	c.mu.Unlock()
	if stream == nil {
		return nil
	}
	cancel()
	_ = stream.Stop()
	<-done
	err := stream.Close()
	_ = portaudio.Terminate()
	return err
}
