package rtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/rs/zerolog"
)

const (
	opusRate      = 48000
	frameSamples  = 960 // 20ms at 48kHz
	frameDuration = 20 * time.Millisecond
	micRate       = 16000
)

type sampleWriter interface {
	WriteSample(s media.Sample) error
}

type frameEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

type frameDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// Controls are the conversation actions a peer can trigger over the
// "control" data channel.
type Controls interface {
	Interrupt()
	SetVoiceMode(ctx context.Context, on bool) error
}

// Config holds peer connection settings.
type Config struct {
	ICEServers []webrtc.ICEServer
}

// Bridge connects the audio engine to one browser peer at a time. As an
// output it pulls the graph every 20ms, opus-encodes the mono downmix and
// writes it to the peer's track (or discards it when no peer is attached).
// As a capture it delivers the peer's decoded microphone at 16kHz.
type Bridge struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	enc      frameEncoder
	track    sampleWriter
	onFrame  func([]int16)
	controls Controls
	peer     *webrtc.PeerConnection
	stopCh   chan struct{}
	done     chan struct{}
}

func NewBridge(cfg Config, logger zerolog.Logger) *Bridge {
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = ParseICEServers("")
	}
	return &Bridge{cfg: cfg, log: logger.With().Str("component", "rtc").Logger()}
}

// SetControls installs the handler for data channel commands.
func (b *Bridge) SetControls(c Controls) {
	b.mu.Lock()
	b.controls = c
	b.mu.Unlock()
}

// Start begins pacing src out to the peer.
func (b *Bridge) Start(src beep.Streamer, rate beep.SampleRate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopCh != nil {
		return nil
	}
	if b.enc == nil {
		enc, err := opus.NewEncoder(opusRate, 1, opus.AppVoIP)
		if err != nil {
			return fmt.Errorf("opus encoder: %w", err)
		}
		b.enc = enc
	}
	if rate != opusRate {
		src = beep.Resample(4, rate, opusRate, src)
	}
	b.stopCh = make(chan struct{})
	b.done = make(chan struct{})
	go b.pacer(src, b.stopCh, b.done)
	return nil
}

// Open registers the receiver of microphone frames.
func (b *Bridge) Open(_ context.Context, onFrame func(pcm []int16)) error {
	b.mu.Lock()
	b.onFrame = onFrame
	b.mu.Unlock()
	return nil
}

// Close stops the pacer and hangs up the peer. Safe to call more than once.
func (b *Bridge) Close() error {
	b.mu.Lock()
	stop, done, peer := b.stopCh, b.done, b.peer
	b.stopCh, b.done, b.peer, b.track, b.onFrame = nil, nil, nil, nil, nil
	b.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
	if peer != nil {
		return peer.Close()
	}
	return nil
}

// Connected reports whether a peer track is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.track != nil
}

func (b *Bridge) pacer(src beep.Streamer, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	buf := make([][2]float64, frameSamples)
	pcm := make([]int16, frameSamples)
	opusBuf := make([]byte, 4000)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// the graph is pulled even without a peer so its clock keeps moving
			n, _ := src.Stream(buf)
			downmix(buf[:n], pcm)
			b.mu.Lock()
			track, enc := b.track, b.enc
			b.mu.Unlock()
			if track == nil {
				continue
			}
			n, err := enc.Encode(pcm, opusBuf)
			if err != nil || n == 0 {
				b.log.Debug().Err(err).Msg("opus encode")
				continue
			}
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			_ = track.WriteSample(media.Sample{Data: pkt, Duration: frameDuration})
		}
	}
}

// downmix writes the mono average of stereo into pcm and zero-fills the rest.
func downmix(stereo [][2]float64, pcm []int16) {
	for i := range pcm {
		if i >= len(stereo) {
			pcm[i] = 0
			continue
		}
		v := (stereo[i][0] + stereo[i][1]) / 2 * 32767
		v = max(-32768, min(32767, v))
		pcm[i] = int16(v)
	}
}

// readMic decodes packets from read until it fails and hands each frame to
// the registered capture callback.
func (b *Bridge) readMic(read func() ([]byte, error), dec frameDecoder) {
	pcm := make([]int16, micRate*60/1000) // longest opus frame
	for {
		payload, err := read()
		if err != nil {
			b.log.Debug().Err(err).Msg("mic track ended")
			return
		}
		if len(payload) == 0 {
			continue
		}
		n, err := dec.Decode(payload, pcm)
		if err != nil {
			b.log.Debug().Err(err).Msg("opus decode")
			continue
		}
		b.mu.Lock()
		onFrame := b.onFrame
		b.mu.Unlock()
		if onFrame != nil && n > 0 {
			frame := make([]int16, n)
			copy(frame, pcm[:n])
			onFrame(frame)
		}
	}
}
