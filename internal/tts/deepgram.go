package tts

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"

	"github.com/chadiek/companion/internal/persona"
	"github.com/chadiek/companion/internal/playback"
)

// DeepgramClient synthesizes linear16 speech over the Deepgram speak
// websocket and returns it as WAV.
type DeepgramClient struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string

	// IdleWindow ends collection once audio has stopped arriving.
	IdleWindow time.Duration
	// Deadline bounds a single synthesis.
	Deadline time.Duration
}

func NewDeepgramClient(apiKey, model string) *DeepgramClient {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramClient{
		apiKey:     apiKey,
		model:      model,
		sampleRate: 48000,
		encoding:   "linear16",
		IdleWindow: 400 * time.Millisecond,
		Deadline:   12 * time.Second,
	}
}

func (d *DeepgramClient) Synthesize(ctx context.Context, text string, voice persona.VoiceProfile) ([]byte, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("deepgram: %w", ErrMissingKey)
	}
	spoken := PrepareText(text)
	if spoken == "" {
		return nil, nil
	}
	model := voice.DeepgramModel
	if model == "" {
		model = d.model
	}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      model,
		Encoding:   d.encoding,
		SampleRate: d.sampleRate,
	}

	var (
		mu          sync.Mutex
		pcm         bytes.Buffer
		lastRecv    atomic.Int64
		seenAudio   atomic.Bool
		remoteError atomic.Value
	)
	cb := &speakCallback{
		onBinary: func(data []byte) error {
			if len(data) == 0 {
				return nil
			}
			lastRecv.Store(time.Now().UnixNano())
			seenAudio.Store(true)
			mu.Lock()
			pcm.Write(data)
			mu.Unlock()
			return nil
		},
		onError: func(er *msginterfaces.ErrorResponse) error {
			remoteError.Store(fmt.Sprintf("%+v", *er))
			return nil
		},
	}

	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create ws client: %w", err)
	}
	defer dg.Stop()

	if ok := dg.Connect(); !ok {
		return nil, fmt.Errorf("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(spoken); err != nil {
		return nil, fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		return nil, fmt.Errorf("deepgram: flush: %w", err)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(d.Deadline)
wait:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if msg, ok := remoteError.Load().(string); ok {
				return nil, fmt.Errorf("deepgram: %s", msg)
			}
			if seenAudio.Load() && time.Since(time.Unix(0, lastRecv.Load())) > d.IdleWindow {
				break wait
			}
			if time.Now().After(deadline) {
				break wait
			}
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if pcm.Len() == 0 {
		return nil, fmt.Errorf("deepgram: %w", ErrNoAudio)
	}
	return playback.WAV(pcm.Bytes(), d.sampleRate, 1), nil
}

type speakCallback struct {
	onBinary func([]byte) error
	onError  func(*msginterfaces.ErrorResponse) error
}

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Error(er *msginterfaces.ErrorResponse) error {
	if s.onError != nil {
		return s.onError(er)
	}
	return nil
}
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
