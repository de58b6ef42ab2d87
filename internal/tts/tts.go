// Package tts turns agent replies into encoded speech.
package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/chadiek/companion/internal/persona"
)

var (
	ErrMissingKey = errors.New("api key missing")
	ErrNoAudio    = errors.New("no audio returned")
)

// Synthesizer returns encoded audio (MP3 or WAV) for text in the given voice.
// A nil slice with a nil error means there was nothing to say.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice persona.VoiceProfile) ([]byte, error)
}

// New picks a backend by name: "elevenlabs" (default) or "deepgram".
func New(provider, elevenKey, deepgramKey string) (Synthesizer, error) {
	switch provider {
	case "", "elevenlabs":
		return NewElevenLabsClient(elevenKey), nil
	case "deepgram":
		return NewDeepgramClient(deepgramKey, ""), nil
	}
	return nil, fmt.Errorf("tts: unknown provider %q", provider)
}
