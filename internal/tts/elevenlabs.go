package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/chadiek/companion/internal/persona"
)

const elevenLabsHost = "api.elevenlabs.io"

// ElevenLabsClient synthesizes MP3 speech over the HTTP stream endpoint.
type ElevenLabsClient struct {
	HTTPClient *http.Client
	APIKey     string
}

func NewElevenLabsClient(apiKey string) *ElevenLabsClient {
	return &ElevenLabsClient{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		APIKey:     apiKey,
	}
}

// Synthesize returns MP3 bytes for text read by voice, or nil when the text
// has nothing speakable after cue removal.
func (e *ElevenLabsClient) Synthesize(ctx context.Context, text string, voice persona.VoiceProfile) ([]byte, error) {
	if e.APIKey == "" {
		return nil, fmt.Errorf("elevenlabs: %w", ErrMissingKey)
	}
	if voice.VoiceID == "" {
		return nil, fmt.Errorf("elevenlabs: voice id missing for persona %q", voice.Persona)
	}
	spoken := PrepareText(text)
	if spoken == "" {
		return nil, nil
	}

	u := url.URL{
		Scheme: "https",
		Host:   elevenLabsHost,
		Path:   "/v1/text-to-speech/" + voice.VoiceID + "/stream",
	}
	model := voice.Model
	if model == "" {
		model = "eleven_turbo_v2_5"
	}
	body := map[string]any{
		"model_id": model,
		"text":     spoken,
		"voice_settings": map[string]any{
			"stability":         voice.Stability,
			"similarity_boost":  voice.SimilarityBoost,
			"style":             voice.Style,
			"use_speaker_boost": voice.SpeakerBoost,
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs http error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("elevenlabs http status=%d body=%s", resp.StatusCode, string(b))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs http read error: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("elevenlabs: %w", ErrNoAudio)
	}
	return audio, nil
}
