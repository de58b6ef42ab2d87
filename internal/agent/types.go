package agent

import (
	"context"
	"errors"
	"time"

	"github.com/chadiek/companion/internal/llm"
	"github.com/chadiek/companion/internal/persona"
	"github.com/chadiek/companion/internal/playback"
	"github.com/chadiek/companion/internal/transcript"
)

// ErrRecognitionUnavailable is returned when voice mode is requested but no
// speech recognition is configured.
var ErrRecognitionUnavailable = errors.New("agent: speech recognition unavailable")

// Recognizer is the speech recognition capability. Start and Stop may be
// called redundantly; Events delivers start/result/error/end for every session.
type Recognizer interface {
	Available() bool
	Start(ctx context.Context) error
	Stop() error
	Events() <-chan transcript.Event
}

// Synthesizer returns encoded audio for text. A nil result with a nil error
// means there is nothing to play.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice persona.VoiceProfile) ([]byte, error)
}

// Player plays one speech source at a time.
type Player interface {
	Play(ctx context.Context, encoded []byte) playback.Outcome
	Stop()
}

// Audio is the subset of the audio engine the conversation drives.
type Audio interface {
	Initialize() error
	SetMuted(bool)
	ConnectMicrophone()
}

// Ambient is the music bed.
type Ambient interface {
	Enable()
	Disable()
	SetVolume(float64)
	Volume() float64
}

// Generator produces reply text.
type Generator = llm.Generator

// State of the conversation.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateThinking  State = "thinking"
	StateSpeaking  State = "speaking"
)

// Role of an utterance.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Utterance is one transcript entry.
type Utterance struct {
	ID       string     `json:"id"`
	Role     Role       `json:"role"`
	Text     string     `json:"text"`
	Persona  persona.ID `json:"persona,omitempty"`
	At       time.Time  `json:"at"`
	Greeting bool       `json:"greeting,omitempty"` // never sent as history
}

// Session is a snapshot of the conversation's state.
type Session struct {
	ID             string     `json:"id"`
	State          State      `json:"state"`
	Persona        persona.ID `json:"persona"`
	Speaker        persona.ID `json:"speaker,omitempty"`
	Muted          bool       `json:"muted"`
	AmbientEnabled bool       `json:"ambient_enabled"`
	AmbientVolume  float64    `json:"ambient_volume"`
	VoiceMode      bool       `json:"voice_mode"`
	Processing     bool       `json:"processing"`
	Depth          llm.Depth  `json:"-"`
	DepthName      string     `json:"depth"`
	UserName       string     `json:"user_name,omitempty"`
	Initialized    bool       `json:"initialized"`
	Turn           uint64     `json:"turn"`
}
