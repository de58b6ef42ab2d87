// Package config reads process settings from the environment (and an
// optional .env file).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const defaultICEServers = `[{"urls":["stun:stun.l.google.com:19302"]}]`

// Config holds application configuration.
type Config struct {
	HTTPAddress    string
	AuthPassword   string
	ICEServersJSON string

	AudioOutput string // speaker | webrtc | null
	AudioInput  string // portaudio | webrtc | none
	SampleRate  int

	LLMProvider     string // gemini | cerebras
	GeminiKey       string
	GeminiFastModel string
	GeminiDeepModel string
	CerebrasKey     string
	CerebrasModelID string

	TTSProvider   string // elevenlabs | deepgram
	ElevenLabsKey string
	DeepgramKey   string
	AssemblyAIKey string

	PersonasFile string

	ProfileStore           string // file | supabase
	ProfilePath            string
	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string

	BargeIn         bool
	GenerateTimeout time.Duration
	SynthTimeout    time.Duration

	LogLevel  string
	LogPretty bool
}

// Load reads .env (if present) and environment variables and returns Config
// with sane defaults. Malformed numeric values fall back to their defaults.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddress:    env("HTTP_ADDRESS", ":8080"),
		AuthPassword:   os.Getenv("AUTH_PASSWORD"),
		ICEServersJSON: env("ICE_SERVERS_JSON", defaultICEServers),

		AudioOutput: env("AUDIO_OUTPUT", "speaker"),
		AudioInput:  env("AUDIO_INPUT", "portaudio"),
		SampleRate:  envInt("SAMPLE_RATE", 48000),

		LLMProvider:     env("LLM_PROVIDER", "gemini"),
		GeminiKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiFastModel: env("GEMINI_FAST_MODEL", "gemini-flash-lite-latest"),
		GeminiDeepModel: env("GEMINI_DEEP_MODEL", "gemini-3-pro-preview"),
		CerebrasKey:     os.Getenv("CEREBRAS_API_KEY"),
		CerebrasModelID: env("CEREBRAS_MODEL_ID", "gpt-oss-120b"),

		TTSProvider:   env("TTS_PROVIDER", "elevenlabs"),
		ElevenLabsKey: os.Getenv("ELEVENLABS_API_KEY"),
		DeepgramKey:   os.Getenv("DEEPGRAM_API_KEY"),
		AssemblyAIKey: os.Getenv("ASSEMBLYAI_API_KEY"),

		PersonasFile: os.Getenv("PERSONAS_FILE"),

		ProfileStore:           env("PROFILE_STORE", "file"),
		ProfilePath:            env("PROFILE_PATH", "data/profile.json"),
		SupabaseURL:            os.Getenv("SUPABASE_URL"),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:         env("SUPABASE_BUCKET", "profiles"),

		BargeIn:         envBool("BARGE_IN", false),
		GenerateTimeout: envDuration("GENERATE_TIMEOUT", 90*time.Second),
		SynthTimeout:    envDuration("SYNTH_TIMEOUT", 30*time.Second),

		LogLevel:  env("LOG_LEVEL", "info"),
		LogPretty: envBool("LOG_PRETTY", false),
	}
}

// Validate rejects unknown enum values.
func (c Config) Validate() error {
	checks := []struct {
		key, value string
		allowed    []string
	}{
		{"AUDIO_OUTPUT", c.AudioOutput, []string{"speaker", "webrtc", "null"}},
		{"AUDIO_INPUT", c.AudioInput, []string{"portaudio", "webrtc", "none"}},
		{"LLM_PROVIDER", c.LLMProvider, []string{"gemini", "cerebras"}},
		{"TTS_PROVIDER", c.TTSProvider, []string{"elevenlabs", "deepgram"}},
		{"PROFILE_STORE", c.ProfileStore, []string{"file", "supabase"}},
	}
	for _, ch := range checks {
		ok := false
		for _, a := range ch.allowed {
			if ch.value == a {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("config: %s=%q, want one of %v", ch.key, ch.value, ch.allowed)
		}
	}
	if c.SampleRate < 8000 {
		return fmt.Errorf("config: SAMPLE_RATE=%d too low", c.SampleRate)
	}
	return nil
}

// Missing lists the keys whose absence disables a collaborator.
func (c Config) Missing() map[string]string {
	m := map[string]string{}
	if c.AssemblyAIKey == "" {
		m["ASSEMBLYAI_API_KEY"] = "voice mode will be unavailable"
	}
	switch c.LLMProvider {
	case "gemini":
		if c.GeminiKey == "" {
			m["GEMINI_API_KEY"] = "replies will use the fallback line"
		}
	case "cerebras":
		if c.CerebrasKey == "" {
			m["CEREBRAS_API_KEY"] = "replies will use the fallback line"
		}
	}
	switch c.TTSProvider {
	case "elevenlabs":
		if c.ElevenLabsKey == "" {
			m["ELEVENLABS_API_KEY"] = "replies will not be spoken"
		}
	case "deepgram":
		if c.DeepgramKey == "" {
			m["DEEPGRAM_API_KEY"] = "replies will not be spoken"
		}
	}
	if c.ProfileStore == "supabase" && (c.SupabaseURL == "" || c.SupabaseServiceRoleKey == "") {
		m["SUPABASE_URL/SUPABASE_SERVICE_ROLE_KEY"] = "profile will not persist"
	}
	return m
}

// Warn logs one warning per missing key.
func (c Config) Warn(logger zerolog.Logger) {
	for key, effect := range c.Missing() {
		logger.Warn().Str("key", key).Msgf("%s not set - %s", key, effect)
	}
	logger.Info().
		Str("http_address", c.HTTPAddress).
		Str("audio_output", c.AudioOutput).
		Str("audio_input", c.AudioInput).
		Str("llm", c.LLMProvider).
		Str("tts", c.TTSProvider).
		Msg("config loaded")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

func envBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return def
}
