package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chadiek/companion/internal/agent"
	"github.com/chadiek/companion/internal/ambient"
	"github.com/chadiek/companion/internal/audio"
	"github.com/chadiek/companion/internal/barge"
	"github.com/chadiek/companion/internal/bus"
	"github.com/chadiek/companion/internal/config"
	"github.com/chadiek/companion/internal/llm"
	"github.com/chadiek/companion/internal/metrics"
	"github.com/chadiek/companion/internal/persona"
	"github.com/chadiek/companion/internal/playback"
	"github.com/chadiek/companion/internal/profile"
	"github.com/chadiek/companion/internal/rtc"
	"github.com/chadiek/companion/internal/transcript"
	"github.com/chadiek/companion/internal/tts"
)

// app is the fully wired companion.
type app struct {
	cfg        config.Config
	log        zerolog.Logger
	bus        *bus.EventBus
	metrics    *metrics.Metrics
	engine     *audio.Engine
	bridge     *rtc.Bridge // nil unless a webrtc device is selected
	ambient    *ambient.Synth
	player     *playback.Controller
	recognizer *transcript.AssemblyAI
	detector   *barge.Detector
	conv       *agent.Conversation
}

func buildApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger, bus: bus.NewEventBus(), metrics: metrics.New()}

	catalog, err := persona.LoadCatalog(cfg.PersonasFile)
	if err != nil {
		return nil, err
	}
	profiles, err := newProfileStore(cfg)
	if err != nil {
		return nil, err
	}
	synth, err := tts.New(cfg.TTSProvider, cfg.ElevenLabsKey, cfg.DeepgramKey)
	if err != nil {
		return nil, err
	}
	gen := newGenerator(ctx, cfg, logger)

	out, capture := a.devices()
	a.engine = audio.NewEngine(audio.Config{Graph: audio.GraphConfig{SampleRate: cfg.SampleRate}}, out, capture, logger)
	a.ambient = ambient.NewSynth(a.engine.Graph(), ambient.Config{}, logger)
	a.metrics.WatchAmbientVoices(a.ambient.ActiveVoices)
	a.player = playback.NewController(a.engine.Graph(), meteredDucker{a.ambient.Ducker(), a.metrics}, logger)

	a.recognizer = transcript.NewAssemblyAI(cfg.AssemblyAIKey, logger)
	a.engine.OnMicFrame(a.recognizer.Feed)

	a.conv = agent.New(agent.Config{
		Persona:         persona.Helios,
		GenerateTimeout: cfg.GenerateTimeout,
		SynthTimeout:    cfg.SynthTimeout,
	}, agent.Deps{
		Audio:      a.engine,
		Ambient:    a.ambient,
		Player:     a.player,
		Recognizer: a.recognizer,
		Generator:  gen,
		Synth:      synth,
		Catalog:    catalog,
		Profiles:   profiles,
		Bus:        a.bus,
		Metrics:    a.metrics,
	}, logger)

	if cfg.BargeIn {
		bc := barge.DefaultSpeaker()
		if cfg.AudioInput == "webrtc" {
			bc = barge.DefaultHeadset()
		}
		a.detector = barge.NewDetector(bc, barge.Events{
			OnTrigger: func(_ time.Time, cues barge.Cues) {
				logger.Info().Bool("vad", cues.VAD).Bool("dtd", cues.DTD).Msg("barge-in")
				a.conv.Interrupt()
			},
		}, a.engine.VoiceTap().Level)
		a.engine.OnMicFrame(a.detector.Feed)
	}
	a.player.SetHooks(playback.Hooks{OnStart: a.speechStarted, OnFinish: a.speechFinished})

	if a.bridge != nil {
		a.bridge.SetControls(a.conv)
	}
	return a, nil
}

// devices picks the output and capture for the configured backends.
func (a *app) devices() (audio.Output, audio.Capture) {
	if a.cfg.AudioOutput == "webrtc" || a.cfg.AudioInput == "webrtc" {
		a.bridge = rtc.NewBridge(rtc.Config{ICEServers: rtc.ParseICEServers(a.cfg.ICEServersJSON)}, a.log)
	}
	var out audio.Output
	switch a.cfg.AudioOutput {
	case "speaker":
		out = &audio.SpeakerOutput{}
	case "webrtc":
		out = a.bridge
	default:
		out = &audio.NullOutput{}
	}
	var capture audio.Capture
	switch a.cfg.AudioInput {
	case "portaudio":
		capture = &audio.PortAudioCapture{}
	case "webrtc":
		capture = a.bridge
	}
	return out, capture
}

func (a *app) speechStarted(d time.Duration) {
	if a.detector != nil {
		a.detector.SetSpeaking(true)
	}
	a.bus.Publish(bus.Event{Type: bus.EventTypeSpeechStart, Data: map[string]any{"duration_ms": d.Milliseconds()}})
}

func (a *app) speechFinished(o playback.Outcome) {
	if a.detector != nil {
		a.detector.SetSpeaking(false)
	}
	a.metrics.Playback(o.String())
	a.bus.Publish(bus.Event{Type: bus.EventTypeSpeechEnd, Data: map[string]any{"outcome": o.String()}})
}

// shutdown releases the devices and remote sessions.
func (a *app) shutdown() {
	_ = a.conv.SetVoiceMode(context.Background(), false)
	if err := a.recognizer.Stop(); err != nil {
		a.log.Debug().Err(err).Msg("recognizer stop")
	}
	a.ambient.Dispose()
	if err := a.engine.Dispose(); err != nil {
		a.log.Warn().Err(err).Msg("audio dispose")
	}
	a.bus.Clear()
}

func newProfileStore(cfg config.Config) (profile.Store, error) {
	switch cfg.ProfileStore {
	case "supabase":
		return profile.NewSupabaseStore(profile.SupabaseConfig{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
			Bucket:         cfg.SupabaseBucket,
		})
	default:
		return profile.NewFileStore(cfg.ProfilePath), nil
	}
}

func newGenerator(ctx context.Context, cfg config.Config, logger zerolog.Logger) llm.Generator {
	switch cfg.LLMProvider {
	case "cerebras":
		return llm.NewCerebrasClient(cfg.CerebrasKey, cfg.CerebrasModelID)
	default:
		g, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:    cfg.GeminiKey,
			FastModel: cfg.GeminiFastModel,
			DeepModel: cfg.GeminiDeepModel,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("gemini unavailable")
			return unavailableGenerator{err: err}
		}
		return g
	}
}

// unavailableGenerator fails every request so turns fall back to the comfort line.
type unavailableGenerator struct{ err error }

func (u unavailableGenerator) Generate(context.Context, llm.Request) (string, error) {
	return "", fmt.Errorf("generator unavailable: %w", u.err)
}

// meteredDucker counts duck transitions on their way to the ambient bus.
type meteredDucker struct {
	d *ambient.Ducker
	m *metrics.Metrics
}

func (m meteredDucker) SetDucked(on bool) {
	if m.d.Duck(on) {
		m.m.Duck(on)
	}
}
