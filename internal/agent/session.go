// Package agent drives the listen, think and speak cycle of a conversation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chadiek/companion/internal/bus"
	"github.com/chadiek/companion/internal/duo"
	"github.com/chadiek/companion/internal/llm"
	"github.com/chadiek/companion/internal/metrics"
	"github.com/chadiek/companion/internal/persona"
	"github.com/chadiek/companion/internal/playback"
	"github.com/chadiek/companion/internal/profile"
	"github.com/chadiek/companion/internal/transcript"
)

// Config tunes a Conversation.
type Config struct {
	Persona         persona.ID
	Depth           llm.Depth
	AmbientVolume   float64
	GenerateTimeout time.Duration // default 90s
	SynthTimeout    time.Duration // default 30s
}

// Deps are the collaborators a Conversation drives. Recognizer, Profiles,
// Bus and Metrics may be nil.
type Deps struct {
	Audio      Audio
	Ambient    Ambient
	Player     Player
	Recognizer Recognizer
	Generator  Generator
	Synth      Synthesizer
	Catalog    *persona.Catalog
	Profiles   profile.Store
	Bus        *bus.EventBus
	Metrics    *metrics.Metrics
}

// Conversation is the session state machine. Every entry point is safe for
// concurrent use and never returns collaborator failures, except that
// SetVoiceMode reports ErrRecognitionUnavailable.
type Conversation struct {
	cfg     Config
	deps    Deps
	root    zerolog.Logger
	log     zerolog.Logger
	metrics *metrics.Metrics

	// recMu serializes recognizer Start/Stop with the voice mode check.
	// Lock order: recMu before mu.
	recMu sync.Mutex

	mu         sync.Mutex
	base       context.Context
	started    bool
	s          Session
	transcript []Utterance
	lastTopic  string
	turnCancel context.CancelFunc
	outbox     []bus.Event
	// recognition session whose result started the current turn
	handled uint64
}

func New(cfg Config, deps Deps, logger zerolog.Logger) *Conversation {
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 90 * time.Second
	}
	if cfg.SynthTimeout <= 0 {
		cfg.SynthTimeout = 30 * time.Second
	}
	if deps.Catalog == nil {
		deps.Catalog = persona.DefaultCatalog()
	}
	if deps.Profiles == nil {
		deps.Profiles = &profile.MemoryStore{}
	}
	p := cfg.Persona
	if !deps.Catalog.Known(p) {
		p = persona.Helios
	}
	vol := cfg.AmbientVolume
	if deps.Ambient != nil {
		vol = deps.Ambient.Volume()
	}
	return &Conversation{
		cfg:     cfg,
		deps:    deps,
		root:    logger,
		log:     logger.With().Str("component", "agent").Logger(),
		metrics: deps.Metrics,
		base:    context.Background(),
		s: Session{
			ID:            uuid.NewString(),
			State:         StateIdle,
			Persona:       p,
			AmbientVolume: vol,
			Depth:         cfg.Depth,
			DepthName:     cfg.Depth.String(),
		},
	}
}

// Start loads the stored profile and begins consuming recognizer events until
// ctx is done. Calling it again is a no-op.
func (c *Conversation) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.base = ctx
	c.mu.Unlock()

	p, err := c.deps.Profiles.Load(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to load profile")
	} else {
		c.mu.Lock()
		c.s.UserName = p.Name
		c.lastTopic = p.LastTopic
		c.mu.Unlock()
		if p.Name != "" {
			c.log.Info().Str("name", p.Name).Msg("profile loaded")
		}
	}

	if c.deps.Recognizer != nil {
		go c.consume(ctx, c.deps.Recognizer.Events())
	}
	return nil
}

// Initialize brings up the audio engine. The first successful call adds the
// greeting to the transcript; later calls only resume audio.
func (c *Conversation) Initialize(_ context.Context) error {
	if err := c.deps.Audio.Initialize(); err != nil {
		return fmt.Errorf("agent: initialize audio: %w", err)
	}
	c.mu.Lock()
	defer c.unlock()
	if c.s.Initialized {
		return nil
	}
	c.s.Initialized = true
	text := Greeting
	if c.s.UserName != "" {
		text = welcomeBack(c.s.UserName)
	}
	c.appendLocked(Utterance{Role: RoleAgent, Text: text, Persona: persona.Helios, Greeting: true})
	return nil
}

// SetVoiceMode turns continuous voice mode on or off. Turning it off stops
// recognition and any playback and leaves the session idle.
func (c *Conversation) SetVoiceMode(_ context.Context, on bool) error {
	if !on {
		c.voiceOff()
		return nil
	}
	if c.deps.Recognizer == nil || !c.deps.Recognizer.Available() {
		c.mu.Lock()
		c.emitLocked(bus.EventTypeNotice, map[string]any{
			"code":    "recognition-unavailable",
			"message": "Speech recognition is not available.",
		})
		c.unlock()
		return ErrRecognitionUnavailable
	}
	if err := c.deps.Audio.Initialize(); err != nil {
		c.log.Warn().Err(err).Msg("audio initialize failed")
	}

	c.mu.Lock()
	if c.s.VoiceMode {
		c.unlock()
		return nil
	}
	c.s.VoiceMode = true
	c.emitLocked(bus.EventTypeVoiceModeChanged, map[string]any{"on": true})
	busy := c.s.Processing
	c.unlock()

	if !busy {
		c.listen()
	}
	return nil
}

func (c *Conversation) voiceOff() {
	c.mu.Lock()
	changed := c.s.VoiceMode
	c.s.VoiceMode = false
	c.abortTurnLocked()
	c.setSpeakerLocked(persona.None)
	c.setStateLocked(StateIdle)
	if changed {
		c.emitLocked(bus.EventTypeVoiceModeChanged, map[string]any{"on": false})
	}
	c.unlock()
	c.stopRecognition()
	c.deps.Player.Stop()
}

func (c *Conversation) stopRecognition() {
	if c.deps.Recognizer == nil {
		return
	}
	c.recMu.Lock()
	defer c.recMu.Unlock()
	if err := c.deps.Recognizer.Stop(); err != nil {
		c.log.Debug().Err(err).Msg("recognizer stop")
	}
}

// SendText starts a turn for text and returns its turn number, or 0 when
// text is blank. A turn in flight is superseded. The turn runs in the
// background and outlives ctx's cancellation.
func (c *Conversation) SendText(ctx context.Context, text string) uint64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	return c.startTurn(ctx, text, false, 0)
}

// startTurn runs a turn for text. A heard turn starts only while voice mode
// is on and the result accepted under token has not been aborted since.
func (c *Conversation) startTurn(ctx context.Context, text string, heard bool, token uint64) uint64 {
	c.mu.Lock()
	if heard && (!c.s.VoiceMode || !c.s.Processing || c.s.Turn != token) {
		c.unlock()
		c.log.Debug().Str("text", text).Msg("heard result dropped")
		return 0
	}
	c.abortTurnLocked()
	c.s.Turn++
	turn := c.s.Turn
	c.s.Processing = true

	prompt := text
	if c.s.UserName == "" {
		var name string
		name, prompt = captureName(text)
		c.s.UserName = name
		c.log.Info().Str("name", name).Msg("user name captured")
	}
	req := llm.Request{
		Prompt:    prompt,
		Depth:     c.s.Depth,
		History:   c.historyLocked(),
		UserName:  c.s.UserName,
		Persona:   c.s.Persona.DisplayName(),
		LastTopic: c.lastTopic,
	}
	c.appendLocked(Utterance{Role: RoleUser, Text: text})
	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.turnCancel = cancel
	wasListening := c.s.State == StateListening
	c.setStateLocked(StateThinking)
	c.unlock()

	if wasListening {
		c.stopRecognition()
	}

	c.log.Info().Uint64("turn", turn).Str("depth", req.Depth.String()).Msg("turn started")
	go c.runTurn(tctx, turn, text, req)
	return turn
}

func (c *Conversation) runTurn(ctx context.Context, turn uint64, text string, req llm.Request) {
	gctx, cancel := context.WithTimeout(ctx, c.cfg.GenerateTimeout)
	start := time.Now()
	reply, err := c.deps.Generator.Generate(gctx, req)
	cancel()
	c.metrics.Generation(req.Depth.String(), time.Since(start), err)

	if ctx.Err() != nil {
		c.metrics.Turn("stale")
		return
	}
	outcome := "replied"
	reply = strings.TrimSpace(reply)
	if err != nil || reply == "" {
		c.log.Warn().Err(err).Uint64("turn", turn).Msg("generation failed, using fallback")
		reply = llm.Fallback
		outcome = "fallback"
	}

	c.mu.Lock()
	if turn != c.s.Turn {
		c.unlock()
		c.metrics.Turn("stale")
		return
	}
	p := c.s.Persona
	c.appendLocked(Utterance{Role: RoleAgent, Text: reply, Persona: p})
	if outcome == "replied" {
		c.lastTopic = llm.Topic(text)
	}
	stored := profile.Profile{Name: c.s.UserName, LastTopic: c.lastTopic}
	muted := c.s.Muted
	c.setStateLocked(StateSpeaking)
	c.unlock()

	if err := c.deps.Profiles.Save(ctx, stored); err != nil {
		c.log.Warn().Err(err).Msg("failed to save profile")
	}

	if muted {
		c.metrics.SynthesisSkipped("muted")
	} else if c.speak(ctx, turn, p, reply) {
		outcome = "interrupted"
	}
	if c.finishTurn(turn) {
		c.metrics.Turn(outcome)
		c.log.Info().Uint64("turn", turn).Str("outcome", outcome).Msg("turn finished")
	}
}

// speak voices reply and reports whether playback was cut short.
func (c *Conversation) speak(ctx context.Context, turn uint64, p persona.ID, reply string) bool {
	if p.MultiSpeaker() {
		seq := duo.NewSequencer(c.deps.Catalog, c.boundedSynth(), c.deps.Player, func(id persona.ID) {
			c.setSpeaker(turn, id)
		}, c.root)
		res := seq.PlayDuo(ctx, reply)
		if res.Skipped > 0 {
			c.metrics.SynthesisSkipped("segment")
		}
		return res.Interrupted
	}

	audio, err := c.boundedSynth().Synthesize(ctx, reply, c.deps.Catalog.Voice(p))
	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("speech synthesis failed")
		c.metrics.SynthesisSkipped("error")
		return false
	}
	if len(audio) == 0 {
		c.metrics.SynthesisSkipped("empty")
		return false
	}
	c.setSpeaker(turn, p)
	out := c.deps.Player.Play(ctx, audio)
	c.setSpeaker(turn, persona.None)
	return out == playback.OutcomeInterrupted || out == playback.OutcomeSuperseded
}

// finishTurn clears processing and re-arms listening. It reports false for a
// turn that was superseded or aborted.
func (c *Conversation) finishTurn(turn uint64) bool {
	c.mu.Lock()
	if turn != c.s.Turn || !c.s.Processing {
		c.unlock()
		return false
	}
	c.s.Processing = false
	if c.turnCancel != nil {
		c.turnCancel()
		c.turnCancel = nil
	}
	voice := c.s.VoiceMode
	if !voice {
		c.setStateLocked(StateIdle)
	}
	c.unlock()

	if voice {
		c.listen()
	}
	return true
}

// listen starts recognition if voice mode is on and no turn is in flight.
func (c *Conversation) listen() {
	if c.deps.Recognizer == nil {
		return
	}
	c.recMu.Lock()
	defer c.recMu.Unlock()

	c.mu.Lock()
	ok := c.s.VoiceMode && !c.s.Processing
	if ok {
		c.setStateLocked(StateListening)
	}
	c.unlock()
	if !ok {
		return
	}

	err := c.deps.Recognizer.Start(c.base)
	switch {
	case err == nil, errors.Is(err, transcript.ErrAlreadyStarted):
		return
	}
	c.log.Error().Err(err).Msg("failed to start recognition")
	c.mu.Lock()
	c.s.VoiceMode = false
	c.setStateLocked(StateIdle)
	c.emitLocked(bus.EventTypeVoiceModeChanged, map[string]any{"on": false})
	c.emitLocked(bus.EventTypeNotice, map[string]any{
		"code":    "recognition-failed",
		"message": "I couldn't start listening. Try voice mode again in a moment.",
	})
	c.unlock()
}

func (c *Conversation) consume(ctx context.Context, events <-chan transcript.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleRecognition(ctx, ev)
		}
	}
}

func (c *Conversation) handleRecognition(ctx context.Context, ev transcript.Event) {
	c.metrics.Recognition(ev.Kind.String())
	switch ev.Kind {
	case transcript.EventStart:
		c.deps.Audio.ConnectMicrophone()

	case transcript.EventResult:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return
		}
		c.mu.Lock()
		if c.s.Processing || !c.s.VoiceMode {
			c.unlock()
			return
		}
		c.s.Processing = true
		c.handled = ev.Session
		token := c.s.Turn
		c.unlock()
		c.stopRecognition()
		c.log.Info().Str("text", text).Msg("heard")
		c.startTurn(ctx, text, true, token)

	case transcript.EventError:
		if ev.Err == transcript.ErrNoSpeech {
			return
		}
		c.log.Warn().Str("error", ev.Err).Msg("recognition error")
		c.mu.Lock()
		if !c.s.Processing && c.s.State == StateListening {
			c.setStateLocked(StateIdle)
		}
		c.unlock()

	case transcript.EventEnd:
		c.mu.Lock()
		if ev.Session != 0 && ev.Session == c.handled {
			// the turn re-arms listening itself
			c.unlock()
			return
		}
		restart := c.s.VoiceMode && !c.s.Processing
		if !restart && !c.s.Processing {
			c.setStateLocked(StateIdle)
		}
		c.unlock()
		if restart {
			c.listen()
		}
	}
}

// Interrupt stops the agent mid-reply. A turn still waiting on its reply is
// abandoned; a speaking turn ends early. In voice mode listening resumes.
func (c *Conversation) Interrupt() {
	c.mu.Lock()
	thinking := c.s.State == StateThinking && c.s.Processing
	switch {
	case thinking:
		c.abortTurnLocked()
		if !c.s.VoiceMode {
			c.setStateLocked(StateIdle)
		}
	case c.s.Processing && c.turnCancel != nil:
		c.turnCancel()
	}
	voice := c.s.VoiceMode
	c.unlock()

	c.deps.Player.Stop()
	if thinking && voice {
		c.listen()
	}
}

func (c *Conversation) SetMuted(muted bool) {
	c.deps.Audio.SetMuted(muted)
	c.mu.Lock()
	c.s.Muted = muted
	c.emitLocked(bus.EventTypeMutedChanged, map[string]any{"muted": muted})
	c.unlock()
}

func (c *Conversation) SetAmbient(on bool) {
	if err := c.deps.Audio.Initialize(); err != nil {
		c.log.Warn().Err(err).Msg("audio initialize failed")
	}
	if on {
		c.deps.Ambient.Enable()
	} else {
		c.deps.Ambient.Disable()
	}
	c.mu.Lock()
	c.s.AmbientEnabled = on
	c.emitAmbientLocked()
	c.unlock()
}

func (c *Conversation) SetAmbientVolume(v float64) {
	c.deps.Ambient.SetVolume(v)
	c.mu.Lock()
	c.s.AmbientVolume = c.deps.Ambient.Volume()
	c.emitAmbientLocked()
	c.unlock()
}

// SetPersona switches the voice and prompt used from the next turn on.
func (c *Conversation) SetPersona(id persona.ID) error {
	if !c.deps.Catalog.Known(id) {
		return fmt.Errorf("agent: unknown persona %q", id)
	}
	c.mu.Lock()
	c.setPersonaLocked(id)
	c.unlock()
	return nil
}

// CyclePersona advances to the next persona and returns it.
func (c *Conversation) CyclePersona() persona.ID {
	c.mu.Lock()
	defer c.unlock()
	c.setPersonaLocked(c.deps.Catalog.Next(c.s.Persona))
	return c.s.Persona
}

func (c *Conversation) SetDeepThinking(on bool) {
	d := llm.Fast
	if on {
		d = llm.Deep
	}
	c.mu.Lock()
	c.s.Depth = d
	c.s.DepthName = d.String()
	c.emitLocked(bus.EventTypeDepthChanged, map[string]any{"depth": d.String()})
	c.unlock()
}

func (c *Conversation) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

func (c *Conversation) Transcript() []Utterance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Utterance, len(c.transcript))
	copy(out, c.transcript)
	return out
}

func (c *Conversation) boundedSynth() Synthesizer {
	return timeoutSynth{s: c.deps.Synth, d: c.cfg.SynthTimeout}
}

type timeoutSynth struct {
	s Synthesizer
	d time.Duration
}

func (t timeoutSynth) Synthesize(ctx context.Context, text string, voice persona.VoiceProfile) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.s.Synthesize(ctx, text, voice)
}

func (c *Conversation) setSpeaker(turn uint64, id persona.ID) {
	c.mu.Lock()
	if turn == c.s.Turn {
		c.setSpeakerLocked(id)
	}
	c.unlock()
}

func (c *Conversation) setSpeakerLocked(id persona.ID) {
	if c.s.Speaker == id {
		return
	}
	c.s.Speaker = id
	c.emitLocked(bus.EventTypeSpeakerChanged, map[string]any{"speaker": string(id)})
}

func (c *Conversation) setPersonaLocked(id persona.ID) {
	if c.s.Persona == id {
		return
	}
	c.s.Persona = id
	c.emitLocked(bus.EventTypePersonaChanged, map[string]any{
		"persona": string(id),
		"name":    id.DisplayName(),
	})
}

func (c *Conversation) setStateLocked(st State) {
	if c.s.State == st {
		return
	}
	c.log.Debug().Str("from", string(c.s.State)).Str("to", string(st)).Msg("state")
	c.s.State = st
	c.metrics.SetState(string(st))
	c.emitLocked(bus.EventTypeStateChanged, map[string]any{"state": string(st), "turn": c.s.Turn})
}

// abortTurnLocked cancels the turn in flight. Its late callbacks see a newer
// turn number and are dropped.
func (c *Conversation) abortTurnLocked() {
	if c.turnCancel != nil {
		c.turnCancel()
		c.turnCancel = nil
	}
	if c.s.Processing {
		c.s.Turn++
	}
	c.s.Processing = false
}

func (c *Conversation) appendLocked(u Utterance) {
	u.ID = uuid.NewString()
	u.At = time.Now()
	c.transcript = append(c.transcript, u)
	c.emitLocked(bus.EventTypeUtterance, map[string]any{"utterance": u})
}

func (c *Conversation) historyLocked() []llm.Turn {
	h := make([]llm.Turn, 0, len(c.transcript))
	for _, u := range c.transcript {
		if u.Greeting {
			continue
		}
		role := llm.RoleUser
		if u.Role == RoleAgent {
			role = llm.RoleModel
		}
		h = append(h, llm.Turn{Role: role, Text: u.Text})
	}
	return h
}

func (c *Conversation) emitAmbientLocked() {
	c.emitLocked(bus.EventTypeAmbientChanged, map[string]any{
		"enabled": c.s.AmbientEnabled,
		"volume":  c.s.AmbientVolume,
	})
}

func (c *Conversation) emitLocked(t bus.EventType, data map[string]any) {
	if c.deps.Bus == nil {
		return
	}
	c.outbox = append(c.outbox, bus.Event{Type: t, Data: data})
}

// unlock releases mu and publishes the events queued while it was held.
func (c *Conversation) unlock() {
	events := c.outbox
	c.outbox = nil
	c.mu.Unlock()
	for _, ev := range events {
		c.deps.Bus.Publish(ev)
	}
}
