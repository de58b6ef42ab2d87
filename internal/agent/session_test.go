package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/companion/internal/bus"
	"github.com/chadiek/companion/internal/llm"
	"github.com/chadiek/companion/internal/persona"
	"github.com/chadiek/companion/internal/playback"
	"github.com/chadiek/companion/internal/profile"
	"github.com/chadiek/companion/internal/transcript"
)

type fakeRecognizer struct {
	available bool
	startErr  error
	events    chan transcript.Event

	mu      sync.Mutex
	starts  int
	stops   int
	running bool
	session uint64
	// stopGate, when set, holds the next Stop until it is closed.
	stopGate chan struct{}
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{available: true, events: make(chan transcript.Event, 16)}
}

func (f *fakeRecognizer) Available() bool { return f.available }

func (f *fakeRecognizer) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	if f.running {
		return transcript.ErrAlreadyStarted
	}
	f.running = true
	f.session++
	f.events <- transcript.Event{Kind: transcript.EventStart, Session: f.session}
	return nil
}

func (f *fakeRecognizer) Stop() error {
	f.mu.Lock()
	gate := f.stopGate
	f.stopGate = nil
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if f.running {
		f.running = false
		f.events <- transcript.Event{Kind: transcript.EventEnd, Session: f.session}
	}
	return nil
}

func (f *fakeRecognizer) Events() <-chan transcript.Event { return f.events }

// hear delivers a result and ends the session the way the recognizer does.
func (f *fakeRecognizer) hear(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.events <- transcript.Event{Kind: transcript.EventResult, Session: f.session, Text: text}
	f.events <- transcript.Event{Kind: transcript.EventEnd, Session: f.session}
}

func (f *fakeRecognizer) silence() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.events <- transcript.Event{Kind: transcript.EventError, Session: f.session, Err: transcript.ErrNoSpeech}
	f.events <- transcript.Event{Kind: transcript.EventEnd, Session: f.session}
}

func (f *fakeRecognizer) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type fakeGenerator struct {
	mu    sync.Mutex
	reply string
	err   error
	block chan struct{}
	reqs  []llm.Request
}

func (f *fakeGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	block, reply, err := f.block, f.reply, f.err
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply, err
}

func (f *fakeGenerator) requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.reqs...)
}

type synthCall struct {
	text  string
	voice string
}

type fakeSynth struct {
	mu    sync.Mutex
	calls []synthCall
	empty map[string]bool
}

func (f *fakeSynth) Synthesize(_ context.Context, text string, voice persona.VoiceProfile) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, synthCall{text, voice.VoiceID})
	if f.empty[text] {
		return nil, nil
	}
	return []byte(text), nil
}

func (f *fakeSynth) voices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.voice)
	}
	return out
}

func (f *fakeSynth) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.text)
	}
	return out
}

// fakePlayer finishes each clip immediately unless hold is set, in which
// case it plays until Stop or cancellation.
type fakePlayer struct {
	mu     sync.Mutex
	hold   bool
	played []string
	stops  int
	cur    chan struct{}
	active int
	maxCon int
}

func (f *fakePlayer) Play(ctx context.Context, b []byte) playback.Outcome {
	f.mu.Lock()
	f.played = append(f.played, string(b))
	f.active++
	f.maxCon = max(f.maxCon, f.active)
	stop := make(chan struct{})
	f.cur = stop
	hold := f.hold
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()
	if !hold {
		return playback.OutcomeCompleted
	}
	select {
	case <-stop:
	case <-ctx.Done():
	}
	return playback.OutcomeInterrupted
}

func (f *fakePlayer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if f.cur != nil {
		close(f.cur)
		f.cur = nil
	}
}

func (f *fakePlayer) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxCon
}

func (f *fakePlayer) playing(n int) func() bool {
	return func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.played) >= n
	}
}

func (f *fakePlayer) snapshot() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.played...), f.stops
}

type fakeAudio struct {
	mu    sync.Mutex
	inits int
	mics  int
	muted bool
}

func (f *fakeAudio) Initialize() error { f.mu.Lock(); f.inits++; f.mu.Unlock(); return nil }
func (f *fakeAudio) SetMuted(m bool)   { f.mu.Lock(); f.muted = m; f.mu.Unlock() }
func (f *fakeAudio) ConnectMicrophone() {
	f.mu.Lock()
	f.mics++
	f.mu.Unlock()
}

type fakeAmbient struct {
	on  bool
	vol float64
}

func (f *fakeAmbient) Enable()             { f.on = true }
func (f *fakeAmbient) Disable()            { f.on = false }
func (f *fakeAmbient) SetVolume(v float64) { f.vol = min(max(v, 0), 1) }
func (f *fakeAmbient) Volume() float64     { return f.vol }

type harness struct {
	conv   *Conversation
	rec    *fakeRecognizer
	gen    *fakeGenerator
	synth  *fakeSynth
	player *fakePlayer
	audio  *fakeAudio
	store  *profile.MemoryStore
	bus    *bus.EventBus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		rec:    newFakeRecognizer(),
		gen:    &fakeGenerator{reply: "[softly] Hello there."},
		synth:  &fakeSynth{},
		player: &fakePlayer{},
		audio:  &fakeAudio{},
		store:  &profile.MemoryStore{},
		bus:    bus.NewEventBus(),
	}
	h.conv = New(Config{Persona: persona.Helios}, Deps{
		Audio:      h.audio,
		Ambient:    &fakeAmbient{vol: 0.5},
		Player:     h.player,
		Recognizer: h.rec,
		Generator:  h.gen,
		Synth:      h.synth,
		Profiles:   h.store,
		Bus:        h.bus,
	}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, h.conv.Start(ctx))
	return h
}

func (h *harness) waitState(t *testing.T, want State, processing bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := h.conv.Snapshot()
		return s.State == want && s.Processing == processing
	}, 2*time.Second, 5*time.Millisecond, "want state %s", want)
}

func TestConversation_NameCaptureInVoiceMode(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.conv.SetVoiceMode(context.Background(), true))
	h.waitState(t, StateListening, false)
	assert.Equal(t, 1, h.rec.startCount())

	h.rec.hear("My name is Alex")
	h.waitState(t, StateListening, false)
	require.Eventually(t, func() bool { return h.rec.startCount() == 2 }, time.Second, 5*time.Millisecond)

	reqs := h.gen.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "My name is Alex. Please acknowledge it warmly and ask how you can help me relax today.", reqs[0].Prompt)
	assert.Equal(t, "Alex", reqs[0].UserName)
	assert.Equal(t, "Helios", reqs[0].Persona)
	assert.Equal(t, "Alex", h.conv.Snapshot().UserName)

	played, _ := h.player.snapshot()
	assert.Equal(t, []string{"[softly] Hello there."}, played)

	stored, _ := h.store.Load(context.Background())
	assert.Equal(t, "Alex", stored.Name)
	assert.Equal(t, "My name is Alex", stored.LastTopic)
}

func TestConversation_CommandFirstMessageUsesFriend(t *testing.T) {
	h := newHarness(t)
	h.conv.SendText(context.Background(), "Help me sleep")
	h.waitState(t, StateIdle, false)
	reqs := h.gen.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Help me sleep", reqs[0].Prompt)
	assert.Equal(t, DefaultName, reqs[0].UserName)
}

func TestConversation_GenerationFailureSpeaksFallback(t *testing.T) {
	h := newHarness(t)
	h.gen.err = errors.New("upstream 503")
	h.conv.SendText(context.Background(), "Sam")
	h.waitState(t, StateIdle, false)

	tr := h.conv.Transcript()
	require.Len(t, tr, 2)
	assert.Equal(t, RoleAgent, tr[1].Role)
	assert.Equal(t, llm.Fallback, tr[1].Text)
	assert.Equal(t, []string{llm.Fallback}, h.synth.texts())
}

func TestConversation_GenerationFailureRearmsListening(t *testing.T) {
	h := newHarness(t)
	h.gen.err = errors.New("boom")
	require.NoError(t, h.conv.SetVoiceMode(context.Background(), true))
	h.waitState(t, StateListening, false)
	h.rec.hear("hello")
	require.Eventually(t, func() bool { return h.rec.startCount() == 2 }, time.Second, 5*time.Millisecond)
	h.waitState(t, StateListening, false)
}

func TestConversation_DuoPlaysSegmentsInOrder(t *testing.T) {
	h := newHarness(t)
	var speakers []string
	var mu sync.Mutex
	h.bus.Subscribe(bus.EventTypeSpeakerChanged, func(e bus.Event) {
		mu.Lock()
		speakers = append(speakers, e.Data["speaker"].(string))
		mu.Unlock()
	})
	require.NoError(t, h.conv.SetPersona(persona.Duo))
	h.gen.reply = "Helios: hello\nElara: hi there\n"
	h.conv.SendText(context.Background(), "Alex")
	h.waitState(t, StateIdle, false)

	played, _ := h.player.snapshot()
	assert.Equal(t, []string{"hello", "hi there"}, played)
	assert.Equal(t, 1, h.player.maxConcurrent())

	cat := persona.DefaultCatalog()
	assert.Equal(t, []string{cat.Voice(persona.Helios).VoiceID, cat.Voice(persona.Elara).VoiceID}, h.synth.voices())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"helios", "elara", ""}, speakers)
	assert.Equal(t, persona.None, h.conv.Snapshot().Speaker)
}

func TestConversation_DuoSkipsSegmentWithoutAudio(t *testing.T) {
	h := newHarness(t)
	h.synth.empty = map[string]bool{"hello": true}
	require.NoError(t, h.conv.SetPersona(persona.Duo))
	h.gen.reply = "Helios: hello\nElara: hi there"
	h.conv.SendText(context.Background(), "Alex")
	h.waitState(t, StateIdle, false)
	played, _ := h.player.snapshot()
	assert.Equal(t, []string{"hi there"}, played)
}

func TestConversation_VoiceOffWhileSpeaking(t *testing.T) {
	h := newHarness(t)
	h.player.hold = true
	require.NoError(t, h.conv.SetVoiceMode(context.Background(), true))
	h.waitState(t, StateListening, false)
	h.rec.hear("Alex")
	h.waitState(t, StateSpeaking, true)

	require.NoError(t, h.conv.SetVoiceMode(context.Background(), false))
	s := h.conv.Snapshot()
	assert.Equal(t, StateIdle, s.State)
	assert.False(t, s.VoiceMode)
	assert.False(t, s.Processing)
	_, stops := h.player.snapshot()
	assert.GreaterOrEqual(t, stops, 1)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.rec.startCount(), "recognition must not restart")
	assert.Equal(t, StateIdle, h.conv.Snapshot().State)
}

func TestConversation_VoiceOffWhileStoppingAfterResult(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.conv.SetVoiceMode(context.Background(), true))
	h.waitState(t, StateListening, false)

	gate := make(chan struct{})
	h.rec.mu.Lock()
	h.rec.stopGate = gate
	h.rec.mu.Unlock()
	h.rec.hear("tell me a story")
	h.waitState(t, StateListening, true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, h.conv.SetVoiceMode(context.Background(), false))
	}()
	require.Eventually(t, func() bool {
		s := h.conv.Snapshot()
		return !s.VoiceMode && s.State == StateIdle
	}, 2*time.Second, 5*time.Millisecond)
	close(gate)
	<-done

	assert.Never(t, func() bool {
		return len(h.gen.requests()) > 0 || h.conv.Snapshot().State != StateIdle
	}, 100*time.Millisecond, 5*time.Millisecond)
	s := h.conv.Snapshot()
	assert.False(t, s.Processing)
	assert.Empty(t, h.conv.Transcript())
	assert.Equal(t, 1, h.rec.startCount())
}

func TestConversation_RecognitionUnavailable(t *testing.T) {
	h := newHarness(t)
	h.rec.available = false
	notices := 0
	h.bus.Subscribe(bus.EventTypeNotice, func(bus.Event) { notices++ })
	err := h.conv.SetVoiceMode(context.Background(), true)
	assert.ErrorIs(t, err, ErrRecognitionUnavailable)
	assert.Equal(t, StateIdle, h.conv.Snapshot().State)
	assert.False(t, h.conv.Snapshot().VoiceMode)
	assert.Equal(t, 1, notices)
}

func TestConversation_RestartsAfterSilence(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.conv.SetVoiceMode(context.Background(), true))
	h.waitState(t, StateListening, false)
	h.rec.silence()
	require.Eventually(t, func() bool { return h.rec.startCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateListening, h.conv.Snapshot().State)
	assert.Empty(t, h.gen.requests())
}

func TestConversation_NoRestartWhileProcessing(t *testing.T) {
	h := newHarness(t)
	h.gen.block = make(chan struct{})
	require.NoError(t, h.conv.SetVoiceMode(context.Background(), true))
	h.waitState(t, StateListening, false)
	h.rec.hear("Alex")
	h.waitState(t, StateThinking, true)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, h.rec.startCount())

	close(h.gen.block)
	h.waitState(t, StateListening, false)
	assert.Equal(t, 2, h.rec.startCount())
}

func TestConversation_RedundantStartIsSwallowed(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.rec.Start(context.Background()))
	require.NoError(t, h.conv.SetVoiceMode(context.Background(), true))
	h.waitState(t, StateListening, false)
	assert.True(t, h.conv.Snapshot().VoiceMode)
}

func TestConversation_StartFailureLeavesVoiceMode(t *testing.T) {
	h := newHarness(t)
	h.rec.startErr = errors.New("dial tcp: connection refused")
	require.NoError(t, h.conv.SetVoiceMode(context.Background(), true))
	s := h.conv.Snapshot()
	assert.Equal(t, StateIdle, s.State)
	assert.False(t, s.VoiceMode)
}

func TestConversation_MutedSkipsSynthesis(t *testing.T) {
	h := newHarness(t)
	h.conv.SetMuted(true)
	assert.True(t, h.audio.muted)
	h.conv.SendText(context.Background(), "Alex")
	h.waitState(t, StateIdle, false)
	assert.Empty(t, h.synth.texts())
	assert.Len(t, h.conv.Transcript(), 2)
}

func TestConversation_NewTextSupersedesTurn(t *testing.T) {
	h := newHarness(t)
	h.gen.block = make(chan struct{})
	first := h.conv.SendText(context.Background(), "Alex")
	h.waitState(t, StateThinking, true)
	require.Eventually(t, func() bool { return len(h.gen.requests()) == 1 }, time.Second, 5*time.Millisecond)

	h.gen.mu.Lock()
	h.gen.block = nil
	h.gen.reply = "second reply"
	h.gen.mu.Unlock()
	second := h.conv.SendText(context.Background(), "tell me a story")
	assert.Greater(t, second, first)
	h.waitState(t, StateIdle, false)

	var agent []string
	for _, u := range h.conv.Transcript() {
		if u.Role == RoleAgent {
			agent = append(agent, u.Text)
		}
	}
	assert.Equal(t, []string{"second reply"}, agent)
	reqs := h.gen.requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].History, 1, "history holds the first user message only")
}

func TestConversation_InterruptWhileSpeakingRearms(t *testing.T) {
	h := newHarness(t)
	h.player.hold = true
	require.NoError(t, h.conv.SetVoiceMode(context.Background(), true))
	h.waitState(t, StateListening, false)
	h.rec.hear("Alex")
	h.waitState(t, StateSpeaking, true)
	require.Eventually(t, h.player.playing(1), time.Second, 5*time.Millisecond)

	h.conv.Interrupt()
	h.waitState(t, StateListening, false)
	assert.Equal(t, 2, h.rec.startCount())
}

func TestConversation_InterruptWhileThinking(t *testing.T) {
	h := newHarness(t)
	h.gen.block = make(chan struct{})
	h.conv.SendText(context.Background(), "Alex")
	h.waitState(t, StateThinking, true)
	h.conv.Interrupt()
	h.waitState(t, StateIdle, false)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.conv.Transcript(), 1)
}

func TestConversation_InitializeGreetsOnce(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.conv.Initialize(context.Background()))
	require.NoError(t, h.conv.Initialize(context.Background()))
	tr := h.conv.Transcript()
	require.Len(t, tr, 1)
	assert.Equal(t, Greeting, tr[0].Text)
	assert.True(t, tr[0].Greeting)
	assert.Equal(t, 2, h.audio.inits)

	h.conv.SendText(context.Background(), "Alex")
	h.waitState(t, StateIdle, false)
	assert.Empty(t, h.gen.requests()[0].History, "greeting is not history")
}

func TestConversation_ProfileRemembersName(t *testing.T) {
	store := &profile.MemoryStore{}
	require.NoError(t, store.Save(context.Background(), profile.Profile{Name: "Jo", LastTopic: "rain sounds"}))
	gen := &fakeGenerator{reply: "hi"}
	conv := New(Config{}, Deps{
		Audio: &fakeAudio{}, Ambient: &fakeAmbient{}, Player: &fakePlayer{},
		Generator: gen, Synth: &fakeSynth{}, Profiles: store,
	}, zerolog.Nop())
	require.NoError(t, conv.Start(context.Background()))
	require.NoError(t, conv.Initialize(context.Background()))
	assert.Contains(t, conv.Transcript()[0].Text, "Welcome back, Jo")

	conv.SendText(context.Background(), "I can't sleep")
	require.Eventually(t, func() bool { return !conv.Snapshot().Processing }, time.Second, 5*time.Millisecond)
	req := gen.requests()[0]
	assert.Equal(t, "I can't sleep", req.Prompt)
	assert.Equal(t, "Jo", req.UserName)
	assert.Equal(t, "rain sounds", req.LastTopic)
}

func TestConversation_Controls(t *testing.T) {
	h := newHarness(t)
	h.conv.SetAmbient(true)
	h.conv.SetAmbientVolume(1.7)
	h.conv.SetDeepThinking(true)
	assert.Equal(t, persona.Elara, h.conv.CyclePersona())
	assert.Error(t, h.conv.SetPersona("nobody"))

	s := h.conv.Snapshot()
	assert.True(t, s.AmbientEnabled)
	assert.Equal(t, 1.0, s.AmbientVolume)
	assert.Equal(t, llm.Deep, s.Depth)
	assert.Equal(t, persona.Elara, s.Persona)
}

func TestCaptureName(t *testing.T) {
	cases := map[string]string{
		"My name is Alex":            "Alex",
		"i'm sam.":                   "Sam",
		"Call me Mary Jane":          "Mary Jane",
		"Alex, nice to meet you all": "Alex",
		"  Robin  ":                  "Robin",
		"?!":                         DefaultName,
	}
	for in, want := range cases {
		name, _ := captureName(in)
		assert.Equal(t, want, name, in)
	}
	name, prompt := captureName("Tell me a bedtime story")
	assert.Equal(t, DefaultName, name)
	assert.Equal(t, "Tell me a bedtime story", prompt)
}
