package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/companion/internal/agent"
	"github.com/chadiek/companion/internal/audio"
	"github.com/chadiek/companion/internal/bus"
	"github.com/chadiek/companion/internal/llm"
	"github.com/chadiek/companion/internal/metrics"
	"github.com/chadiek/companion/internal/persona"
	"github.com/chadiek/companion/internal/rtc"
)

type fakeConversation struct {
	mu         sync.Mutex
	session    agent.Session
	texts      []string
	interrupts int
	voiceErr   error
	initErr    error
}

func (f *fakeConversation) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session.Initialized = f.initErr == nil
	return f.initErr
}

func (f *fakeConversation) SetVoiceMode(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.voiceErr != nil {
		return f.voiceErr
	}
	f.session.VoiceMode = on
	return nil
}

func (f *fakeConversation) SendText(_ context.Context, text string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.session.Turn++
	return f.session.Turn
}

func (f *fakeConversation) Interrupt() {
	f.mu.Lock()
	f.interrupts++
	f.mu.Unlock()
}

func (f *fakeConversation) SetMuted(m bool) {
	f.mu.Lock()
	f.session.Muted = m
	f.mu.Unlock()
}

func (f *fakeConversation) SetAmbient(on bool) {
	f.mu.Lock()
	f.session.AmbientEnabled = on
	f.mu.Unlock()
}

func (f *fakeConversation) SetAmbientVolume(v float64) {
	f.mu.Lock()
	f.session.AmbientVolume = v
	f.mu.Unlock()
}

func (f *fakeConversation) SetPersona(id persona.ID) error {
	f.mu.Lock()
	f.session.Persona = id
	f.mu.Unlock()
	return nil
}

func (f *fakeConversation) CyclePersona() persona.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session.Persona = persona.DefaultCatalog().Next(f.session.Persona)
	return f.session.Persona
}

func (f *fakeConversation) SetDeepThinking(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session.Depth = llm.Fast
	if on {
		f.session.Depth = llm.Deep
	}
	f.session.DepthName = f.session.Depth.String()
}

func (f *fakeConversation) Snapshot() agent.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *fakeConversation) Transcript() []agent.Utterance {
	return []agent.Utterance{{ID: "1", Role: agent.RoleAgent, Text: "hello", Greeting: true}}
}

type fakeSignaler struct {
	offers []rtc.SessionDescription
}

func (f *fakeSignaler) HandleOffer(_ context.Context, offer rtc.SessionDescription) (rtc.SessionDescription, error) {
	f.offers = append(f.offers, offer)
	if offer.Type != "offer" {
		return rtc.SessionDescription{}, errors.New("invalid offer")
	}
	return rtc.SessionDescription{Type: "answer", SDP: "v=0 answer"}, nil
}

func (f *fakeSignaler) ServeWebSocket(w http.ResponseWriter, _ *http.Request, _ string) {
	w.WriteHeader(http.StatusTeapot)
}

type fakeTaps struct{ voice, mic, ambient *audio.Tap }

func (f fakeTaps) VoiceTap() *audio.Tap   { return f.voice }
func (f fakeTaps) MicTap() *audio.Tap     { return f.mic }
func (f fakeTaps) AmbientTap() *audio.Tap { return f.ambient }

func newTestServer(opts Options) (*Server, *fakeConversation) {
	conv := &fakeConversation{session: agent.Session{Persona: persona.Helios, State: agent.StateIdle}}
	if opts.Conversation == nil {
		opts.Conversation = conv
	}
	opts.Logger = zerolog.Nop()
	return New(opts), conv
}

func do(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	return w
}

func TestServer_Healthz(t *testing.T) {
	srv, _ := newTestServer(Options{AuthPassword: "secret"})
	w := do(srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	m := metrics.New()
	m.Playback("completed")
	srv, _ := newTestServer(Options{Metrics: m})
	w := do(srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `companion_playback_total{outcome="completed"} 1`)
}

func TestAuthOK(t *testing.T) {
	assert.True(t, authOK(nil, ""))
	r := httptest.NewRequest(http.MethodGet, "/?password=secret", nil)
	assert.True(t, authOK(r, "secret"))
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "bearer abc")
	assert.True(t, authOK(r, "abc"))
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Auth-Token", "nope")
	assert.False(t, authOK(r, "secret"))
}

func TestAPI_Unauthorized(t *testing.T) {
	srv, _ := newTestServer(Options{AuthPassword: "secret"})
	assert.Equal(t, http.StatusUnauthorized, do(srv, http.MethodGet, "/api/state", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(srv, http.MethodPost, "/call?password=wrong", "{}").Code)
	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/api/state?password=secret", "").Code)
}

func TestCall(t *testing.T) {
	srv, _ := newTestServer(Options{})
	assert.Equal(t, http.StatusServiceUnavailable, do(srv, http.MethodPost, "/call", `{"type":"offer","sdp":"v=0"}`).Code)

	sig := &fakeSignaler{}
	srv, _ = newTestServer(Options{Signaler: sig})
	assert.Equal(t, http.StatusMethodNotAllowed, do(srv, http.MethodGet, "/call", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(srv, http.MethodPost, "/call", "not-json").Code)
	assert.Equal(t, http.StatusBadRequest, do(srv, http.MethodPost, "/call", `{"type":"answer","sdp":"x"}`).Code)

	w := do(srv, http.MethodPost, "/call", `{"type":"offer","sdp":"v=0"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"type":"answer","sdp":"v=0 answer"}`, w.Body.String())

	assert.Equal(t, http.StatusTeapot, do(srv, http.MethodGet, "/ws/rtc", "").Code)
}

func TestAPI_StartAndState(t *testing.T) {
	srv, conv := newTestServer(Options{})
	w := do(srv, http.MethodPost, "/api/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"initialized":true`)

	conv.initErr = errors.New("no device")
	assert.Equal(t, http.StatusInternalServerError, do(srv, http.MethodPost, "/api/start", "").Code)

	w = do(srv, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"persona":"helios"`)

	w = do(srv, http.MethodGet, "/api/transcript", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"greeting":true`)
}

func TestAPI_Messages(t *testing.T) {
	srv, conv := newTestServer(Options{})
	assert.Equal(t, http.StatusBadRequest, do(srv, http.MethodPost, "/api/messages", `{"text":""}`).Code)

	w := do(srv, http.MethodPost, "/api/messages", `{"text":"I can't sleep"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"turn":1}`, w.Body.String())
	assert.Equal(t, []string{"I can't sleep"}, conv.texts)

	assert.Equal(t, http.StatusNoContent, do(srv, http.MethodPost, "/api/stop", "").Code)
	assert.Equal(t, 1, conv.interrupts)
}

func TestAPI_Controls(t *testing.T) {
	srv, conv := newTestServer(Options{})

	assert.Equal(t, http.StatusBadRequest, do(srv, http.MethodPost, "/api/mute", `{}`).Code)
	assert.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/api/mute", `{"muted":true}`).Code)
	assert.True(t, conv.Snapshot().Muted)

	assert.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/api/ambient", `{"enabled":true}`).Code)
	assert.True(t, conv.Snapshot().AmbientEnabled)

	assert.Equal(t, http.StatusBadRequest, do(srv, http.MethodPost, "/api/ambient/volume", `{"volume":1.5}`).Code)
	assert.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/api/ambient/volume", `{"volume":0.3}`).Code)
	assert.InDelta(t, 0.3, conv.Snapshot().AmbientVolume, 1e-9)

	assert.Equal(t, http.StatusBadRequest, do(srv, http.MethodPost, "/api/persona", `{"persona":"zeus"}`).Code)
	assert.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/api/persona", `{"persona":"Elara"}`).Code)
	assert.Equal(t, persona.Elara, conv.Snapshot().Persona)

	w := do(srv, http.MethodPost, "/api/persona/next", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"persona":"duo"}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(srv, http.MethodPost, "/api/depth", `{"depth":"medium"}`).Code)
	w = do(srv, http.MethodPost, "/api/depth", `{"depth":"deep"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"depth":"deep"`)
}

func TestAPI_VoiceMode(t *testing.T) {
	srv, conv := newTestServer(Options{})
	assert.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/api/voice-mode", `{"enabled":true}`).Code)
	assert.True(t, conv.Snapshot().VoiceMode)

	conv.voiceErr = agent.ErrRecognitionUnavailable
	assert.Equal(t, http.StatusServiceUnavailable, do(srv, http.MethodPost, "/api/voice-mode", `{"enabled":true}`).Code)
}

func TestVisualizer_StreamsFramesAndEvents(t *testing.T) {
	b := bus.NewEventBus()
	taps := fakeTaps{voice: audio.NewTap(256, 0.8), mic: audio.NewTap(256, 0.8), ambient: audio.NewTap(256, 0.8)}
	srv, _ := newTestServer(Options{Bus: b, Taps: taps, Visualizer: VisualizerConfig{Interval: 10 * time.Millisecond}})
	ts := httptest.NewServer(srv.Router)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/visualizer", nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame visualFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "frame", frame.Type)
	require.NotNil(t, frame.Voice)
	assert.Len(t, frame.Voice.Spectrum, 128)

	b.Publish(bus.Event{Type: bus.EventTypeStateChanged, Data: map[string]any{"state": "thinking"}})
	require.Eventually(t, func() bool {
		var f visualFrame
		if err := conn.ReadJSON(&f); err != nil {
			return false
		}
		return f.Type == "event" && f.Event.Type == bus.EventTypeStateChanged
	}, 2*time.Second, time.Millisecond)
}
