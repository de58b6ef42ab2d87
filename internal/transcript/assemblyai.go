package transcript

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const defaultURL = "wss://streaming.assemblyai.com/v3/ws"

// Timing tunes end-of-utterance detection.
type Timing struct {
	// Silence is the base inactivity window before an utterance is complete.
	Silence time.Duration
	// Continuation is added when the last word suggests more is coming ("and", "if").
	Continuation time.Duration
	// Grace absorbs late transcript updates before finalizing.
	Grace time.Duration
	// NoSpeech ends a session that heard nothing.
	NoSpeech time.Duration
	// VoiceRMS is the 16-bit RMS above which a frame counts as voice.
	VoiceRMS float64
}

// DefaultTiming keeps conservative windows to avoid cutting users off mid-sentence.
var DefaultTiming = Timing{
	Silence:      700 * time.Millisecond,
	Continuation: 1200 * time.Millisecond,
	Grace:        250 * time.Millisecond,
	NoSpeech:     8 * time.Second,
	VoiceRMS:     250,
}

// AssemblyAI recognizes one utterance per Start over the AssemblyAI v3
// streaming API.
type AssemblyAI struct {
	apiKey string
	// URL overrides the streaming endpoint.
	URL    string
	Timing Timing

	dialer websocket.Dialer
	log    zerolog.Logger
	events chan Event

	mu      sync.Mutex
	cur     *session
	nextID  uint64
	pending bool // a Start is dialing
}

type session struct {
	id    uint64
	conn  *websocket.Conn
	audio chan []byte
	stop  chan struct{}
	once  sync.Once
	wmu   sync.Mutex

	accMu         sync.Mutex
	latest        string
	committed     string
	lastUpdate    time.Time
	lastVoice     time.Time
	heard         bool
	silenceTimer  *time.Timer
	noSpeechTimer *time.Timer
}

// AssemblyAI message types
type BeginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type TurnMessage struct {
	Type           string `json:"type"`
	Transcript     string `json:"transcript"`
	TurnFormatted  bool   `json:"turn_is_formatted"`
	AudioStartTime int64  `json:"audio_start_time,omitempty"`
	AudioEndTime   int64  `json:"audio_end_time,omitempty"`
}

type TerminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewAssemblyAI returns a recognizer. It is unavailable when apiKey is empty.
func NewAssemblyAI(apiKey string, logger zerolog.Logger) *AssemblyAI {
	return &AssemblyAI{
		apiKey: apiKey,
		URL:    defaultURL,
		Timing: DefaultTiming,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    logger.With().Str("component", "transcript").Logger(),
		events: make(chan Event, 64),
	}
}

func (a *AssemblyAI) Available() bool { return a.apiKey != "" }

func (a *AssemblyAI) Events() <-chan Event { return a.events }

// Listening reports whether a session is open.
func (a *AssemblyAI) Listening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cur != nil || a.pending
}

// Start opens a session and emits EventStart. It fails with
// ErrAlreadyStarted while a session is open and ErrUnavailable without a key.
func (a *AssemblyAI) Start(ctx context.Context) error {
	if !a.Available() {
		return ErrUnavailable
	}
	a.mu.Lock()
	if a.cur != nil || a.pending {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.pending = true
	a.nextID++
	id := a.nextID
	a.mu.Unlock()

	conn, err := a.dial(ctx)

	a.mu.Lock()
	a.pending = false
	if err != nil {
		a.mu.Unlock()
		return err
	}
	now := time.Now()
	s := &session{
		id:         id,
		conn:       conn,
		audio:      make(chan []byte, 1000),
		stop:       make(chan struct{}),
		lastUpdate: now,
		lastVoice:  now,
	}
	s.noSpeechTimer = time.AfterFunc(a.Timing.NoSpeech, func() { a.noSpeech(s) })
	a.cur = s
	a.mu.Unlock()

	a.emit(Event{Kind: EventStart, Session: id})
	go a.handleMessages(s)
	go a.sendAudioData(s)
	a.log.Debug().Uint64("session", id).Msg("recognition started")
	return nil
}

func (a *AssemblyAI) dial(ctx context.Context) (*websocket.Conn, error) {
	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "false")
	params.Set("encoding", "pcm_s16le")
	wsURL := a.URL + "?" + params.Encode()

	headers := http.Header{"Authorization": {a.apiKey}}
	conn, resp, err := a.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			a.log.Warn().Int("status", resp.StatusCode).Msg("assemblyai handshake rejected")
		}
		return nil, fmt.Errorf("failed to connect to AssemblyAI: %w", err)
	}
	return conn, nil
}

// Stop aborts the open session without a result and emits EventEnd. It is a
// no-op when nothing is open.
func (a *AssemblyAI) Stop() error {
	a.mu.Lock()
	s := a.cur
	a.mu.Unlock()
	if s != nil {
		a.end(s)
	}
	return nil
}

// Feed queues 16 kHz mono PCM for the open session; frames are dropped
// otherwise.
func (a *AssemblyAI) Feed(pcm []int16) {
	a.mu.Lock()
	s := a.cur
	a.mu.Unlock()
	if s == nil || len(pcm) == 0 {
		return
	}
	buf := make([]byte, 2*len(pcm))
	for i, v := range pcm {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
	}
	a.detectVoiceActivity(s, pcm)
	select {
	case s.audio <- buf:
	case <-s.stop:
	default:
		a.log.Warn().Msg("audio buffer full, dropping packet")
	}
}

// detectVoiceActivity updates lastVoice if pcm carries energy above VoiceRMS.
func (a *AssemblyAI) detectVoiceActivity(s *session, pcm []int16) {
	const minSamples = 160 // 10ms at 16kHz
	if len(pcm) < minSamples {
		return
	}
	step := 1
	if len(pcm) > 1600 {
		step = 2
	}
	var sumSquares float64
	count := 0
	for i := 0; i < len(pcm); i += step {
		v := float64(pcm[i])
		sumSquares += v * v
		count++
	}
	if math.Sqrt(sumSquares/float64(count)) >= a.Timing.VoiceRMS {
		s.accMu.Lock()
		s.lastVoice = time.Now()
		s.accMu.Unlock()
	}
}

// end closes s once and emits any extra events followed by EventEnd.
func (a *AssemblyAI) end(s *session, events ...Event) {
	s.once.Do(func() {
		close(s.stop)
		s.accMu.Lock()
		if s.silenceTimer != nil {
			s.silenceTimer.Stop()
		}
		if s.noSpeechTimer != nil {
			s.noSpeechTimer.Stop()
		}
		s.accMu.Unlock()
		s.wmu.Lock()
		_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
		s.wmu.Unlock()
		_ = s.conn.Close()

		a.mu.Lock()
		if a.cur == s {
			a.cur = nil
		}
		a.mu.Unlock()

		for _, ev := range events {
			ev.Session = s.id
			a.emit(ev)
		}
		a.emit(Event{Kind: EventEnd, Session: s.id})
		a.log.Debug().Uint64("session", s.id).Msg("recognition ended")
	})
}

func (a *AssemblyAI) emit(ev Event) { a.events <- ev }

func (a *AssemblyAI) noSpeech(s *session) {
	s.accMu.Lock()
	heard := s.heard
	s.accMu.Unlock()
	if !heard {
		a.end(s, Event{Kind: EventError, Err: ErrNoSpeech})
	}
}

// handleMessages processes incoming WebSocket messages
func (a *AssemblyAI) handleMessages(s *session) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Msg("recovered in handleMessages")
		}
	}()
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stop:
			default:
				a.log.Warn().Err(err).Msg("assemblyai read failed")
				a.end(s, Event{Kind: EventError, Err: ErrNetwork})
			}
			return
		}
		a.processMessage(s, message)
	}
}

// processMessage handles different message types from AssemblyAI
func (a *AssemblyAI) processMessage(s *session, message []byte) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil || base.Type == "" {
		a.log.Warn().Err(err).Msg("malformed assemblyai message")
		return
	}
	switch base.Type {
	case "Begin":
		var msg BeginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		a.log.Debug().Str("id", msg.ID).Time("expires", time.Unix(msg.ExpiresAt, 0)).Msg("assemblyai session began")
	case "Turn":
		var msg TurnMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Transcript == "" {
			return
		}
		s.accMu.Lock()
		s.heard = true
		s.latest = msg.Transcript
		s.lastUpdate = time.Now()
		if s.silenceTimer == nil {
			s.silenceTimer = time.AfterFunc(a.Timing.Silence, func() { a.finalizeDueToSilence(s) })
		} else {
			s.silenceTimer.Stop()
			s.silenceTimer.Reset(a.Timing.Silence)
		}
		s.accMu.Unlock()
	case "Termination":
		var msg TerminationMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			a.log.Debug().Float64("audio_s", msg.AudioDurationSeconds).Msg("assemblyai session terminated")
		}
		if delta := s.takeDelta(); delta != "" {
			a.end(s, Event{Kind: EventResult, Text: delta})
		} else {
			a.end(s)
		}
	case "Error":
		var msg ErrorMessage
		_ = json.Unmarshal(message, &msg)
		a.log.Error().Str("error", msg.Error).Msg("assemblyai error")
		a.end(s, Event{Kind: EventError, Err: ErrNetwork})
	default:
		a.log.Debug().Str("type", base.Type).Msg("unknown assemblyai message")
	}
}

// finalizeDueToSilence runs after Silence of inactivity and ends the session
// with the uncommitted transcript.
func (a *AssemblyAI) finalizeDueToSilence(s *session) {
	select {
	case <-s.stop:
		return
	default:
	}

	s.accMu.Lock()
	if wait := a.remaining(s, time.Now()); wait > 0 {
		s.silenceTimer.Reset(wait)
		s.accMu.Unlock()
		return
	}
	lastUpdateAt := s.lastUpdate
	s.accMu.Unlock()

	time.Sleep(a.Timing.Grace)

	s.accMu.Lock()
	if s.lastUpdate.After(lastUpdateAt) {
		wait := a.threshold(s.latest) - time.Since(s.lastUpdate)
		s.silenceTimer.Reset(max(wait, 10*time.Millisecond))
		s.accMu.Unlock()
		return
	}
	s.accMu.Unlock()

	if delta := s.takeDelta(); delta != "" {
		a.end(s, Event{Kind: EventResult, Text: delta})
	}
}

func (a *AssemblyAI) threshold(text string) time.Duration {
	if isContinuationLikely(text) {
		return a.Timing.Silence + a.Timing.Continuation
	}
	return a.Timing.Silence
}

// remaining is how much longer to wait before the utterance counts as
// finished; zero or less means now. Caller holds accMu.
func (a *AssemblyAI) remaining(s *session, now time.Time) time.Duration {
	threshold := a.threshold(s.latest)
	sinceText := now.Sub(s.lastUpdate)
	sinceVoice := now.Sub(s.lastVoice)
	if sinceText >= threshold && sinceVoice >= threshold {
		return 0
	}
	wait := threshold
	if rem := threshold - sinceText; sinceText < threshold && rem < wait {
		wait = rem
	}
	if rem := threshold - sinceVoice; sinceVoice < threshold && rem < wait {
		wait = rem
	}
	return max(wait, 10*time.Millisecond)
}

// takeDelta commits and returns the transcript text not yet delivered.
func (s *session) takeDelta() string {
	s.accMu.Lock()
	defer s.accMu.Unlock()
	latest, base := s.latest, s.committed
	delta := strings.TrimSpace(strings.TrimPrefix(latest, base))
	if delta == "" && base != "" {
		if idx := strings.LastIndex(latest, base); idx >= 0 {
			delta = strings.TrimSpace(latest[idx+len(base):])
		}
	}
	s.committed = latest
	return delta
}

// isContinuationLikely returns true if the last meaningful word indicates the
// speaker is likely to continue (conjunctions, prepositions, fillers).
func isContinuationLikely(text string) bool {
	w := lastWord(text)
	if w == "" {
		return false
	}
	_, ok := continuationWords[w]
	return ok
}

func lastWord(text string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(text), func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	// Coordinating conjunctions
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	// Subordinating conjunctions / conditionals
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	// Discourse markers / fillers
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	// Prepositions are awkward sentence endings
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}

// sendAudioData sends queued audio data to AssemblyAI
func (a *AssemblyAI) sendAudioData(s *session) {
	for {
		select {
		case <-s.stop:
			return
		case buf := <-s.audio:
			s.wmu.Lock()
			err := s.conn.WriteMessage(websocket.BinaryMessage, buf)
			s.wmu.Unlock()
			if err != nil {
				select {
				case <-s.stop:
				default:
					a.log.Warn().Err(err).Msg("error sending audio data")
				}
				return
			}
		}
	}
}
