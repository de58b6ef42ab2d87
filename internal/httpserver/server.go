// Package httpserver exposes the companion's user-facing controls over HTTP.
package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/chadiek/companion/internal/agent"
	"github.com/chadiek/companion/internal/audio"
	"github.com/chadiek/companion/internal/bus"
	"github.com/chadiek/companion/internal/llm"
	"github.com/chadiek/companion/internal/metrics"
	"github.com/chadiek/companion/internal/persona"
	"github.com/chadiek/companion/internal/rtc"
)

// Conversation is the control surface of the agent.
type Conversation interface {
	Initialize(ctx context.Context) error
	SetVoiceMode(ctx context.Context, on bool) error
	SendText(ctx context.Context, text string) uint64
	Interrupt()
	SetMuted(muted bool)
	SetAmbient(on bool)
	SetAmbientVolume(v float64)
	SetPersona(id persona.ID) error
	CyclePersona() persona.ID
	SetDeepThinking(on bool)
	Snapshot() agent.Session
	Transcript() []agent.Utterance
}

// Signaler negotiates the browser audio peer.
type Signaler interface {
	HandleOffer(ctx context.Context, offer rtc.SessionDescription) (rtc.SessionDescription, error)
	ServeWebSocket(w http.ResponseWriter, r *http.Request, password string)
}

// Taps are the analysis points streamed to visualizers.
type Taps interface {
	VoiceTap() *audio.Tap
	MicTap() *audio.Tap
	AmbientTap() *audio.Tap
}

// Options wires the server. Signaler, Taps, Bus and Metrics may be nil.
type Options struct {
	AuthPassword string
	Conversation Conversation
	Signaler     Signaler
	Taps         Taps
	Bus          *bus.EventBus
	Metrics      *metrics.Metrics
	Visualizer   VisualizerConfig
	Logger       zerolog.Logger
}

// Server bundles HTTP router and dependencies.
type Server struct {
	Router http.Handler

	opts Options
	log  zerolog.Logger
}

// New constructs the HTTP server with routes.
func New(opts Options) *Server {
	log := opts.Logger.With().Str("component", "http").Logger()
	s := &Server{opts: opts, log: log}
	e := newRouter(log)

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics.Handler()))
	}

	// the signaling socket checks the password itself so it can accept an auth frame
	e.GET("/ws/rtc", s.rtcSocket)

	auth := requireAuth(opts.AuthPassword)
	e.POST("/call", s.call, auth)
	e.GET("/ws/visualizer", s.visualizer, auth)

	api := e.Group("/api", auth)
	api.POST("/start", s.start)
	api.GET("/state", s.state)
	api.GET("/transcript", s.transcript)
	api.POST("/messages", s.sendMessage)
	api.POST("/stop", s.stop)
	api.POST("/mute", s.mute)
	api.POST("/ambient", s.ambient)
	api.POST("/ambient/volume", s.ambientVolume)
	api.POST("/persona", s.setPersona)
	api.POST("/persona/next", s.nextPersona)
	api.POST("/depth", s.depth)
	api.POST("/voice-mode", s.voiceMode)

	s.Router = e
	return s
}

func authOK(r *http.Request, expected string) bool {
	if expected == "" {
		return true
	}
	return rtc.Authorized(r, expected)
}

func (s *Server) call(c echo.Context) error {
	if s.opts.Signaler == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "webrtc audio is not enabled")
	}
	var offer rtc.SessionDescription
	if err := c.Bind(&offer); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid offer")
	}
	answer, err := s.opts.Signaler.HandleOffer(c.Request().Context(), offer)
	if err != nil {
		s.log.Error().Err(err).Msg("webrtc handle offer failed")
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, answer)
}

func (s *Server) rtcSocket(c echo.Context) error {
	if s.opts.Signaler == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "webrtc audio is not enabled")
	}
	s.opts.Signaler.ServeWebSocket(c.Response(), c.Request(), s.opts.AuthPassword)
	return nil
}

func (s *Server) start(c echo.Context) error {
	if err := s.opts.Conversation.Initialize(c.Request().Context()); err != nil {
		s.log.Error().Err(err).Msg("audio initialize failed")
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s.opts.Conversation.Snapshot())
}

func (s *Server) state(c echo.Context) error {
	return c.JSON(http.StatusOK, s.opts.Conversation.Snapshot())
}

func (s *Server) transcript(c echo.Context) error {
	return c.JSON(http.StatusOK, s.opts.Conversation.Transcript())
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) sendMessage(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil || req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	turn := s.opts.Conversation.SendText(context.WithoutCancel(c.Request().Context()), req.Text)
	return c.JSON(http.StatusAccepted, map[string]uint64{"turn": turn})
}

func (s *Server) stop(c echo.Context) error {
	s.opts.Conversation.Interrupt()
	return c.NoContent(http.StatusNoContent)
}

type toggleRequest struct {
	Muted   *bool `json:"muted,omitempty"`
	Enabled *bool `json:"enabled,omitempty"`
}

func (s *Server) mute(c echo.Context) error {
	var req toggleRequest
	if err := c.Bind(&req); err != nil || req.Muted == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "muted is required")
	}
	s.opts.Conversation.SetMuted(*req.Muted)
	return c.JSON(http.StatusOK, s.opts.Conversation.Snapshot())
}

func (s *Server) ambient(c echo.Context) error {
	var req toggleRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "enabled is required")
	}
	s.opts.Conversation.SetAmbient(*req.Enabled)
	return c.JSON(http.StatusOK, s.opts.Conversation.Snapshot())
}

type volumeRequest struct {
	Volume *float64 `json:"volume"`
}

func (s *Server) ambientVolume(c echo.Context) error {
	var req volumeRequest
	if err := c.Bind(&req); err != nil || req.Volume == nil || *req.Volume < 0 || *req.Volume > 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "volume must be between 0 and 1")
	}
	s.opts.Conversation.SetAmbientVolume(*req.Volume)
	return c.JSON(http.StatusOK, s.opts.Conversation.Snapshot())
}

type personaRequest struct {
	Persona string `json:"persona"`
}

func (s *Server) setPersona(c echo.Context) error {
	var req personaRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "persona is required")
	}
	id, err := persona.Parse(req.Persona)
	if err == nil {
		err = s.opts.Conversation.SetPersona(id)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, s.opts.Conversation.Snapshot())
}

func (s *Server) nextPersona(c echo.Context) error {
	id := s.opts.Conversation.CyclePersona()
	return c.JSON(http.StatusOK, map[string]persona.ID{"persona": id})
}

type depthRequest struct {
	Depth string `json:"depth"`
}

func (s *Server) depth(c echo.Context) error {
	var req depthRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "depth is required")
	}
	d, err := llm.ParseDepth(req.Depth)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.opts.Conversation.SetDeepThinking(d == llm.Deep)
	return c.JSON(http.StatusOK, s.opts.Conversation.Snapshot())
}

func (s *Server) voiceMode(c echo.Context) error {
	var req toggleRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "enabled is required")
	}
	err := s.opts.Conversation.SetVoiceMode(context.WithoutCancel(c.Request().Context()), *req.Enabled)
	if errors.Is(err, agent.ErrRecognitionUnavailable) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "speech recognition is not available")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s.opts.Conversation.Snapshot())
}
