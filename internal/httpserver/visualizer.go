package httpserver

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/chadiek/companion/internal/audio"
	"github.com/chadiek/companion/internal/bus"
)

// VisualizerConfig tunes the /ws/visualizer stream.
type VisualizerConfig struct {
	Interval time.Duration // frame period, default 50ms
	Backlog  int           // queued bus events per client before dropping, default 64
}

func (c VisualizerConfig) withDefaults() VisualizerConfig {
	if c.Interval <= 0 {
		c.Interval = 50 * time.Millisecond
	}
	if c.Backlog <= 0 {
		c.Backlog = 64
	}
	return c
}

var visualizerUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type tapFrame struct {
	Level    float64 `json:"level"`
	Spectrum []int   `json:"spectrum"`
}

type visualFrame struct {
	Type    string     `json:"type"`
	Voice   *tapFrame  `json:"voice,omitempty"`
	Mic     *tapFrame  `json:"mic,omitempty"`
	Ambient *tapFrame  `json:"ambient,omitempty"`
	Event   *bus.Event `json:"event,omitempty"`
}

func readTap(t *audio.Tap) *tapFrame {
	if t == nil {
		return nil
	}
	data := t.FrequencyData()
	spec := make([]int, len(data))
	for i, v := range data {
		spec[i] = int(v)
	}
	return &tapFrame{Level: t.Level(), Spectrum: spec}
}

// visualizer streams tap frames and bus events to one client until it disconnects.
func (s *Server) visualizer(c echo.Context) error {
	conn, err := visualizerUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("visualizer upgrade")
		return nil
	}
	defer func() { _ = conn.Close() }()
	cfg := s.opts.Visualizer.withDefaults()

	events := make(chan bus.Event, cfg.Backlog)
	if s.opts.Bus != nil {
		unsubscribe := s.opts.Bus.SubscribeAll(func(ev bus.Event) {
			select {
			case events <- ev:
			default:
			}
		})
		defer unsubscribe()
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		var frame visualFrame
		select {
		case <-closed:
			return nil
		case <-c.Request().Context().Done():
			return nil
		case ev := <-events:
			frame = visualFrame{Type: "event", Event: &ev}
		case <-ticker.C:
			if s.opts.Taps == nil {
				continue
			}
			frame = visualFrame{
				Type:    "frame",
				Voice:   readTap(s.opts.Taps.VoiceTap()),
				Mic:     readTap(s.opts.Taps.MicTap()),
				Ambient: readTap(s.opts.Taps.AmbientTap()),
			}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(frame); err != nil {
			return nil
		}
	}
}
