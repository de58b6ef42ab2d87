package rtc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
)

// wsMessage is the signaling frame format.
// Types: "auth", "offer", "answer", "candidate", "ice-complete", "bye", "error".
type wsMessage struct {
	Type     string `json:"type"`
	Password string `json:"password,omitempty"`
	SDP      string `json:"sdp,omitempty"`
	Error    string `json:"error,omitempty"`

	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn serializes writes; pion fires OnICECandidate from its own goroutines.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(m wsMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(m)
}

func (c *wsConn) fail(err error) {
	_ = c.send(wsMessage{Type: "error", Error: err.Error()})
}

// ServeWebSocket upgrades to WebSocket and performs offer/answer with trickle
// ICE. Expected frames: auth (optional) -> offer -> candidates... The peer is
// attached to the bridge once the answer is sent.
func (b *Bridge) ServeWebSocket(w http.ResponseWriter, r *http.Request, password string) {
	raw, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn().Err(err).Msg("ws upgrade")
		return
	}
	defer func() { _ = raw.Close() }()
	conn := &wsConn{conn: raw}

	if password != "" && !Authorized(r, password) {
		// first frame may carry the password instead
		var m wsMessage
		if err := raw.ReadJSON(&m); err != nil || strings.ToLower(m.Type) != "auth" || m.Password != password {
			conn.fail(errors.New("unauthorized"))
			return
		}
	}

	offer, ok := readOffer(raw)
	if !ok {
		return
	}

	pc, track, err := b.newPeer()
	if err != nil {
		conn.fail(err)
		return
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			_ = conn.send(wsMessage{Type: "ice-complete"})
			return
		}
		init := c.ToJSON()
		_ = conn.send(wsMessage{Type: "candidate", Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex})
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		_ = pc.Close()
		conn.fail(err)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		conn.fail(err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		conn.fail(err)
		return
	}
	if err := conn.send(wsMessage{Type: "answer", SDP: answer.SDP}); err != nil {
		_ = pc.Close()
		return
	}
	b.attach(pc, track)

	// remote trickle candidates until the socket closes
	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			return
		}
		var m wsMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		switch strings.ToLower(m.Type) {
		case "candidate":
			if m.Candidate == "" {
				continue
			}
			if err := pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex}); err != nil {
				b.log.Debug().Err(err).Msg("add ice candidate")
			}
		case "bye":
			b.detach(pc)
			return
		}
	}
}

func readOffer(conn *websocket.Conn) (string, bool) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return "", false
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m wsMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		switch strings.ToLower(m.Type) {
		case "offer":
			if m.SDP != "" {
				return m.SDP, true
			}
		case "bye":
			return "", false
		}
	}
}

// Authorized reports whether r carries password as a query parameter,
// bearer token or X-Auth-Token header.
func Authorized(r *http.Request, password string) bool {
	if r == nil || password == "" {
		return false
	}
	if q := r.URL.Query().Get("password"); q != "" && q == password {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		if strings.TrimSpace(ah[len("Bearer "):]) == password {
			return true
		}
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" && x == password {
		return true
	}
	return false
}
