package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// SessionDescription is a small DTO to avoid exposing webrtc types in transport.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// HandleOffer accepts an SDP offer and returns an SDP answer with all ICE
// candidates gathered. The new peer replaces any existing one.
func (b *Bridge) HandleOffer(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}
	pc, track, err := b.newPeer()
	if err != nil {
		return SessionDescription{}, err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		_ = pc.Close()
		return SessionDescription{}, ctx.Err()
	}
	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return SessionDescription{}, errors.New("no local description")
	}
	b.attach(pc, track)
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// newPeer prepares a PeerConnection with codecs/interceptors and the outgoing audio track.
func (b *Bridge) newPeer() (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: b.cfg.ICEServers})
	if err != nil {
		return nil, nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusRate, Channels: 1},
		"companion-audio", "companion",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(track); err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	b.handlePeer(pc)
	return pc, track, nil
}

// handlePeer installs the connection, control channel and mic handlers.
func (b *Bridge) handlePeer(pc *webrtc.PeerConnection) {
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		b.log.Info().Str("state", state.String()).Msg("peer connection state")
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			b.detach(pc)
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "control" {
			return
		}
		b.log.Debug().Msg("control channel opened")
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			b.handleCommand(string(msg.Data))
		})
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		b.log.Info().Str("codec", remote.Codec().MimeType).Msg("remote audio track received")
		dec, err := opus.NewDecoder(micRate, 1)
		if err != nil {
			b.log.Error().Err(err).Msg("opus decoder")
			return
		}
		go b.readMic(func() ([]byte, error) {
			pkt, _, err := remote.ReadRTP()
			if err != nil {
				return nil, err
			}
			return pkt.Payload, nil
		}, dec)
	})
}

// attach makes pc the active peer, hanging up the previous one.
func (b *Bridge) attach(pc *webrtc.PeerConnection, track sampleWriter) {
	b.mu.Lock()
	prev := b.peer
	b.peer = pc
	b.track = track
	b.mu.Unlock()
	if prev != nil && prev != pc {
		_ = prev.Close()
	}
}

func (b *Bridge) detach(pc *webrtc.PeerConnection) {
	b.mu.Lock()
	if b.peer != pc {
		b.mu.Unlock()
		return
	}
	b.peer = nil
	b.track = nil
	b.mu.Unlock()
	_ = pc.Close()
}

func (b *Bridge) handleCommand(raw string) {
	b.mu.Lock()
	c := b.controls
	b.mu.Unlock()
	if c == nil {
		return
	}
	cmd := strings.TrimSpace(strings.ToLower(raw))
	switch cmd {
	case "stop", "stop-speaking", "cancel", "barge-in":
		c.Interrupt()
	case "voice-on", "voice-off":
		if err := c.SetVoiceMode(context.Background(), cmd == "voice-on"); err != nil {
			b.log.Warn().Err(err).Str("command", cmd).Msg("control command failed")
		}
	default:
		b.log.Debug().Str("command", cmd).Msg("unknown control command")
	}
}

// ParseICEServers reads a JSON array of ICE servers, falling back to a public STUN server.
func ParseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}
