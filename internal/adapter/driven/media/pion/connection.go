package pion

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

var (
	ErrForeignTrack  = errors.New("track cannot be sent by pion")
	ErrForeignSender = errors.New("sender does not belong to this connection")
	ErrNoLocalOffer  = errors.New("no local offer to roll back")
	ErrOfferPending  = errors.New("local offer awaiting answer")
)

// RTPTrack is a local track pion can send. Capture tracks implement it.
type RTPTrack interface {
	port.LocalTrack
	TrackLocal() webrtc.TrackLocal
}

// Connection implements port.PeerConnection on a pion PeerConnection.
//
// pion has no rollback transition, so renegotiation offers are held back
// from SetLocalDescription until the answer arrives. pion stays stable in
// the meantime and a colliding remote offer can still be applied once the
// held offer is withdrawn. The first offer of a connection is applied at
// once to start ICE gathering.
type Connection struct {
	pc   *webrtc.PeerConnection
	peer domain.UserID
	log  zerolog.Logger

	mu    sync.Mutex
	offer *webrtc.SessionDescription
}

func newConnection(pc *webrtc.PeerConnection, peer domain.UserID, events port.ConnectionEvents, l zerolog.Logger) *Connection {
	c := &Connection{pc: pc, peer: peer, log: l}

	// Trickle ICE
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || events.OnICECandidate == nil {
			return
		}
		raw, err := json.Marshal(cand.ToJSON())
		if err != nil {
			c.log.Error().Err(err).Msg("Failed to marshal candidate")
			return
		}
		events.OnICECandidate(domain.ICECandidate(raw))
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := domain.TrackAudio
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			kind = domain.TrackScreenVideo
			// Ask for a keyframe so the sink has something to show at once.
			if err := pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
			}); err != nil {
				c.log.Debug().Err(err).Msg("Failed to send PLI")
			}
		}
		c.log.Debug().Str("kind", string(kind)).Str("codec", track.Codec().MimeType).Msg("Received remote track")
		if events.OnTrack != nil {
			events.OnTrack(&remoteTrack{track: track, kind: kind})
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if events.OnStateChange != nil {
			events.OnStateChange(connectionState(s))
		}
	})
	return c
}

func (c *Connection) CreateOffer() (domain.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offer != nil {
		return domain.SessionDescription{}, ErrOfferPending
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if c.pc.CurrentRemoteDescription() != nil {
		c.offer = &offer
	} else if err := c.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: offer.SDP}, nil
}

func (c *Connection) CreateAnswer() (domain.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: answer.SDP}, nil
}

func (c *Connection) SetRemoteDescription(desc domain.SessionDescription) error {
	typ := webrtc.NewSDPType(string(desc.Type))
	if typ == webrtc.SDPTypeUnknown || typ == webrtc.SDPTypeRollback {
		return fmt.Errorf("%w: sdp type %q", domain.ErrMalformedEnvelope, desc.Type)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offer != nil {
		if typ == webrtc.SDPTypeOffer {
			return fmt.Errorf("%w: remote offer: %w", domain.ErrNegotiationFailure, ErrOfferPending)
		}
		offer := *c.offer
		c.offer = nil
		if err := c.pc.SetLocalDescription(offer); err != nil {
			return fmt.Errorf("set local offer: %w", err)
		}
	}
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: desc.SDP})
}

// Rollback withdraws a held renegotiation offer. An applied first offer
// cannot be withdrawn.
func (c *Connection) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offer == nil {
		return ErrNoLocalOffer
	}
	c.offer = nil
	return nil
}

func (c *Connection) NegotiationState() domain.NegotiationState {
	c.mu.Lock()
	held := c.offer != nil
	c.mu.Unlock()
	if held {
		return domain.NegotiationHaveLocalOffer
	}
	switch c.pc.SignalingState() {
	case webrtc.SignalingStateHaveLocalOffer, webrtc.SignalingStateHaveRemotePranswer:
		return domain.NegotiationHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer, webrtc.SignalingStateHaveLocalPranswer:
		return domain.NegotiationHaveRemoteOffer
	case webrtc.SignalingStateClosed:
		return domain.NegotiationClosed
	default:
		return domain.NegotiationStable
	}
}

func (c *Connection) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *Connection) AddICECandidate(cand domain.ICECandidate) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(cand, &init); err != nil {
		return fmt.Errorf("%w: candidate: %v", domain.ErrMalformedEnvelope, err)
	}
	return c.pc.AddICECandidate(init)
}

func (c *Connection) AddTrack(track port.LocalTrack) (port.TrackSender, error) {
	rt, ok := track.(RTPTrack)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrForeignTrack, track)
	}
	local := rt.TrackLocal()
	sender, err := c.pc.AddTrack(local)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}
	go drainRTCP(sender)
	return &trackSender{conn: c, sender: sender, track: local}, nil
}

// drainRTCP reads sender reports so interceptors keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *Connection) RemoveTrack(s port.TrackSender) error {
	ts, ok := s.(*trackSender)
	if !ok || ts.conn != c {
		return ErrForeignSender
	}
	return c.pc.RemoveTrack(ts.sender)
}

func (c *Connection) RemoteSendsVideo() bool {
	desc := c.pc.RemoteDescription()
	if desc == nil {
		return false
	}
	return sendsVideo(desc.SDP)
}

func (c *Connection) Close() error {
	c.mu.Lock()
	c.offer = nil
	c.mu.Unlock()
	return c.pc.Close()
}

// trackSender mutes by swapping the sent track for nothing, which keeps the
// negotiated transceiver untouched.
type trackSender struct {
	conn   *Connection
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
}

func (s *trackSender) SetActive(active bool) error {
	if active {
		return s.sender.ReplaceTrack(s.track)
	}
	return s.sender.ReplaceTrack(nil)
}

type remoteTrack struct {
	track *webrtc.TrackRemote
	kind  domain.TrackKind
}

func (t *remoteTrack) ID() string             { return t.track.ID() }
func (t *remoteTrack) Kind() domain.TrackKind { return t.kind }

func (t *remoteTrack) Read(b []byte) (int, error) {
	n, _, err := t.track.Read(b)
	if errors.Is(err, io.ErrClosedPipe) {
		return n, io.EOF
	}
	return n, err
}

func connectionState(s webrtc.PeerConnectionState) domain.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnectionClosed
	default:
		return domain.ConnectionNew
	}
}
