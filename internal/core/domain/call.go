package domain

import (
	"slices"
	"time"
)

type CallStatus string

const (
	StatusIdle      CallStatus = "idle"
	StatusDialing   CallStatus = "dialing"
	StatusRinging   CallStatus = "ringing"
	StatusConnected CallStatus = "connected"
)

type TrackKind string

const (
	TrackAudio       TrackKind = "audio"
	TrackScreenVideo TrackKind = "screen-video"
)

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// ConnectionState is the transport state reported by the media stack.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

// NegotiationState follows the offer/answer signaling state of a connection.
type NegotiationState string

const (
	NegotiationStable          NegotiationState = "stable"
	NegotiationHaveLocalOffer  NegotiationState = "have-local-offer"
	NegotiationHaveRemoteOffer NegotiationState = "have-remote-offer"
	NegotiationClosed          NegotiationState = "closed"
)

// CallSession is the negotiation state for the one remote party of a call.
type CallSession struct {
	ID             SessionID
	PeerID         UserID
	Peer           Caller
	Direction      Direction
	Status         CallStatus
	LocalTracks    []TrackKind
	HasRemoteVideo bool
	StartedAt      time.Time
	IsMuted        bool
}

func NewCallSession(id SessionID, peer Caller, dir Direction) *CallSession {
	status := StatusDialing
	if dir == DirectionIncoming {
		status = StatusRinging
	}
	return &CallSession{
		ID:        id,
		PeerID:    peer.ID,
		Peer:      peer,
		Direction: dir,
		Status:    status,
	}
}

func (s *CallSession) HasTrack(kind TrackKind) bool {
	return slices.Contains(s.LocalTracks, kind)
}

// Polite reports whether this side yields on an offer collision. The callee
// of the original call yields.
func (s *CallSession) Polite() bool {
	return s.Direction == DirectionIncoming
}

// CallState is what the presentation layer renders.
type CallState struct {
	Status              CallStatus `json:"status"`
	SessionID           SessionID  `json:"sessionId,omitempty"`
	PeerID              UserID     `json:"peerId,omitempty"`
	PeerName            string     `json:"peerName,omitempty"`
	HasRemoteVideo      bool       `json:"hasRemoteVideo"`
	IsMuted             bool       `json:"isMuted"`
	IsScreenSharing     bool       `json:"isScreenSharing"`
	CallDurationSeconds int        `json:"callDurationSeconds"`
	RelayAvailable      bool       `json:"relayAvailable"`
	Notice              string     `json:"notice,omitempty"`
}

func IdleState(relayAvailable bool) CallState {
	return CallState{Status: StatusIdle, RelayAvailable: relayAvailable}
}
