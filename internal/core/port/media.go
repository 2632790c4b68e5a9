package port

import (
	"github.com/Wyydra/yacall/internal/core/domain"
)

// PeerConnection is the negotiated transport of one call. It is owned by a
// single call session and is not safe to share.
type PeerConnection interface {
	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer() (domain.SessionDescription, error)
	// CreateAnswer creates an answer and applies it as the local description.
	CreateAnswer() (domain.SessionDescription, error)
	SetRemoteDescription(desc domain.SessionDescription) error
	// Rollback discards a pending local offer. It may fail when the offer is
	// already applied.
	Rollback() error
	NegotiationState() domain.NegotiationState
	HasRemoteDescription() bool
	AddICECandidate(c domain.ICECandidate) error

	AddTrack(track LocalTrack) (TrackSender, error)
	RemoveTrack(sender TrackSender) error
	// RemoteSendsVideo reports whether the current remote description still
	// carries an active outgoing video section.
	RemoteSendsVideo() bool

	Close() error
}

// TrackSender is the outgoing slot a local track is attached to.
type TrackSender interface {
	// SetActive detaches or reattaches the track without renegotiating.
	SetActive(active bool) error
}

// RemoteTrack is an incoming track. Read returns raw RTP packets.
type RemoteTrack interface {
	ID() string
	Kind() domain.TrackKind
	Read(b []byte) (int, error)
}

// ConnectionEvents are invoked from the media stack's goroutines.
type ConnectionEvents struct {
	OnICECandidate func(c domain.ICECandidate)
	OnTrack        func(track RemoteTrack)
	OnStateChange  func(state domain.ConnectionState)
}

type ConnectionFactory interface {
	NewConnection(peer domain.UserID, events ConnectionEvents) (PeerConnection, error)
}

// MediaSink renders incoming media. Play with a track of a kind that is
// already playing replaces the source.
type MediaSink interface {
	Play(track RemoteTrack)
	Stop(kind domain.TrackKind)
}
