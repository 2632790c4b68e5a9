package domain

import "encoding/json"

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "ice-candidate"
	SignalHangup    SignalKind = "hangup"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalCandidate, SignalHangup:
		return true
	}
	return false
}

type SDPType string

const (
	SDPTypeOffer    SDPType = "offer"
	SDPTypeAnswer   SDPType = "answer"
	SDPTypeRollback SDPType = "rollback"
)

// SessionDescription mirrors the browser RTCSessionDescriptionInit shape so
// browser peers and Go peers can share one relay.
type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// ICECandidate is an opaque connectivity-probe descriptor. Only the media
// adapter looks inside it.
type ICECandidate json.RawMessage

func (c ICECandidate) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("null"), nil
	}
	return []byte(c), nil
}

func (c *ICECandidate) UnmarshalJSON(b []byte) error {
	*c = append((*c)[:0], b...)
	return nil
}

func (c ICECandidate) Empty() bool {
	return len(c) == 0 || string(c) == "null"
}

// Caller carries the initiator's identity and display metadata in offers.
type Caller struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}
