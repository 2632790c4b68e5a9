package domain

import (
	"encoding/json"
	"fmt"
)

// Envelope is the unit exchanged over the relay. The relay is broadcast, so
// TargetID is the only routing information; SenderID and SessionID are
// optional and only used to spot stale traffic.
type Envelope struct {
	Kind      SignalKind          `json:"kind"`
	TargetID  UserID              `json:"targetId"`
	SenderID  UserID              `json:"senderId,omitempty"`
	SessionID SessionID           `json:"sessionId,omitempty"`
	Caller    *Caller             `json:"caller,omitempty"`
	SDP       *SessionDescription `json:"sdp,omitempty"`
	Candidate ICECandidate        `json:"candidate,omitempty"`
}

func NewOffer(target UserID, session SessionID, caller Caller, sdp SessionDescription) Envelope {
	return Envelope{
		Kind:      SignalOffer,
		TargetID:  target,
		SenderID:  caller.ID,
		SessionID: session,
		Caller:    &caller,
		SDP:       &sdp,
	}
}

func NewAnswer(target, sender UserID, session SessionID, sdp SessionDescription) Envelope {
	return Envelope{
		Kind:      SignalAnswer,
		TargetID:  target,
		SenderID:  sender,
		SessionID: session,
		SDP:       &sdp,
	}
}

func NewCandidate(target, sender UserID, session SessionID, c ICECandidate) Envelope {
	return Envelope{
		Kind:      SignalCandidate,
		TargetID:  target,
		SenderID:  sender,
		SessionID: session,
		Candidate: c,
	}
}

func NewHangup(target, sender UserID, session SessionID) Envelope {
	return Envelope{
		Kind:      SignalHangup,
		TargetID:  target,
		SenderID:  sender,
		SessionID: session,
	}
}

// Validate checks the kind-specific payload rules.
func (e Envelope) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedEnvelope, e.Kind)
	}
	if e.TargetID == "" {
		return fmt.Errorf("%w: missing targetId", ErrMalformedEnvelope)
	}
	switch e.Kind {
	case SignalOffer:
		if e.Caller == nil || e.Caller.ID == "" {
			return fmt.Errorf("%w: offer without caller", ErrMalformedEnvelope)
		}
		if e.SDP == nil || e.SDP.SDP == "" {
			return fmt.Errorf("%w: offer without sdp", ErrMalformedEnvelope)
		}
	case SignalAnswer:
		if e.SDP == nil || e.SDP.SDP == "" {
			return fmt.Errorf("%w: answer without sdp", ErrMalformedEnvelope)
		}
	case SignalCandidate:
		if e.Candidate.Empty() {
			return fmt.Errorf("%w: ice-candidate without candidate", ErrMalformedEnvelope)
		}
	}
	return nil
}

// From returns the best known sender: the explicit SenderID, or the caller
// of an offer.
func (e Envelope) From() UserID {
	if e.SenderID != "" {
		return e.SenderID
	}
	if e.Caller != nil {
		return e.Caller.ID
	}
	return ""
}

func MarshalEnvelope(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	// Browsers send the bare SDP type on the description; default it from
	// the envelope kind when it is missing.
	if e.SDP != nil && e.SDP.Type == "" {
		e.SDP.Type = SDPType(e.Kind)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
