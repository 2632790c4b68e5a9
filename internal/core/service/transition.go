package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type event interface{ isEvent() }

type intentKind int

const (
	intentStartCall intentKind = iota
	intentAnswer
	intentDecline
	intentEndCall
	intentToggleMute
	intentToggleScreen
)

func (k intentKind) String() string {
	switch k {
	case intentStartCall:
		return "start"
	case intentAnswer:
		return "answer"
	case intentDecline:
		return "decline"
	case intentEndCall:
		return "end"
	case intentToggleMute:
		return "mute"
	case intentToggleScreen:
		return "screen"
	}
	return fmt.Sprintf("intent(%d)", int(k))
}

// step is what to do once a capture completes.
type step int

const (
	stepOffer step = iota
	stepAnswer
	stepRenegotiate
)

type intent struct {
	kind  intentKind
	peer  domain.UserID
	reply chan error
}

type inbound struct{ env domain.Envelope }

type captureDone struct {
	session domain.SessionID
	kind    domain.TrackKind
	track   port.LocalTrack
	err     error
	next    step
}

type localCandidate struct {
	session   domain.SessionID
	candidate domain.ICECandidate
}

type remoteTrack struct {
	session domain.SessionID
	track   port.RemoteTrack
}

type connState struct {
	session domain.SessionID
	state   domain.ConnectionState
}

type tick struct{}

type relayStatus struct{ up bool }

func (intent) isEvent()         {}
func (inbound) isEvent()        {}
func (captureDone) isEvent()    {}
func (localCandidate) isEvent() {}
func (remoteTrack) isEvent()    {}
func (connState) isEvent()      {}
func (tick) isEvent()           {}
func (relayStatus) isEvent()    {}

// activeCall is the per-session state the actor keeps next to the
// CallSession. At most one exists at a time.
type activeCall struct {
	session *domain.CallSession
	conn    port.PeerConnection
	media   *TrackNegotiator
	ctx     context.Context
	cancel  context.CancelFunc
	log     zerolog.Logger

	pendingCandidates  []domain.ICECandidate
	negotiationPending bool
	capturing          map[domain.TrackKind]bool
	answering          bool
}

// matches reports whether env belongs to this call. Envelopes from peers
// that omit the optional sender or session fields are accepted.
func (c *activeCall) matches(env domain.Envelope) bool {
	if from := env.From(); from != "" && from != c.session.PeerID {
		return false
	}
	if env.SessionID != "" && env.SessionID != c.session.ID {
		return false
	}
	return true
}

type earlyCandidate struct {
	env domain.Envelope
	at  time.Time
}

func (s *CallService) handle(ev event) {
	switch ev := ev.(type) {
	case intent:
		err := s.onIntent(ev)
		if err != nil {
			log.Debug().Err(err).Str("intent", ev.kind.String()).Msg("Intent rejected")
		}
		ev.reply <- err
	case inbound:
		s.onEnvelope(ev.env)
	case captureDone:
		s.onCaptureDone(ev)
	case localCandidate:
		s.onLocalCandidate(ev)
	case remoteTrack:
		s.onRemoteTrack(ev)
	case connState:
		s.onConnState(ev)
	case tick:
		if s.call != nil && s.call.session.Status == domain.StatusConnected {
			s.publish()
		}
	case relayStatus:
		if s.relayUp != ev.up {
			s.relayUp = ev.up
			log.Info().Bool("available", ev.up).Msg("Relay availability changed")
			s.publish()
		}
	}
}

func (s *CallService) onIntent(in intent) error {
	switch in.kind {
	case intentStartCall:
		return s.startCall(in.peer)
	case intentAnswer:
		return s.answer()
	case intentDecline:
		return s.decline()
	case intentEndCall:
		s.teardown("", true)
		return nil
	case intentToggleMute:
		return s.toggleMute()
	case intentToggleScreen:
		return s.toggleScreen()
	}
	return fmt.Errorf("%w: unknown intent %s", domain.ErrInvalidTransition, in.kind)
}

func (s *CallService) startCall(peer domain.UserID) error {
	if s.call != nil {
		return domain.ErrBusy
	}
	if peer == "" || peer == s.identity.Self().ID {
		return fmt.Errorf("%w: cannot call %q", domain.ErrInvalidTransition, peer)
	}
	if !s.relayUp {
		return domain.ErrRelayUnavailable
	}

	session := domain.NewCallSession(domain.NewSessionID(), domain.Caller{ID: peer}, domain.DirectionOutgoing)
	call, err := s.newCall(session)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNegotiationFailure, err)
	}
	s.call = call
	s.notice = ""
	call.log.Info().Msg("Dialing")
	s.transitioned()
	s.ensureAudio(call, stepOffer)
	return nil
}

func (s *CallService) answer() error {
	call := s.call
	if call == nil || call.session.Status != domain.StatusRinging {
		return fmt.Errorf("%w: no incoming call to answer", domain.ErrInvalidTransition)
	}
	if call.answering {
		return nil
	}
	call.answering = true
	s.notice = ""
	call.log.Info().Msg("Answering")
	s.ensureAudio(call, stepAnswer)
	return nil
}

func (s *CallService) decline() error {
	call := s.call
	if call == nil || call.session.Status != domain.StatusRinging {
		return fmt.Errorf("%w: no incoming call to decline", domain.ErrInvalidTransition)
	}
	call.log.Info().Msg("Declining")
	s.teardown("", true)
	return nil
}

func (s *CallService) toggleMute() error {
	call := s.call
	if call == nil {
		return fmt.Errorf("%w: no active call", domain.ErrInvalidTransition)
	}
	muted := !call.media.Muted()
	if err := call.media.SetMuted(muted); err != nil {
		return fmt.Errorf("toggle mute: %w", err)
	}
	call.session.IsMuted = muted
	call.log.Info().Bool("muted", muted).Msg("Mute toggled")
	s.publish()
	return nil
}

func (s *CallService) toggleScreen() error {
	call := s.call
	if call == nil || call.session.Status != domain.StatusConnected {
		return fmt.Errorf("%w: screen share needs a connected call", domain.ErrInvalidTransition)
	}
	if call.capturing[domain.TrackScreenVideo] {
		return nil
	}
	if call.media.Has(domain.TrackScreenVideo) {
		if _, err := call.media.Detach(domain.TrackScreenVideo); err != nil {
			call.log.Error().Err(err).Msg("Failed to stop screen share")
		}
		call.session.LocalTracks = call.media.Kinds()
		s.renegotiate(call)
		s.publish()
		return nil
	}
	s.notice = ""
	s.capture(call, domain.TrackScreenVideo, stepRenegotiate)
	return nil
}

func (s *CallService) newCall(session *domain.CallSession) (*activeCall, error) {
	sid := session.ID
	l := log.With().Str("session_id", sid.String()).Str("peer_id", session.PeerID.String()).Logger()
	conn, err := s.conns.NewConnection(session.PeerID, port.ConnectionEvents{
		OnICECandidate: func(c domain.ICECandidate) { s.post(localCandidate{session: sid, candidate: c}) },
		OnTrack:        func(t port.RemoteTrack) { s.post(remoteTrack{session: sid, track: t}) },
		OnStateChange:  func(st domain.ConnectionState) { s.post(connState{session: sid, state: st}) },
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &activeCall{
		session:   session,
		conn:      conn,
		media:     NewTrackNegotiator(conn, s.devices, s.sink, l),
		ctx:       ctx,
		cancel:    cancel,
		log:       l,
		capturing: make(map[domain.TrackKind]bool),
	}, nil
}

func (s *CallService) ensureAudio(call *activeCall, next step) {
	if call.media.Has(domain.TrackAudio) {
		s.proceed(call, next)
		return
	}
	s.capture(call, domain.TrackAudio, next)
}

// capture opens a device off the actor. The result comes back as a
// captureDone event tagged with the session it was started for.
func (s *CallService) capture(call *activeCall, kind domain.TrackKind, next step) {
	if call.capturing[kind] {
		return
	}
	call.capturing[kind] = true
	sid, media, ctx := call.session.ID, call.media, call.ctx
	go func() {
		track, err := media.Acquire(ctx, kind)
		ok := s.post(captureDone{session: sid, kind: kind, track: track, err: err, next: next})
		if !ok && track != nil {
			_ = track.Close()
		}
	}()
}

func (s *CallService) onCaptureDone(ev captureDone) {
	call := s.call
	if call == nil || call.session.ID != ev.session {
		if ev.track != nil {
			_ = ev.track.Close()
		}
		log.Debug().Str("session_id", ev.session.String()).Str("kind", string(ev.kind)).Msg("Discarding capture for ended session")
		return
	}
	delete(call.capturing, ev.kind)

	err := ev.err
	if err == nil {
		err = call.media.Attach(ev.track)
	}
	if err != nil {
		s.captureFailed(call, ev.kind, ev.next, err)
		return
	}
	call.session.LocalTracks = call.media.Kinds()
	s.proceed(call, ev.next)
	s.publish()
}

func (s *CallService) captureFailed(call *activeCall, kind domain.TrackKind, next step, err error) {
	if kind == domain.TrackScreenVideo {
		call.log.Warn().Err(err).Msg("Screen share unavailable")
		s.notice = "screen share unavailable: " + err.Error()
		s.publish()
		return
	}
	call.log.Warn().Err(err).Msg("Microphone unavailable, abandoning call")
	// No offer went out on the dialing side, so only the callee owes a hangup.
	s.teardown("microphone unavailable: "+err.Error(), next == stepAnswer)
}

func (s *CallService) proceed(call *activeCall, next step) {
	switch next {
	case stepOffer:
		s.sendInitialOffer(call)
	case stepAnswer:
		s.sendAnswer(call)
	case stepRenegotiate:
		s.renegotiate(call)
	}
}

func (s *CallService) sendInitialOffer(call *activeCall) {
	desc, err := call.conn.CreateOffer()
	if err != nil {
		call.log.Error().Err(err).Msg("Failed to create offer")
		s.teardown("call failed: "+err.Error(), false)
		return
	}
	s.enqueue(domain.NewOffer(call.session.PeerID, call.session.ID, s.identity.Self(), desc))
	call.log.Info().Msg("Offer sent")
}

func (s *CallService) sendAnswer(call *activeCall) {
	desc, err := call.conn.CreateAnswer()
	if err != nil {
		call.log.Error().Err(err).Msg("Failed to create answer")
		s.teardown("call failed: "+err.Error(), true)
		return
	}
	s.enqueue(domain.NewAnswer(call.session.PeerID, s.identity.Self().ID, call.session.ID, desc))
	call.log.Info().Msg("Answer sent")
	s.connect(call)
	s.afterNegotiation(call)
}

func (s *CallService) connect(call *activeCall) {
	call.session.Status = domain.StatusConnected
	call.session.StartedAt = s.timer.Start()
	call.log.Info().Msg("Connected")
	s.transitioned()
}

// renegotiate offers the current track set. Outside the stable state the
// offer is deferred until the in-flight round completes.
func (s *CallService) renegotiate(call *activeCall) {
	if call.session.Status != domain.StatusConnected {
		return
	}
	if call.conn.NegotiationState() != domain.NegotiationStable {
		call.negotiationPending = true
		call.log.Debug().Str("state", string(call.conn.NegotiationState())).Msg("Renegotiation deferred")
		return
	}
	call.negotiationPending = false
	desc, err := call.conn.CreateOffer()
	if err != nil {
		call.log.Error().Err(err).Msg("Failed to create renegotiation offer")
		return
	}
	s.enqueue(domain.NewOffer(call.session.PeerID, call.session.ID, s.identity.Self(), desc))
	call.log.Info().Strs("tracks", kindStrings(call.session.LocalTracks)).Msg("Renegotiation offer sent")
}

func (s *CallService) afterNegotiation(call *activeCall) {
	if call.session.HasRemoteVideo && !call.conn.RemoteSendsVideo() {
		call.session.HasRemoteVideo = false
		call.media.RemoteVideoGone()
		call.log.Info().Msg("Remote screen share ended")
	}
	if call.negotiationPending && call.conn.NegotiationState() == domain.NegotiationStable {
		s.renegotiate(call)
	}
	s.publish()
}

func (s *CallService) onEnvelope(env domain.Envelope) {
	if env.TargetID != s.identity.Self().ID {
		s.metrics.Dropped(metrics.DropNotAddressed)
		return
	}
	switch env.Kind {
	case domain.SignalOffer:
		s.onOffer(env)
	case domain.SignalAnswer:
		s.onAnswer(env)
	case domain.SignalCandidate:
		s.onRemoteCandidate(env)
	case domain.SignalHangup:
		s.onHangup(env)
	}
}

func (s *CallService) onOffer(env domain.Envelope) {
	call := s.call
	if call == nil {
		s.incomingCall(env)
		return
	}
	if call.matches(env) {
		if call.session.Status == domain.StatusConnected {
			s.remoteRenegotiation(call, env)
			return
		}
		call.log.Debug().Msg("Repeated offer ignored")
		return
	}
	if s.yields(call, env) {
		call.log.Info().Msg("Peer dialed us at the same time, yielding")
		s.teardown("", false)
		s.incomingCall(env)
		return
	}
	s.metrics.Dropped(metrics.DropBusy)
	log.Info().Str("from", env.From().String()).Msg("Busy, dropping offer")
}

// yields decides simultaneous dialing: when both sides dial each other the
// lexicographically smaller identity abandons its attempt and rings.
func (s *CallService) yields(call *activeCall, env domain.Envelope) bool {
	return call.session.Status == domain.StatusDialing &&
		env.From() == call.session.PeerID &&
		s.identity.Self().ID < env.From()
}

func (s *CallService) incomingCall(env domain.Envelope) {
	sid := env.SessionID
	if sid == "" {
		sid = domain.NewSessionID()
	}
	session := domain.NewCallSession(sid, *env.Caller, domain.DirectionIncoming)
	call, err := s.newCall(session)
	if err != nil {
		log.Error().Err(err).Str("from", env.From().String()).Msg("Failed to create connection for incoming call")
		return
	}
	s.call = call
	s.notice = ""
	if err := call.conn.SetRemoteDescription(*env.SDP); err != nil {
		call.log.Error().Err(err).Msg("Failed to apply remote offer")
		s.teardown("incoming call failed: "+err.Error(), true)
		return
	}
	s.replayEarlyCandidates(call)
	call.log.Info().Str("caller", session.Peer.DisplayName).Msg("Ringing")
	s.transitioned()
}

// remoteRenegotiation applies a mid-call offer. On collision the callee of
// the original call rolls back its own offer and re-offers afterwards; the
// caller keeps its offer and ignores the remote one.
func (s *CallService) remoteRenegotiation(call *activeCall, env domain.Envelope) {
	if call.conn.NegotiationState() == domain.NegotiationHaveLocalOffer {
		if !call.session.Polite() {
			call.log.Info().Msg("Offer collision, keeping local offer")
			return
		}
		call.log.Info().Msg("Offer collision, rolling back local offer")
		if err := call.conn.Rollback(); err != nil {
			// Neither side can leave its offer now, so end the call on both.
			call.log.Error().Err(err).Msg("Rollback failed")
			s.teardown("call failed: "+domain.ErrNegotiationFailure.Error(), true)
			return
		}
		call.negotiationPending = true
	}
	if err := call.conn.SetRemoteDescription(*env.SDP); err != nil {
		call.log.Error().Err(err).Msg("Failed to apply renegotiation offer")
		return
	}
	s.flushCandidates(call)
	desc, err := call.conn.CreateAnswer()
	if err != nil {
		call.log.Error().Err(err).Msg("Failed to create renegotiation answer")
		return
	}
	s.enqueue(domain.NewAnswer(call.session.PeerID, s.identity.Self().ID, call.session.ID, desc))
	call.log.Debug().Msg("Renegotiation answered")
	s.afterNegotiation(call)
}

func (s *CallService) onAnswer(env domain.Envelope) {
	call := s.call
	if call == nil || !call.matches(env) {
		s.dropStale(env)
		return
	}
	if call.conn.NegotiationState() != domain.NegotiationHaveLocalOffer {
		call.log.Debug().Msg("Answer without a pending offer, dropping")
		s.metrics.Dropped(metrics.DropStale)
		return
	}
	if err := call.conn.SetRemoteDescription(*env.SDP); err != nil {
		call.log.Error().Err(err).Msg("Failed to apply answer")
		if call.session.Status == domain.StatusDialing {
			s.teardown("call failed: "+err.Error(), true)
		}
		return
	}
	s.flushCandidates(call)
	if call.session.Status == domain.StatusDialing {
		s.connect(call)
	}
	s.afterNegotiation(call)
}

func (s *CallService) onRemoteCandidate(env domain.Envelope) {
	call := s.call
	if call == nil {
		s.bufferEarly(env)
		return
	}
	if !call.matches(env) {
		// The peer may win a simultaneous dial; its offer can trail its
		// candidates.
		if s.yields(call, env) {
			s.bufferEarly(env)
			return
		}
		s.dropStale(env)
		return
	}
	if !call.conn.HasRemoteDescription() {
		call.pendingCandidates = append(call.pendingCandidates, env.Candidate)
		return
	}
	if err := call.conn.AddICECandidate(env.Candidate); err != nil {
		call.log.Warn().Err(err).Msg("Failed to add remote candidate")
	}
}

func (s *CallService) onHangup(env domain.Envelope) {
	call := s.call
	if call == nil {
		return
	}
	if !call.matches(env) {
		s.dropStale(env)
		return
	}
	notice := "call ended by peer"
	if call.session.Status == domain.StatusDialing {
		notice = "call declined"
	}
	call.log.Info().Msg("Peer hung up")
	s.teardown(notice, false)
}

func (s *CallService) onLocalCandidate(ev localCandidate) {
	call := s.call
	if call == nil || call.session.ID != ev.session {
		return
	}
	s.enqueue(domain.NewCandidate(call.session.PeerID, s.identity.Self().ID, call.session.ID, ev.candidate))
}

func (s *CallService) onRemoteTrack(ev remoteTrack) {
	call := s.call
	if call == nil || call.session.ID != ev.session {
		return
	}
	if call.media.HandleRemoteTrack(ev.track) && !call.session.HasRemoteVideo {
		call.session.HasRemoteVideo = true
		call.log.Info().Msg("Remote screen share started")
	}
	s.publish()
}

func (s *CallService) onConnState(ev connState) {
	call := s.call
	if call == nil || call.session.ID != ev.session {
		return
	}
	call.log.Debug().Str("state", string(ev.state)).Msg("Connection state changed")
	if ev.state == domain.ConnectionFailed {
		call.log.Warn().Msg("Connection failed")
		s.teardown("connection lost: "+domain.ErrNegotiationFailure.Error(), false)
	}
}

func (s *CallService) bufferEarly(env domain.Envelope) {
	s.early = append(s.early, earlyCandidate{env: env, at: s.clock.Now()})
	if n := len(s.early) - earlyCandidateLimit; n > 0 {
		s.early = s.early[n:]
	}
}

func (s *CallService) replayEarlyCandidates(call *activeCall) {
	now := s.clock.Now()
	for _, e := range s.early {
		if now.Sub(e.at) > earlyCandidateTTL || !call.matches(e.env) {
			continue
		}
		if err := call.conn.AddICECandidate(e.env.Candidate); err != nil {
			call.log.Warn().Err(err).Msg("Failed to add early candidate")
		}
	}
	s.early = nil
}

func (s *CallService) flushCandidates(call *activeCall) {
	for _, c := range call.pendingCandidates {
		if err := call.conn.AddICECandidate(c); err != nil {
			call.log.Warn().Err(err).Msg("Failed to add queued candidate")
		}
	}
	call.pendingCandidates = nil
}

func (s *CallService) dropStale(env domain.Envelope) {
	s.metrics.Dropped(metrics.DropStale)
	log.Debug().
		Err(domain.ErrStaleSession).
		Str("kind", string(env.Kind)).
		Str("from", env.From().String()).
		Str("session_id", env.SessionID.String()).
		Msg("Dropping envelope")
}

// teardown ends the active call and returns to Idle. notifyPeer sends a
// hangup ahead of the release.
func (s *CallService) teardown(notice string, notifyPeer bool) {
	call := s.call
	if call == nil {
		return
	}
	s.call = nil
	if notifyPeer {
		s.enqueue(domain.NewHangup(call.session.PeerID, s.identity.Self().ID, call.session.ID))
	}
	call.cancel()
	call.media.Release()
	if err := call.conn.Close(); err != nil {
		call.log.Debug().Err(err).Msg("Closing connection")
	}
	s.timer.Stop()
	s.notice = notice
	call.log.Info().Str("notice", notice).Msg("Call ended")
	s.transitioned()
}

func kindStrings(kinds []domain.TrackKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
