package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/metrics"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

var ErrStopped = errors.New("call service stopped")

const (
	mailboxSize         = 256
	outboxSize          = 256
	earlyCandidateLimit = 64
	earlyCandidateTTL   = 30 * time.Second
	shutdownSendTimeout = 2 * time.Second
)

// Sender publishes envelopes on the relay. *RelayClient implements it.
type Sender interface {
	Send(ctx context.Context, env domain.Envelope) error
}

// CallService is the call session state machine. Every transition runs on
// the Run goroutine; intents, relay deliveries and media callbacks are
// events in one mailbox.
type CallService struct {
	identity port.IdentityProvider
	relay    Sender
	conns    port.ConnectionFactory
	devices  port.CaptureDevices
	sink     port.MediaSink
	clock    clock.Clock
	metrics  *metrics.Metrics

	events chan event
	outbox chan domain.Envelope
	done   chan struct{}
	timer  *CallTimer
	feed   *stateFeed

	// Owned by the Run goroutine.
	call    *activeCall
	early   []earlyCandidate
	relayUp bool
	notice  string

	mu    sync.RWMutex
	state domain.CallState
}

type Option func(*CallService)

func WithClock(c clock.Clock) Option {
	return func(s *CallService) { s.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *CallService) { s.metrics = m }
}

func WithSink(sink port.MediaSink) Option {
	return func(s *CallService) { s.sink = sink }
}

func NewCallService(identity port.IdentityProvider, relay Sender, conns port.ConnectionFactory, devices port.CaptureDevices, opts ...Option) *CallService {
	s := &CallService{
		identity: identity,
		relay:    relay,
		conns:    conns,
		devices:  devices,
		clock:    clock.New(),
		events:   make(chan event, mailboxSize),
		outbox:   make(chan domain.Envelope, outboxSize),
		done:     make(chan struct{}),
		feed:     newStateFeed(),
		state:    domain.IdleState(false),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.timer = NewCallTimer(s.clock, func() { s.tryPost(tick{}) })
	return s
}

// Run processes events until ctx is done. On shutdown an active call is
// hung up and queued envelopes get a short grace period to go out.
func (s *CallService) Run(ctx context.Context) error {
	sendCtx, cancelSend := context.WithCancel(context.Background())
	defer cancelSend()
	sent := make(chan struct{})
	go func() {
		defer close(sent)
		s.sendLoop(sendCtx)
	}()

	defer func() {
		close(s.done)
		s.timer.Stop()
		s.feed.close()
	}()

	log.Info().Str("self_id", s.identity.Self().ID.String()).Msg("Call service started")
	for {
		select {
		case <-ctx.Done():
			s.teardown("", true)
			close(s.outbox)
			select {
			case <-sent:
			case <-time.After(shutdownSendTimeout):
				cancelSend()
				<-sent
			}
			log.Info().Msg("Call service stopped")
			return nil
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *CallService) sendLoop(ctx context.Context) {
	for env := range s.outbox {
		if err := s.relay.Send(ctx, env); err != nil {
			log.Warn().Err(err).Str("kind", string(env.Kind)).Str("target_id", env.TargetID.String()).Msg("Failed to send envelope")
		}
	}
}

func (s *CallService) StartCall(ctx context.Context, peer domain.UserID) error {
	return s.request(ctx, intent{kind: intentStartCall, peer: peer})
}

func (s *CallService) Answer(ctx context.Context) error {
	return s.request(ctx, intent{kind: intentAnswer})
}

func (s *CallService) Decline(ctx context.Context) error {
	return s.request(ctx, intent{kind: intentDecline})
}

// EndCall hangs up. Ending when idle is a no-op.
func (s *CallService) EndCall(ctx context.Context) error {
	return s.request(ctx, intent{kind: intentEndCall})
}

func (s *CallService) ToggleMute(ctx context.Context) error {
	return s.request(ctx, intent{kind: intentToggleMute})
}

func (s *CallService) ToggleScreenShare(ctx context.Context) error {
	return s.request(ctx, intent{kind: intentToggleScreen})
}

// Deliver hands an inbound envelope to the state machine.
func (s *CallService) Deliver(env domain.Envelope) {
	s.post(inbound{env: env})
}

// SetRelayAvailable records whether the relay subscription is up.
func (s *CallService) SetRelayAvailable(up bool) {
	s.post(relayStatus{up: up})
}

// State returns the latest published state with a live call duration.
func (s *CallService) State() domain.CallState {
	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()
	if st.Status == domain.StatusConnected {
		st.CallDurationSeconds = s.timer.Seconds()
	}
	return st
}

// Watch streams state snapshots, starting with the current one. The channel
// is closed by cancel or when the service stops.
func (s *CallService) Watch() (<-chan domain.CallState, func()) {
	return s.feed.watch(s.State())
}

func (s *CallService) request(ctx context.Context, in intent) error {
	in.reply = make(chan error, 1)
	select {
	case s.events <- in:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-in.reply:
		return err
	case <-s.done:
		select {
		case err := <-in.reply:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *CallService) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *CallService) tryPost(ev event) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *CallService) enqueue(env domain.Envelope) {
	select {
	case s.outbox <- env:
	default:
		s.metrics.Dropped(metrics.DropOutboxFull)
		log.Warn().Str("kind", string(env.Kind)).Msg("Outbox full, dropping envelope")
	}
}

func (s *CallService) publish() {
	st := domain.IdleState(s.relayUp)
	st.Notice = s.notice
	if call := s.call; call != nil {
		st.Status = call.session.Status
		st.SessionID = call.session.ID
		st.PeerID = call.session.PeerID
		st.PeerName = call.session.Peer.DisplayName
		st.HasRemoteVideo = call.session.HasRemoteVideo
		st.IsMuted = call.media.Muted()
		st.IsScreenSharing = call.media.Has(domain.TrackScreenVideo)
	}
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.feed.publish(s.State())
}

// transitioned records a status change and publishes it.
func (s *CallService) transitioned() {
	status := domain.StatusIdle
	if s.call != nil {
		status = s.call.session.Status
	}
	s.metrics.Transition(string(status))
	s.publish()
}
