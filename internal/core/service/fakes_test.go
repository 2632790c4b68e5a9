package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/benbjohnson/clock"
)

type staticIdentity domain.Caller

func (s staticIdentity) Self() domain.Caller { return domain.Caller(s) }

// fakeNet hands out fakeConns. SDP bodies list the track kinds of the side
// that created them, which is all the state machine needs to see.
type fakeNet struct {
	mu          sync.Mutex
	conns       []*fakeConn
	err         error
	rollbackErr error
}

func (n *fakeNet) NewConnection(peer domain.UserID, ev port.ConnectionEvents) (port.PeerConnection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return nil, n.err
	}
	c := &fakeConn{peer: peer, events: ev, state: domain.NegotiationStable, remoteKinds: map[domain.TrackKind]bool{}, rollbackErr: n.rollbackErr}
	n.conns = append(n.conns, c)
	return c, nil
}

func (n *fakeNet) last() *fakeConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.conns) == 0 {
		return nil
	}
	return n.conns[len(n.conns)-1]
}

func (n *fakeNet) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conns)
}

type fakeConn struct {
	peer   domain.UserID
	events port.ConnectionEvents

	mu          sync.Mutex
	state       domain.NegotiationState
	remote      string
	hasRemote   bool
	remoteKinds map[domain.TrackKind]bool
	senders     []*fakeSender
	candidates  []domain.ICECandidate
	rollbacks   int
	offers      int
	negotiated  bool
	held        bool
	rollbackErr error
	closed      bool
	seq         int
}

func (c *fakeConn) describe() string {
	var kinds []string
	for _, s := range c.senders {
		kinds = append(kinds, string(s.kind))
	}
	c.seq++
	return fmt.Sprintf("kinds=%s;seq=%d", strings.Join(kinds, ","), c.seq)
}

func (c *fakeConn) emitCandidate() {
	cand := domain.ICECandidate(fmt.Sprintf(`{"candidate":"candidate:%d 1 udp 1 127.0.0.1 %d typ host"}`, c.seq, 5000+c.seq))
	if c.events.OnICECandidate != nil {
		go c.events.OnICECandidate(cand)
	}
}

func (c *fakeConn) CreateOffer() (domain.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.NegotiationStable {
		return domain.SessionDescription{}, fmt.Errorf("create offer in %s", c.state)
	}
	c.state = domain.NegotiationHaveLocalOffer
	c.held = c.negotiated
	c.offers++
	desc := domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: c.describe()}
	c.emitCandidate()
	return desc, nil
}

func (c *fakeConn) CreateAnswer() (domain.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.NegotiationHaveRemoteOffer {
		return domain.SessionDescription{}, fmt.Errorf("create answer in %s", c.state)
	}
	c.state = domain.NegotiationStable
	c.negotiated = true
	desc := domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: c.describe()}
	c.emitCandidate()
	return desc, nil
}

func (c *fakeConn) SetRemoteDescription(desc domain.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch desc.Type {
	case domain.SDPTypeOffer:
		if c.state != domain.NegotiationStable {
			return fmt.Errorf("remote offer in %s", c.state)
		}
		c.state = domain.NegotiationHaveRemoteOffer
	case domain.SDPTypeAnswer:
		if c.state != domain.NegotiationHaveLocalOffer {
			return fmt.Errorf("remote answer in %s", c.state)
		}
		c.state = domain.NegotiationStable
		c.negotiated = true
	default:
		return fmt.Errorf("unexpected description %q", desc.Type)
	}
	c.remote = desc.SDP
	c.hasRemote = true

	for _, kind := range []domain.TrackKind{domain.TrackAudio, domain.TrackScreenVideo} {
		present := strings.Contains(desc.SDP, string(kind))
		if present && !c.remoteKinds[kind] && c.events.OnTrack != nil {
			go c.events.OnTrack(&fakeRemoteTrack{id: fmt.Sprintf("%s-%d", kind, c.seq), kind: kind})
		}
		c.remoteKinds[kind] = present
	}
	return nil
}

// Rollback only withdraws renegotiation offers, like the pion adapter.
func (c *fakeConn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.NegotiationHaveLocalOffer || !c.held {
		return errors.New("nothing to roll back")
	}
	if c.rollbackErr != nil {
		return c.rollbackErr
	}
	c.state = domain.NegotiationStable
	c.rollbacks++
	return nil
}

func (c *fakeConn) NegotiationState() domain.NegotiationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) HasRemoteDescription() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasRemote
}

func (c *fakeConn) AddICECandidate(cand domain.ICECandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasRemote {
		return errors.New("no remote description")
	}
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *fakeConn) AddTrack(track port.LocalTrack) (port.TrackSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &fakeSender{kind: track.Kind(), track: track, active: true}
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *fakeConn) RemoveTrack(sender port.TrackSender) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.senders {
		if s == sender {
			c.senders = append(c.senders[:i], c.senders[i+1:]...)
			return nil
		}
	}
	return errors.New("unknown sender")
}

func (c *fakeConn) RemoteSendsVideo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Contains(c.remote, string(domain.TrackScreenVideo))
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.state = domain.NegotiationClosed
	return nil
}

func (c *fakeConn) fail() {
	if c.events.OnStateChange != nil {
		c.events.OnStateChange(domain.ConnectionFailed)
	}
}

func (c *fakeConn) snapshot() (offers, rollbacks, candidates int, closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers, c.rollbacks, len(c.candidates), c.closed
}

func (c *fakeConn) sender(kind domain.TrackKind) *fakeSender {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.senders {
		if s.kind == kind {
			return s
		}
	}
	return nil
}

type fakeSender struct {
	kind  domain.TrackKind
	track port.LocalTrack

	mu     sync.Mutex
	active bool
}

func (s *fakeSender) SetActive(active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
	return nil
}

func (s *fakeSender) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

type fakeRemoteTrack struct {
	id   string
	kind domain.TrackKind
}

func (t *fakeRemoteTrack) ID() string                 { return t.id }
func (t *fakeRemoteTrack) Kind() domain.TrackKind     { return t.kind }
func (t *fakeRemoteTrack) Read(b []byte) (int, error) { return 0, io.EOF }

type fakeTrack struct {
	id   string
	kind domain.TrackKind

	mu     sync.Mutex
	closed bool
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() domain.TrackKind { return t.kind }

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTrack) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// fakeDevices opens fakeTracks. gate, when set, blocks the microphone until
// it is closed or the capture context is cancelled.
type fakeDevices struct {
	mu        sync.Mutex
	micErr    error
	screenErr error
	gate      chan struct{}
	opened    []*fakeTrack
}

func (d *fakeDevices) open(ctx context.Context, kind domain.TrackKind, gate chan struct{}, err error) (port.LocalTrack, error) {
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &fakeTrack{id: fmt.Sprintf("%s-%d", kind, len(d.opened)), kind: kind}
	d.opened = append(d.opened, t)
	return t, nil
}

func (d *fakeDevices) OpenMicrophone(ctx context.Context) (port.LocalTrack, error) {
	d.mu.Lock()
	gate, err := d.gate, d.micErr
	d.mu.Unlock()
	return d.open(ctx, domain.TrackAudio, gate, err)
}

func (d *fakeDevices) OpenScreen(ctx context.Context) (port.LocalTrack, error) {
	d.mu.Lock()
	err := d.screenErr
	d.mu.Unlock()
	return d.open(ctx, domain.TrackScreenVideo, nil, err)
}

func (d *fakeDevices) tracks(kind domain.TrackKind) []*fakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*fakeTrack
	for _, t := range d.opened {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

type fakeSink struct {
	mu      sync.Mutex
	playing map[domain.TrackKind]string
	stops   int
}

func (s *fakeSink) Play(track port.RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing == nil {
		s.playing = make(map[domain.TrackKind]string)
	}
	s.playing[track.Kind()] = track.ID()
}

func (s *fakeSink) Stop(kind domain.TrackKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.playing, kind)
	s.stops++
}

func (s *fakeSink) isPlaying(kind domain.TrackKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.playing[kind]
	return ok
}

// switchboard routes envelopes between services in the same process,
// through the wire codec. hold queues deliveries until release.
type switchboard struct {
	mu    sync.Mutex
	peers map[domain.UserID]*CallService
	sent  []domain.Envelope
	held  []domain.Envelope
	hold  bool
}

func newSwitchboard() *switchboard {
	return &switchboard{peers: make(map[domain.UserID]*CallService)}
}

func (sb *switchboard) Send(ctx context.Context, env domain.Envelope) error {
	frame, err := domain.MarshalEnvelope(env)
	if err != nil {
		return err
	}
	decoded, err := domain.UnmarshalEnvelope(frame)
	if err != nil {
		return err
	}

	sb.mu.Lock()
	sb.sent = append(sb.sent, decoded)
	if sb.hold {
		sb.held = append(sb.held, decoded)
		sb.mu.Unlock()
		return nil
	}
	peer := sb.peers[decoded.TargetID]
	sb.mu.Unlock()

	if peer != nil {
		peer.Deliver(decoded)
	}
	return nil
}

func (sb *switchboard) pause() {
	sb.mu.Lock()
	sb.hold = true
	sb.mu.Unlock()
}

// release delivers held envelopes in order. Envelopes sent while releasing
// queue behind them.
func (sb *switchboard) release() {
	for {
		sb.mu.Lock()
		if len(sb.held) == 0 {
			sb.hold = false
			sb.mu.Unlock()
			return
		}
		env := sb.held[0]
		sb.held = sb.held[1:]
		peer := sb.peers[env.TargetID]
		sb.mu.Unlock()
		if peer != nil {
			peer.Deliver(env)
		}
	}
}

func (sb *switchboard) count(from domain.UserID, kind domain.SignalKind) int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	n := 0
	for _, env := range sb.sent {
		if env.From() == from && env.Kind == kind {
			n++
		}
	}
	return n
}

type party struct {
	id      domain.UserID
	svc     *CallService
	net     *fakeNet
	devices *fakeDevices
	sink    *fakeSink
	clock   *clock.Mock
}

func newParty(t *testing.T, sb *switchboard, id string, relayUp bool) *party {
	t.Helper()
	p := &party{
		id:      domain.UserID(id),
		net:     &fakeNet{},
		devices: &fakeDevices{},
		sink:    &fakeSink{},
		clock:   clock.NewMock(),
	}
	p.svc = NewCallService(staticIdentity{ID: p.id, DisplayName: strings.ToUpper(id)}, sb, p.net, p.devices,
		WithClock(p.clock), WithSink(p.sink))

	sb.mu.Lock()
	sb.peers[p.id] = p.svc
	sb.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.svc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	if relayUp {
		p.svc.SetRelayAvailable(true)
		waitState(t, p, "relay up", func(st domain.CallState) bool { return st.RelayAvailable })
	}
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitState(t *testing.T, p *party, what string, pred func(domain.CallState) bool) domain.CallState {
	t.Helper()
	var st domain.CallState
	waitFor(t, fmt.Sprintf("%s: %s", p.id, what), func() bool {
		st = p.svc.State()
		return pred(st)
	})
	return st
}

func waitStatus(t *testing.T, p *party, status domain.CallStatus) domain.CallState {
	t.Helper()
	return waitState(t, p, "status "+string(status), func(st domain.CallState) bool { return st.Status == status })
}

// connect runs a full call setup from a to b.
func connect(t *testing.T, a, b *party) {
	t.Helper()
	ctx := context.Background()
	if err := a.svc.StartCall(ctx, b.id); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	waitStatus(t, b, domain.StatusRinging)
	if err := b.svc.Answer(ctx); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	waitStatus(t, a, domain.StatusConnected)
	waitStatus(t, b, domain.StatusConnected)
}
