package service

import (
	"context"
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog"
)

type outgoingTrack struct {
	track  port.LocalTrack
	sender port.TrackSender
}

// TrackNegotiator owns the local capture tracks of one call and their slots
// on the connection. It is driven from the call actor only, except Acquire
// which touches no negotiator state and may run on any goroutine.
type TrackNegotiator struct {
	devices port.CaptureDevices
	sink    port.MediaSink
	conn    port.PeerConnection
	log     zerolog.Logger

	tracks map[domain.TrackKind]*outgoingTrack
	remote map[domain.TrackKind]string
	muted  bool
}

func NewTrackNegotiator(conn port.PeerConnection, devices port.CaptureDevices, sink port.MediaSink, l zerolog.Logger) *TrackNegotiator {
	return &TrackNegotiator{
		devices: devices,
		sink:    sink,
		conn:    conn,
		log:     l,
		tracks:  make(map[domain.TrackKind]*outgoingTrack),
		remote:  make(map[domain.TrackKind]string),
	}
}

// Acquire opens the capture device for kind. It may block on the device.
func (n *TrackNegotiator) Acquire(ctx context.Context, kind domain.TrackKind) (port.LocalTrack, error) {
	switch kind {
	case domain.TrackAudio:
		return n.devices.OpenMicrophone(ctx)
	case domain.TrackScreenVideo:
		return n.devices.OpenScreen(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown track kind %q", domain.ErrDeviceUnavailable, kind)
	}
}

func (n *TrackNegotiator) Has(kind domain.TrackKind) bool {
	_, ok := n.tracks[kind]
	return ok
}

// Kinds lists the outgoing track set, audio first.
func (n *TrackNegotiator) Kinds() []domain.TrackKind {
	var kinds []domain.TrackKind
	for _, k := range []domain.TrackKind{domain.TrackAudio, domain.TrackScreenVideo} {
		if n.Has(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Track returns the attached local track of kind, or nil.
func (n *TrackNegotiator) Track(kind domain.TrackKind) port.LocalTrack {
	if t, ok := n.tracks[kind]; ok {
		return t.track
	}
	return nil
}

// Attach adds a captured track to the connection. A second track of a kind
// that is already attached is closed and ignored, which keeps audio
// acquisition idempotent.
func (n *TrackNegotiator) Attach(track port.LocalTrack) error {
	kind := track.Kind()
	if n.Has(kind) {
		n.log.Debug().Str("kind", string(kind)).Msg("Track already attached, closing duplicate")
		_ = track.Close()
		return nil
	}

	sender, err := n.conn.AddTrack(track)
	if err != nil {
		_ = track.Close()
		return fmt.Errorf("attach %s track: %w", kind, err)
	}
	n.tracks[kind] = &outgoingTrack{track: track, sender: sender}

	if kind == domain.TrackAudio && n.muted {
		if err := sender.SetActive(false); err != nil {
			n.log.Error().Err(err).Msg("Failed to apply mute to new audio track")
		}
	}
	n.log.Info().Str("kind", string(kind)).Str("track_id", track.ID()).Msg("Local track attached")
	return nil
}

// Detach removes the track of kind from the connection and closes it.
// It reports whether anything was removed.
func (n *TrackNegotiator) Detach(kind domain.TrackKind) (bool, error) {
	t, ok := n.tracks[kind]
	if !ok {
		return false, nil
	}
	delete(n.tracks, kind)

	err := n.conn.RemoveTrack(t.sender)
	if cerr := t.track.Close(); cerr != nil {
		n.log.Debug().Err(cerr).Str("kind", string(kind)).Msg("Closing detached track")
	}
	if err != nil {
		return true, fmt.Errorf("detach %s track: %w", kind, err)
	}
	n.log.Info().Str("kind", string(kind)).Msg("Local track detached")
	return true, nil
}

func (n *TrackNegotiator) Muted() bool {
	return n.muted
}

// SetMuted toggles whether the outgoing audio is sent. It never
// renegotiates. Muting before audio is attached is remembered.
func (n *TrackNegotiator) SetMuted(muted bool) error {
	n.muted = muted
	t, ok := n.tracks[domain.TrackAudio]
	if !ok {
		return nil
	}
	return t.sender.SetActive(!muted)
}

// HandleRemoteTrack routes an incoming track to the sink and reports whether
// it is video.
func (n *TrackNegotiator) HandleRemoteTrack(track port.RemoteTrack) bool {
	kind := track.Kind()
	if prev, ok := n.remote[kind]; ok && prev != track.ID() {
		n.log.Debug().Str("kind", string(kind)).Str("old", prev).Str("new", track.ID()).Msg("Remote track replaced")
	}
	n.remote[kind] = track.ID()
	if n.sink != nil {
		n.sink.Play(track)
	}
	return kind == domain.TrackScreenVideo
}

// RemoteVideoGone stops the video sink after the peer stopped sending video.
func (n *TrackNegotiator) RemoteVideoGone() {
	delete(n.remote, domain.TrackScreenVideo)
	if n.sink != nil {
		n.sink.Stop(domain.TrackScreenVideo)
	}
}

// Release closes every local track and stops the sinks. Safe to call twice.
func (n *TrackNegotiator) Release() {
	for kind, t := range n.tracks {
		if err := t.track.Close(); err != nil {
			n.log.Debug().Err(err).Str("kind", string(kind)).Msg("Closing track on release")
		}
		delete(n.tracks, kind)
	}
	for kind := range n.remote {
		if n.sink != nil {
			n.sink.Stop(kind)
		}
		delete(n.remote, kind)
	}
}
