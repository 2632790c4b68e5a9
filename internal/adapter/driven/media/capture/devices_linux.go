//go:build linux

package capture

import (
	"context"
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog/log"
)

// Devices captures the default microphone and the primary screen through
// pion/mediadevices.
type Devices struct {
	codecs *mediadevices.CodecSelector
}

var _ port.CaptureDevices = (*Devices)(nil)

func NewDevices() (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	for _, d := range mediadevices.EnumerateDevices() {
		log.Debug().Str("kind", fmt.Sprint(d.Kind)).Str("label", d.Label).Msg("Media device")
	}

	return &Devices{
		codecs: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (d *Devices) OpenMicrophone(ctx context.Context) (port.LocalTrack, error) {
	return d.open(ctx, domain.TrackAudio, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
			Audio: func(*mediadevices.MediaTrackConstraints) {},
			Codec: d.codecs,
		})
	})
}

func (d *Devices) OpenScreen(ctx context.Context) (port.LocalTrack, error) {
	return d.open(ctx, domain.TrackScreenVideo, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
			Video: func(c *mediadevices.MediaTrackConstraints) {
				c.Width = prop.IntRanged{Max: 1920}
				c.Height = prop.IntRanged{Max: 1080}
			},
			Codec: d.codecs,
		})
	})
}

type opened struct {
	track mediadevices.Track
	err   error
}

// open runs the blocking driver call off the caller so ctx can abandon it.
// A track that arrives after ctx is done is closed.
func (d *Devices) open(ctx context.Context, kind domain.TrackKind, get func() (mediadevices.MediaStream, error)) (port.LocalTrack, error) {
	result := make(chan opened, 1)
	go func() {
		stream, err := get()
		if err != nil {
			result <- opened{err: captureError(err)}
			return
		}
		tracks := stream.GetTracks()
		if len(tracks) == 0 {
			result <- opened{err: fmt.Errorf("%w: no %s track", domain.ErrDeviceUnavailable, kind)}
			return
		}
		for _, extra := range tracks[1:] {
			extra.Close()
		}
		tracks[0].OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("kind", string(kind)).Msg("Capture track ended")
			}
		})
		result <- opened{track: tracks[0]}
	}()

	select {
	case r := <-result:
		if r.err != nil {
			return nil, r.err
		}
		return newTrack(kind, r.track, r.track.Close), nil
	case <-ctx.Done():
		go func() {
			if r := <-result; r.track != nil {
				r.track.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
