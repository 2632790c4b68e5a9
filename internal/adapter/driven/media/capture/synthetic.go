package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const opusFrame = 20 * time.Millisecond

// opusSilence is a single Opus packet decoding to 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Synthetic opens tracks without touching hardware: the microphone plays
// silence and the screen carries no frames. Headless agents and tests use it.
type Synthetic struct {
	clock clock.Clock
}

func NewSynthetic(clk clock.Clock) *Synthetic {
	if clk == nil {
		clk = clock.New()
	}
	return &Synthetic{clock: clk}
}

var _ port.CaptureDevices = (*Synthetic)(nil)

func (s *Synthetic) OpenMicrophone(ctx context.Context) (port.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"mic-"+uuid.NewString(), "yacall",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	done := make(chan struct{})
	go s.playSilence(local, done)
	return newTrack(domain.TrackAudio, local, func() error {
		close(done)
		return nil
	}), nil
}

func (s *Synthetic) playSilence(local *webrtc.TrackLocalStaticSample, done <-chan struct{}) {
	ticker := s.clock.Ticker(opusFrame)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// Unbound tracks drop samples, so errors here only mean nobody
			// is listening yet.
			if err := local.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrame}); err != nil {
				log.Trace().Err(err).Msg("Synthetic sample dropped")
			}
		case <-done:
			return
		}
	}
}

func (s *Synthetic) OpenScreen(ctx context.Context) (port.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"screen-"+uuid.NewString(), "yacall",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}
	return newTrack(domain.TrackScreenVideo, local, nil), nil
}
