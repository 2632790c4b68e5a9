package pion

import (
	"fmt"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type Config struct {
	// ICEServers are STUN/TURN URLs.
	ICEServers []string
	UDPPortMin uint16
	UDPPortMax uint16
	Logger     zerolog.Logger
}

// Factory builds peer connections that share one configured pion API.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
	log    zerolog.Logger
}

func NewFactory(cfg Config) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = newLoggerFactory(cfg.Logger)
	// A brief NAT hiccup should not end the call.
	se.SetICETimeouts(15*time.Second, 45*time.Second, 2*time.Second)
	if cfg.UDPPortMin != 0 || cfg.UDPPortMax != 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, fmt.Errorf("udp port range: %w", err)
		}
	}

	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.ICEServers})
	}

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		),
		config: webrtc.Configuration{ICEServers: servers},
		log:    cfg.Logger,
	}, nil
}

func (f *Factory) NewConnection(peer domain.UserID, events port.ConnectionEvents) (port.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return newConnection(pc, peer, events, f.log.With().Str("peer_id", peer.String()).Logger()), nil
}
