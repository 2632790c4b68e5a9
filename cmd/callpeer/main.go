package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wyydra/yacall/internal/adapter/driven/identity"
	"github.com/Wyydra/yacall/internal/adapter/driven/media/capture"
	"github.com/Wyydra/yacall/internal/adapter/driven/media/pion"
	"github.com/Wyydra/yacall/internal/adapter/driven/media/sink"
	"github.com/Wyydra/yacall/internal/adapter/driven/relay/gossip"
	"github.com/Wyydra/yacall/internal/adapter/driven/relay/memory"
	"github.com/Wyydra/yacall/internal/adapter/driven/relay/redis"
	"github.com/Wyydra/yacall/internal/adapter/driven/relay/ws"
	handler "github.com/Wyydra/yacall/internal/adapter/driving/http"
	"github.com/Wyydra/yacall/internal/auth"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/Wyydra/yacall/internal/metrics"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	l := cfg.Logger(os.Stdout)
	log.Logger = l

	// Transports live until main returns; the relay loop outlives the call
	// service so its final hangup still goes out.
	ctx, cancelAll := context.WithCancel(context.Background())
	defer cancelAll()
	callsCtx, stopCalls := context.WithCancel(ctx)
	relayCtx, stopRelay := context.WithCancel(ctx)

	m := metrics.New()
	self := identity.NewStatic(domain.UserID(cfg.SelfID), cfg.DisplayName)
	l.Info().Str("self_id", self.Self().ID.String()).Str("relay_mode", string(cfg.RelayMode)).Msg("Starting call agent")

	transport, closeTransport, err := openTransport(ctx, cfg, self.Self().ID)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to open relay transport")
	}
	defer closeTransport()

	factory, err := pion.NewFactory(pion.Config{
		ICEServers: cfg.ICEServers,
		UDPPortMin: cfg.UDPPortMin,
		UDPPortMax: cfg.UDPPortMax,
		Logger:     l.With().Str("component", "pion").Logger(),
	})
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to build media stack")
	}

	devices, err := openDevices(cfg)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to open capture devices")
	}

	var calls *service.CallService
	relay := service.NewRelayClient(transport, self.Self().ID,
		service.WithRelayMetrics(m),
		service.WithResubscribeBackoff(cfg.ResubscribeMin, cfg.ResubscribeMax),
		service.WithRelayStatus(func(up bool) { calls.SetRelayAvailable(up) }),
	)
	calls = service.NewCallService(self, relay, factory, devices,
		service.WithMetrics(m),
		service.WithSink(sink.NewDrain()),
	)

	callsDone := make(chan struct{})
	go func() {
		defer close(callsDone)
		if err := calls.Run(callsCtx); err != nil {
			l.Error().Err(err).Msg("Call service stopped")
		}
	}()
	go func() {
		if err := relay.Run(relayCtx, calls.Deliver); err != nil {
			l.Error().Err(err).Msg("Relay client stopped")
		}
	}()

	h := handler.NewHandler(calls, m)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().Str("addr", cfg.ListenAddr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	stopCalls()
	select {
	case <-callsDone:
	case <-shutdownCtx.Done():
		l.Warn().Msg("Call service did not stop in time")
	}
	stopRelay()
	l.Info().Msg("Server exited")
}

func openTransport(ctx context.Context, cfg config.Config, self domain.UserID) (port.Broadcaster, func(), error) {
	switch cfg.RelayMode {
	case config.RelayModeWS:
		token := ""
		if cfg.RelayTokenSecret != "" {
			var err error
			token, err = auth.NewAuthority(cfg.RelayTokenSecret).Mint(self.String(), config.DefaultTokenTTL)
			if err != nil {
				return nil, nil, fmt.Errorf("mint relay token: %w", err)
			}
		}
		d := ws.NewDialer(cfg.RelayURL, token)
		return d, func() { d.Close() }, nil

	case config.RelayModeRedis:
		client, err := redis.Connect(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return redis.NewChannel(client, cfg.RelayTopic), func() { client.Close() }, nil

	case config.RelayModeGossip:
		node, err := gossip.NewNode(ctx, cfg.GossipListen, cfg.GossipMDNSTag)
		if err != nil {
			return nil, nil, err
		}
		for _, addr := range cfg.GossipPeers {
			if err := node.Connect(ctx, addr); err != nil {
				log.Warn().Err(err).Str("peer", addr).Msg("Failed to reach bootstrap peer")
			}
		}
		topic, err := node.Join(cfg.RelayTopic)
		if err != nil {
			node.Close()
			return nil, nil, err
		}
		return topic, func() { node.Close() }, nil

	case config.RelayModeMemory:
		bus := memory.NewBus()
		return bus, bus.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported relay mode %q", cfg.RelayMode)
}

func openDevices(cfg config.Config) (port.CaptureDevices, error) {
	if cfg.Capture == config.CaptureSynthetic {
		return capture.NewSynthetic(nil), nil
	}
	return capture.NewDevices()
}
