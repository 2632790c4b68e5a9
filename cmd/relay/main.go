package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wyydra/yacall/internal/adapter/driven/relay/ws"
	"github.com/Wyydra/yacall/internal/auth"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	l := cfg.Logger(os.Stdout)
	log.Logger = l

	m := metrics.New()
	hub := ws.NewHub(m)

	var opts []ws.ServerOption
	if cfg.RelayTokenSecret != "" {
		opts = append(opts, ws.WithVerifier(auth.NewAuthority(cfg.RelayTokenSecret)))
		l.Info().Msg("Relay admission tokens required")
	}
	relay := ws.NewServer(hub, opts...)

	go hub.Run()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", relay.ServeWS)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:    cfg.RelayListenAddr,
		Handler: r,
	}

	go func() {
		l.Info().Str("addr", cfg.RelayListenAddr).Msg("Starting relay")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start relay")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down relay...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Relay forced to shutdown")
	}

	hub.Stop()
	l.Info().Msg("Relay exited")
}
