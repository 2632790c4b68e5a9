package http

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/Wyydra/yacall/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// CallController is the call agent as seen by the UI.
type CallController interface {
	State() domain.CallState
	Watch() (<-chan domain.CallState, func())
	StartCall(ctx context.Context, peer domain.UserID) error
	Answer(ctx context.Context) error
	Decline(ctx context.Context) error
	EndCall(ctx context.Context) error
	ToggleMute(ctx context.Context) error
	ToggleScreenShare(ctx context.Context) error
}

type Handler struct {
	Calls   CallController
	Metrics *metrics.Metrics
}

func NewHandler(calls CallController, m *metrics.Metrics) *Handler {
	return &Handler{
		Calls:   calls,
		Metrics: m,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", h.Metrics.Handler())

	r.Route("/call", func(r chi.Router) {
		r.Get("/", h.getState)
		r.Get("/events", h.ServeEvents)
		r.Group(func(r chi.Router) {
			r.Use(requireJSON)
			r.Post("/start", h.startCall)
			r.Post("/answer", h.intent(h.Calls.Answer))
			r.Post("/decline", h.intent(h.Calls.Decline))
			r.Post("/end", h.intent(h.Calls.EndCall))
			r.Post("/mute", h.intent(h.Calls.ToggleMute))
			r.Post("/screen", h.intent(h.Calls.ToggleScreenShare))
		})
	})

	return r
}

// requireJSON rejects anything but application/json, empty bodies
// included. A cross-site form cannot send that type without a preflight.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || ct != "application/json" {
			writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Calls.State())
}

type startRequest struct {
	PeerID domain.UserID `json:"peerId"`
}

func (h *Handler) startCall(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.PeerID == "" {
		writeError(w, http.StatusBadRequest, "peerId is required")
		return
	}
	h.respond(w, r, h.Calls.StartCall(r.Context(), req.PeerID))
}

func (h *Handler) intent(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.respond(w, r, fn(r.Context()))
	}
}

// respond answers with the state after an accepted intent. The call may
// still change asynchronously; /call/events follows it.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, h.Calls.State())
		return
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Call intent failed")
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRelayUnavailable), errors.Is(err, service.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
