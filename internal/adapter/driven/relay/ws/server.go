package ws

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// TokenVerifier admits relay clients. It returns the user the token was
// issued to.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Server upgrades relay connections and attaches them to a Hub.
type Server struct {
	hub      *Hub
	verifier TokenVerifier
	upgrader websocket.Upgrader
}

type ServerOption func(*Server)

// WithVerifier requires a valid bearer token on every connection.
func WithVerifier(v TokenVerifier) ServerOption {
	return func(s *Server) { s.verifier = v }
}

// WithOriginCheck replaces the default allow-all origin policy.
func WithOriginCheck(check func(r *http.Request) bool) ServerOption {
	return func(s *Server) { s.upgrader.CheckOrigin = check }
}

func NewServer(hub *Hub, opts ...ServerOption) *Server {
	s := &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	clientID := uuid.New().String()
	if s.verifier != nil {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "authorization required", http.StatusUnauthorized)
			return
		}
		user, err := s.verifier.Verify(token)
		if err != nil {
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Rejected relay client")
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		clientID = user + "/" + clientID[:8]
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	l := log.With().Str("client_id", clientID).Logger()
	client := newClient(clientID, conn, l)
	s.hub.Register(client)
	l.Info().Msg("New relay client connected")

	go client.writePump()
	go client.readPump(s.hub)
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter for browsers that cannot set headers on websockets.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
