package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrNotConnected = errors.New("relay not connected")

// Dialer is the party side of the websocket relay. It implements
// port.Broadcaster over one connection per subscription.
type Dialer struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewDialer(url, token string) *Dialer {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &Dialer{
		url:    url,
		header: header,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Subscribe dials the relay. The returned channel closes when the socket
// drops or ctx is done; Publish uses the latest socket.
func (d *Dialer) Subscribe(ctx context.Context) (<-chan []byte, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.url, d.header)
	if err != nil {
		if resp != nil {
			log.Debug().Int("status", resp.StatusCode).Str("url", d.url).Msg("Relay handshake rejected")
		}
		return nil, err
	}

	d.mu.Lock()
	old := d.conn
	d.conn = conn
	d.mu.Unlock()
	if old != nil {
		old.Close()
	}

	frames := make(chan []byte, 64)
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	go func() {
		defer close(frames)
		defer close(stop)
		defer d.forget(conn)

		conn.SetReadLimit(maxMessageSize)
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					log.Debug().Err(err).Msg("Relay connection lost")
				}
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return frames, nil
}

func (d *Dialer) forget(conn *websocket.Conn) {
	d.mu.Lock()
	if d.conn == conn {
		d.conn = nil
	}
	d.mu.Unlock()
	conn.Close()
}

func (d *Dialer) Publish(ctx context.Context, frame []byte) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(writeWait)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (d *Dialer) Close() error {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
