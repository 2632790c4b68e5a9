package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("bus closed")

const defaultBuffer = 64

// Bus is an in-process broadcast channel. It implements port.Broadcaster
// and is what single-process deployments and tests run the relay on.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan []byte
	next   int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan []byte)}
}

// Publish hands frame to every subscriber, the publisher's own included.
// A subscriber that is not keeping up loses the frame.
func (b *Bus) Publish(ctx context.Context, frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	cp := append([]byte(nil), frame...)
	for id, ch := range b.subs {
		select {
		case ch <- cp:
		default:
			log.Warn().Int("subscriber", id).Msg("Subscriber buffer full, dropping frame")
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	id := b.next
	b.next++
	ch := make(chan []byte, defaultBuffer)
	b.subs[id] = ch

	go func() {
		<-ctx.Done()
		b.remove(id)
	}()
	return ch, nil
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Close ends every subscription. Later calls fail with ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
