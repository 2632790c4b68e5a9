package port

import "context"

// Broadcaster is a named broadcast channel. Every subscriber receives every
// published frame, including its own.
type Broadcaster interface {
	Publish(ctx context.Context, frame []byte) error
	// Subscribe returns a channel of frames that is closed when the
	// subscription is lost or ctx is done.
	Subscribe(ctx context.Context) (<-chan []byte, error)
}
