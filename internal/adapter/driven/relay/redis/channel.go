package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Options mirror the connection settings of the redis relay.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a client and checks it with a PING.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Channel implements port.Broadcaster on a redis pub/sub channel. Redis
// delivers a publication to every subscriber, the publishing process
// included.
type Channel struct {
	client *redis.Client
	name   string
}

func NewChannel(client *redis.Client, name string) *Channel {
	return &Channel{client: client, name: name}
}

func (c *Channel) Publish(ctx context.Context, frame []byte) error {
	return c.client.Publish(ctx, c.name, frame).Err()
}

func (c *Channel) Subscribe(ctx context.Context) (<-chan []byte, error) {
	sub := c.client.Subscribe(ctx, c.name)
	// Receive blocks until the subscription is confirmed, so a frame
	// published right after Subscribe returns is not missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %q: %w", c.name, err)
	}

	frames := make(chan []byte, 64)
	go func() {
		defer close(frames)
		defer sub.Close()
		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("channel", c.name).Msg("Redis subscription ended")
				}
				return
			}
			select {
			case frames <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return frames, nil
}
