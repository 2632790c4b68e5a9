package gossip

import (
	"context"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/rs/zerolog/log"
)

// Topic implements port.Broadcaster on a GossipSub topic. Local
// subscribers see the node's own publications too.
type Topic struct {
	topic *pubsub.Topic
}

func (t *Topic) Publish(ctx context.Context, frame []byte) error {
	return t.topic.Publish(ctx, frame)
}

func (t *Topic) Subscribe(ctx context.Context) (<-chan []byte, error) {
	sub, err := t.topic.Subscribe()
	if err != nil {
		return nil, err
	}
	frames := make(chan []byte, 64)
	go func() {
		defer close(frames)
		defer sub.Cancel()
		for {
			m, err := sub.Next(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("topic", t.topic.String()).Msg("Gossip subscription ended")
				}
				return
			}
			select {
			case frames <- m.Data:
			case <-ctx.Done():
				return
			}
		}
	}()
	return frames, nil
}
