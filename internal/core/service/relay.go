package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	DefaultResubscribeMin = 500 * time.Millisecond
	DefaultResubscribeMax = 30 * time.Second
)

// RelayClient speaks the signaling relay protocol over a broadcast
// transport: it encodes outgoing envelopes and delivers the inbound ones
// addressed to the local identity.
type RelayClient struct {
	transport port.Broadcaster
	self      domain.UserID
	metrics   *metrics.Metrics

	minBackoff time.Duration
	maxBackoff time.Duration
	onStatus   func(up bool)
}

type RelayOption func(*RelayClient)

func WithRelayMetrics(m *metrics.Metrics) RelayOption {
	return func(c *RelayClient) { c.metrics = m }
}

func WithResubscribeBackoff(lo, hi time.Duration) RelayOption {
	return func(c *RelayClient) {
		if lo > 0 {
			c.minBackoff = lo
		}
		if hi >= c.minBackoff {
			c.maxBackoff = hi
		}
	}
}

// WithRelayStatus registers a callback for subscription up/down changes.
func WithRelayStatus(fn func(up bool)) RelayOption {
	return func(c *RelayClient) { c.onStatus = fn }
}

func NewRelayClient(transport port.Broadcaster, self domain.UserID, opts ...RelayOption) *RelayClient {
	c := &RelayClient{
		transport:  transport,
		self:       self,
		minBackoff: DefaultResubscribeMin,
		maxBackoff: DefaultResubscribeMax,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send publishes env. Delivery is best effort and unacknowledged.
func (c *RelayClient) Send(ctx context.Context, env domain.Envelope) error {
	frame, err := domain.MarshalEnvelope(env)
	if err != nil {
		return err
	}
	if err := c.transport.Publish(ctx, frame); err != nil {
		c.metrics.Dropped(metrics.DropSendFailed)
		return fmt.Errorf("%w: %v", domain.ErrRelayUnavailable, err)
	}
	c.metrics.Sent()
	log.Debug().Str("kind", string(env.Kind)).Str("target_id", env.TargetID.String()).Msg("Envelope sent")
	return nil
}

// Run keeps a subscription open until ctx is done, re-subscribing with
// exponential backoff whenever it is lost.
func (c *RelayClient) Run(ctx context.Context, deliver func(domain.Envelope)) error {
	backoff := c.minBackoff
	lost := false
	for {
		frames, err := c.transport.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.setStatus(false)
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("Relay unavailable")
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}

		if lost {
			c.metrics.Resubscribed()
		}
		c.setStatus(true)
		backoff = c.minBackoff
		log.Info().Str("self_id", c.self.String()).Msg("Relay subscribed")

		for frame := range frames {
			c.dispatch(frame, deliver)
		}
		if ctx.Err() != nil {
			return nil
		}

		lost = true
		c.setStatus(false)
		log.Warn().Dur("retry_in", backoff).Msg("Relay subscription lost")
		if !sleepCtx(ctx, backoff) {
			return nil
		}
	}
}

func (c *RelayClient) dispatch(frame []byte, deliver func(domain.Envelope)) {
	env, err := domain.UnmarshalEnvelope(frame)
	if err != nil {
		c.metrics.Dropped(metrics.DropMalformed)
		log.Debug().Err(err).Int("bytes", len(frame)).Msg("Dropping malformed envelope")
		return
	}
	if env.TargetID != c.self {
		c.metrics.Dropped(metrics.DropNotAddressed)
		return
	}
	c.metrics.Received()
	deliver(env)
}

func (c *RelayClient) setStatus(up bool) {
	if c.onStatus != nil {
		c.onStatus(up)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
