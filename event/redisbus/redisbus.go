// Package redisbus carries lifecycle events between processes over Redis
// pub/sub. A Bus is an event.Sink on the publishing side; on the receiving
// side Forward feeds every event into a local sink such as an event.Broker.
package redisbus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/gauntlet/event"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "gauntlet:events"

// Options configures the Redis connection.
type Options struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// Channel defaults to DefaultChannel.
	Channel string

	// TLS configuration for secure connections
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// WriteTimeout is the maximum time to wait for publish
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// Bus publishes and receives events on one channel.
type Bus struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

var _ event.Sink = (*Bus)(nil)

// New connects to Redis and returns a Bus.
func New(opts Options) (*Bus, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout
	// subscriptions block on read
	redisOpts.ReadTimeout = -1

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewFromClient(client, opts.Channel, opts.Logger), nil
}

// NewFromClient wraps an existing client. The Bus owns it from then on.
func NewFromClient(client *redis.Client, channel string, logger *slog.Logger) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{client: client, channel: channel, logger: logger.With("channel", channel)}
}

// Channel returns the pub/sub channel name.
func (b *Bus) Channel() string { return b.channel }

// Publish sends e to the channel.
func (b *Bus) Publish(ctx context.Context, e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", b.channel, err)
	}
	return nil
}

// Subscribe returns a channel of events received until ctx is canceled.
// Messages that do not decode as events are skipped.
func (b *Bus) Subscribe(ctx context.Context) (<-chan event.Event, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", b.channel, err)
	}

	out := make(chan event.Event)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e event.Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					b.logger.Warn("skipping undecodable event", "error", err)
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Forward publishes every received event to sink until ctx is canceled.
// It returns nil on cancellation.
func (b *Bus) Forward(ctx context.Context, sink event.Sink) error {
	events, err := b.Subscribe(ctx)
	if err != nil {
		return err
	}
	for e := range events {
		if err := sink.Publish(ctx, e); err != nil && ctx.Err() == nil {
			b.logger.Warn("forwarding event failed", "run_id", e.RunID, "type", e.Type, "error", err)
		}
	}
	return nil
}

// Close closes the Redis connection.
func (b *Bus) Close() error {
	return b.client.Close()
}
