package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"NewsPipeline/internal/config"
	"NewsPipeline/internal/ports"
)

// RedisPublisher broadcasts run events on a Redis pub/sub channel so
// external dashboards can follow pipeline progress. Delivery is fire and
// forget; subscribers that miss an event catch up from the run store.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

var _ ports.EventPublisher = (*RedisPublisher)(nil)

// NewRedisPublisher connects a client from configuration.
func NewRedisPublisher(cfg config.EventsConfig) *RedisPublisher {
	return &RedisPublisher{
		client:  redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}),
		channel: cfg.Channel,
	}
}

// PublishRunEvent pushes one event as JSON.
func (p *RedisPublisher) PublishRunEvent(ctx context.Context, event ports.RunEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish run event: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
