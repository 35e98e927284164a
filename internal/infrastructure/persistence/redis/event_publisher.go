package redis

import (
	"context"
	"fmt"

	"github.com/truthrank/truthrank/internal/domain/shared"
)

// EventPublisher fans domain events out to other processes over Redis
// pub/sub. Each event type gets its own channel, "{prefix}events:{type}".
type EventPublisher struct {
	cache *Cache
}

// NewEventPublisher creates a publisher on cache.
func NewEventPublisher(cache *Cache) *EventPublisher {
	return &EventPublisher{cache: cache}
}

// Channel returns the channel an event type is published on.
func (p *EventPublisher) Channel(eventType shared.EventType) string {
	return p.cache.Key("events", string(eventType))
}

// Publish implements shared.EventPublisher.
func (p *EventPublisher) Publish(ctx context.Context, event shared.Event) error {
	envelope, err := shared.NewEnvelope(event)
	if err != nil {
		return err
	}
	if err := p.cache.Publish(ctx, p.Channel(event.EventType()), envelope); err != nil {
		return fmt.Errorf("publish %s: %w", event.EventType(), err)
	}
	return nil
}
