package messaging

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/truthrank/truthrank/internal/domain/shared"
)

// LogEvents returns a handler that writes every event to logger at info level.
func LogEvents(logger zerolog.Logger) shared.EventHandler {
	logger = logger.With().Str("component", "events").Logger()
	return func(_ context.Context, event shared.Event) error {
		logger.Info().
			Str("event_id", event.EventID()).
			Str("event_type", string(event.EventType())).
			Str("user_id", event.AggregateID()).
			Time("occurred_at", event.OccurredAt()).
			Fields(event.Payload()).
			Msg("domain event")
		return nil
	}
}

// Forward returns a handler that republishes every event to target, for
// example to bridge the local bus onto Redis pub/sub.
func Forward(target shared.EventPublisher) shared.EventHandler {
	return func(ctx context.Context, event shared.Event) error {
		return target.Publish(ctx, event)
	}
}
