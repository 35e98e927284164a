package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event.
type EventType string

const (
	// EventUserUpgraded is emitted when a user advances one rank tier.
	EventUserUpgraded EventType = "rank.upgraded"

	// EventUserInactive is emitted when a new dormancy period is detected.
	EventUserInactive EventType = "rank.inactive"
)

// Event is the base interface for all domain events.
type Event interface {
	EventID() string
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string
	Payload() map[string]any
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Version     int       `json:"version"`
}

// EventID implements Event.
func (e BaseEvent) EventID() string { return e.ID }

// EventType implements Event.
func (e BaseEvent) EventType() EventType { return e.Type }

// OccurredAt implements Event.
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// AggregateID implements Event.
func (e BaseEvent) AggregateID() string { return e.AggregateId }

// NewBaseEvent creates a base event stamped with at.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// UserUpgradedEvent is emitted after an upgrade has been persisted.
type UserUpgradedEvent struct {
	BaseEvent
	UserID             string  `json:"user_id"`
	PreviousRank       string  `json:"previous_rank"`
	NewRank            string  `json:"new_rank"`
	Percentage         float64 `json:"percentage"`
	DaysInPreviousRank int     `json:"days_in_previous_rank"`
	Trigger            string  `json:"trigger"`
}

// Payload implements Event.
func (e UserUpgradedEvent) Payload() map[string]any {
	return map[string]any{
		"user_id":               e.UserID,
		"previous_rank":         e.PreviousRank,
		"new_rank":              e.NewRank,
		"percentage":            e.Percentage,
		"days_in_previous_rank": e.DaysInPreviousRank,
		"trigger":               e.Trigger,
	}
}

// NewUserUpgradedEvent creates a UserUpgradedEvent.
func NewUserUpgradedEvent(userID, previousRank, newRank string, percentage float64, daysInPrevious int, trigger string, at time.Time) UserUpgradedEvent {
	return UserUpgradedEvent{
		BaseEvent:          NewBaseEvent(EventUserUpgraded, userID, at),
		UserID:             userID,
		PreviousRank:       previousRank,
		NewRank:            newRank,
		Percentage:         percentage,
		DaysInPreviousRank: daysInPrevious,
		Trigger:            trigger,
	}
}

// UserInactiveEvent is emitted once per newly detected dormancy period.
type UserInactiveEvent struct {
	BaseEvent
	UserID            string    `json:"user_id"`
	LastActiveAt      time.Time `json:"last_active_at"`
	DaysInactive      int       `json:"days_inactive"`
	InactivityStreaks int       `json:"inactivity_streaks"`
}

// Payload implements Event.
func (e UserInactiveEvent) Payload() map[string]any {
	return map[string]any{
		"user_id":            e.UserID,
		"last_active_at":     e.LastActiveAt.Format(time.RFC3339),
		"days_inactive":      e.DaysInactive,
		"inactivity_streaks": e.InactivityStreaks,
	}
}

// NewUserInactiveEvent creates a UserInactiveEvent.
func NewUserInactiveEvent(userID string, lastActiveAt time.Time, daysInactive, streaks int, at time.Time) UserInactiveEvent {
	return UserInactiveEvent{
		BaseEvent:         NewBaseEvent(EventUserInactive, userID, at),
		UserID:            userID,
		LastActiveAt:      lastActiveAt,
		DaysInactive:      daysInactive,
		InactivityStreaks: streaks,
	}
}

// EventEnvelope wraps an event for transport.
type EventEnvelope struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// NewEnvelope serializes event into an envelope.
func NewEnvelope(event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal %s payload: %w", event.EventType(), err)
	}
	return EventEnvelope{
		ID:          event.EventID(),
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Payload:     payload,
	}, nil
}

// EventHandler handles one event.
type EventHandler func(ctx context.Context, event Event) error

// EventPublisher publishes events.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// EventSubscriber registers handlers.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
