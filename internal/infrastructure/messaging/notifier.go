package messaging

import (
	"context"

	"github.com/truthrank/truthrank/internal/domain/rank"
	"github.com/truthrank/truthrank/internal/domain/shared"
	"github.com/truthrank/truthrank/pkg/circuitbreaker"
	"github.com/truthrank/truthrank/pkg/metrics"
)

// Notification kinds used as metric labels.
const (
	KindUpgraded = "upgraded"
	KindInactive = "inactive"
)

// EventNotifier implements rank.Notifier by publishing domain events. Calls
// go through a circuit breaker so an unreachable transport fails fast.
type EventNotifier struct {
	publisher shared.EventPublisher
	breaker   *circuitbreaker.CircuitBreaker
	metrics   *metrics.Metrics
}

// NewEventNotifier creates a notifier. breaker and m may be nil.
func NewEventNotifier(publisher shared.EventPublisher, breaker *circuitbreaker.CircuitBreaker, m *metrics.Metrics) *EventNotifier {
	return &EventNotifier{publisher: publisher, breaker: breaker, metrics: m}
}

// NotifyUpgraded implements rank.Notifier.
func (n *EventNotifier) NotifyUpgraded(ctx context.Context, notice rank.UpgradeNotice) error {
	event := shared.NewUserUpgradedEvent(
		notice.UserID,
		notice.From.String(),
		notice.To.String(),
		notice.Percentage,
		notice.DaysInPreviousRank,
		notice.Trigger,
		notice.At,
	)
	err := n.publish(ctx, event)
	n.metrics.RecordNotification(KindUpgraded, err)
	return err
}

// NotifyInactive implements rank.Notifier.
func (n *EventNotifier) NotifyInactive(ctx context.Context, notice rank.InactivityNotice) error {
	event := shared.NewUserInactiveEvent(
		notice.UserID,
		notice.LastActiveAt,
		notice.DaysInactive,
		notice.InactivityStreaks,
		notice.At,
	)
	err := n.publish(ctx, event)
	n.metrics.RecordNotification(KindInactive, err)
	return err
}

func (n *EventNotifier) publish(ctx context.Context, event shared.Event) error {
	if n.breaker == nil {
		return n.publisher.Publish(ctx, event)
	}
	return n.breaker.Execute(ctx, func(ctx context.Context) error {
		return n.publisher.Publish(ctx, event)
	})
}
