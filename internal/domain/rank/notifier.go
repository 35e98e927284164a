package rank

import (
	"context"
	"time"
)

// UpgradeNotice announces a persisted promotion.
type UpgradeNotice struct {
	UserID             string
	DisplayName        string
	From               RankID
	To                 RankID
	Percentage         float64
	DaysInPreviousRank int
	Trigger            string
	At                 time.Time
}

// InactivityNotice announces a newly detected dormancy period.
type InactivityNotice struct {
	UserID            string
	DisplayName       string
	LastActiveAt      time.Time
	DaysInactive      int
	InactivityStreaks int
	At                time.Time
}

// Notifier delivers user-facing notifications. Delivery and format are the
// implementation's concern; the engine never blocks a stats write on it.
type Notifier interface {
	NotifyUpgraded(ctx context.Context, notice UpgradeNotice) error
	NotifyInactive(ctx context.Context, notice InactivityNotice) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

// NotifyUpgraded implements Notifier.
func (NopNotifier) NotifyUpgraded(context.Context, UpgradeNotice) error { return nil }

// NotifyInactive implements Notifier.
func (NopNotifier) NotifyInactive(context.Context, InactivityNotice) error { return nil }
