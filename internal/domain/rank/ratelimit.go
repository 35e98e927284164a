package rank

import (
	"time"

	"github.com/truthrank/truthrank/internal/domain/shared"
)

// DefaultCooldown is the minimum spacing of interactive recalculations.
const DefaultCooldown = time.Hour

// ReasonCooldown is reported while the cooldown is active.
const ReasonCooldown = "recalculation cooldown active"

// RateLimitCheck is the limiter's verdict.
type RateLimitCheck struct {
	Allowed       bool      `json:"allowed"`
	NextAllowedAt time.Time `json:"next_allowed_at"`
	Reason        string    `json:"reason,omitempty"`
}

// Err returns a *shared.RateLimitError for a rejection and nil otherwise.
func (c RateLimitCheck) Err() error {
	if c.Allowed {
		return nil
	}
	return &shared.RateLimitError{NextAllowedAt: c.NextAllowedAt, Reason: c.Reason}
}

// RateLimiter enforces a fixed cooldown after each interactive recalculation.
// Batch recalculation never consults it.
type RateLimiter struct {
	cooldown time.Duration
}

// NewRateLimiter creates a limiter. A non-positive cooldown uses DefaultCooldown.
func NewRateLimiter(cooldown time.Duration) *RateLimiter {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &RateLimiter{cooldown: cooldown}
}

// Cooldown returns the configured window.
func (l *RateLimiter) Cooldown() time.Duration { return l.cooldown }

// Check decides whether stats may be recalculated interactively at now.
func (l *RateLimiter) Check(stats *UserStats, now time.Time) RateLimitCheck {
	if stats.LastRecalculationAt.IsZero() {
		return RateLimitCheck{Allowed: true, NextAllowedAt: now}
	}

	next := stats.LastRecalculationAt.Add(l.cooldown)
	if !now.Before(next) {
		return RateLimitCheck{Allowed: true, NextAllowedAt: now}
	}
	return RateLimitCheck{
		Allowed:       false,
		NextAllowedAt: next,
		Reason:        ReasonCooldown,
	}
}
