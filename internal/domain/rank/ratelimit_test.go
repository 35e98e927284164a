package rank

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/truthrank/truthrank/internal/domain/shared"
)

func TestRateLimiter_Check(t *testing.T) {
	l := NewRateLimiter(time.Hour)
	s := NewUserStats("u", "", "observer", daysAgo(10))

	first := l.Check(s, testNow)
	assert.True(t, first.Allowed)
	assert.NoError(t, first.Err())

	s.LastRecalculationAt = testNow

	tests := []struct {
		name    string
		at      time.Time
		allowed bool
	}{
		{"immediately after", testNow.Add(time.Second), false},
		{"just before cooldown ends", testNow.Add(59*time.Minute + 59*time.Second), false},
		{"at cooldown end", testNow.Add(time.Hour), true},
		{"well after", testNow.Add(3 * time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := l.Check(s, tt.at)
			assert.Equal(t, tt.allowed, check.Allowed)
			if !tt.allowed {
				assert.Equal(t, testNow.Add(time.Hour), check.NextAllowedAt)
				assert.Equal(t, ReasonCooldown, check.Reason)

				err := check.Err()
				assert.ErrorIs(t, err, shared.ErrRateLimited)
			}
		})
	}
}

func TestNewRateLimiter_DefaultCooldown(t *testing.T) {
	assert.Equal(t, DefaultCooldown, NewRateLimiter(0).Cooldown())
	assert.Equal(t, 5*time.Minute, NewRateLimiter(5*time.Minute).Cooldown())
}
