package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestWindowExpired(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	anchorAt := func(age time.Duration) *time.Time {
		a := now.Add(-age)
		return &a
	}

	tests := []struct {
		name   string
		anchor *time.Time
		want   bool
	}{
		{"nil anchor counts as expired", nil, true},
		{"fresh window", anchorAt(time.Hour), false},
		{"29 days 23 hours", anchorAt((29*24 + 23) * time.Hour), false},
		{"exactly 30 days", anchorAt(30 * 24 * time.Hour), true},
		{"well past 30 days", anchorAt(90 * 24 * time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := UserQuotaState{UserID: uuid.New(), WindowAnchor: tt.anchor}
			assert.Equal(t, tt.want, q.WindowExpired(now))
		})
	}
}

func TestRollover(t *testing.T) {
	now := time.Now().UTC()
	old := now.Add(-40 * 24 * time.Hour)
	q := UserQuotaState{
		UserID:       uuid.New(),
		PlanName:     "Standard",
		UsageCount:   7,
		WindowAnchor: &old,
	}

	q.Rollover(now)

	assert.Equal(t, int64(0), q.UsageCount)
	assert.True(t, q.WindowAnchor.Equal(now))
	assert.False(t, q.WindowExpired(now))
	// The plan itself is untouched by a window reset.
	assert.Equal(t, "Standard", q.PlanName)
}
