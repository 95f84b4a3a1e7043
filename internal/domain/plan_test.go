package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierOf(t *testing.T) {
	tests := []struct {
		name      string
		plan      string
		wantLimit int64
		wantPrice int64
		expires   bool
		wantErr   bool
	}{
		{"normal tier", "Normal", 3, 0, false, false},
		{"standard tier", "Standard", 10, 4900, true, false},
		{"premium tier", "Premium", Unlimited, 9900, true, false},
		{"unknown plan", "Platinum", 0, 0, false, true},
		{"case sensitive", "premium", 0, 0, false, true},
		{"empty name", "", 0, 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, err := TierOf(tt.plan)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, EINVALID, ErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, tier.JobPostLimit)
			assert.Equal(t, tt.wantPrice, tier.Price.Amount)
			assert.Equal(t, tt.expires, tier.Expires())
		})
	}
}

func TestPlanTierUnlimited(t *testing.T) {
	premium, err := TierOf("Premium")
	require.NoError(t, err)
	assert.True(t, premium.IsUnlimited())

	normal, err := TierOf("Normal")
	require.NoError(t, err)
	assert.False(t, normal.IsUnlimited())
}

func TestPlanTiersCatalog(t *testing.T) {
	tiers := PlanTiers()
	require.Len(t, tiers, 3)
	assert.Equal(t, []string{"Normal", "Standard", "Premium"},
		[]string{tiers[0].Name, tiers[1].Name, tiers[2].Name})

	// Mutating the returned slice must not touch the catalog.
	tiers[0].Name = "Mutated"
	fresh := PlanTiers()
	assert.Equal(t, "Normal", fresh[0].Name)
}

func TestDefaultPlanIsInCatalog(t *testing.T) {
	tier, err := TierOf(DefaultPlanName)
	require.NoError(t, err)
	assert.Equal(t, DefaultPlanName, tier.Name)
	assert.False(t, tier.Expires(), "the default tier must never expire")
}

func TestPlanDuration(t *testing.T) {
	assert.Equal(t, 30*24*time.Hour, PlanDuration)
}
