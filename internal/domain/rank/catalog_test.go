package rank

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthrank/truthrank/internal/domain/shared"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()

	require.Equal(t, 5, c.Len())
	assert.Equal(t, RankID("observer"), c.Entry().ID)
	assert.Equal(t, RankID("oracle"), c.Top().ID)

	for _, tier := range c.Tiers() {
		assert.Equal(t, WeightTotal, tier.Criteria.TotalWeight(), "tier %s", tier.ID)
	}

	next, ok := c.Next("forecaster")
	require.True(t, ok)
	assert.Equal(t, RankID("analyst"), next.ID)

	_, ok = c.Next("oracle")
	assert.False(t, ok)
	assert.True(t, c.IsTop("oracle"))
	assert.False(t, c.IsTop("analyst"))
	assert.Equal(t, -1, c.Index("grandmaster"))
}

func TestNewCatalog_Validation(t *testing.T) {
	valid := RankCriteria{AccuracyWeight: 40, ConsistencyWeight: 20, VolumeWeight: 20, TimeWeight: 20}

	tests := []struct {
		name  string
		tiers []RankConfig
	}{
		{"empty", nil},
		{"weights below total", []RankConfig{{ID: "a", Criteria: RankCriteria{AccuracyWeight: 40, ConsistencyWeight: 20, VolumeWeight: 20, TimeWeight: 19}}}},
		{"weights above total", []RankConfig{{ID: "a", Criteria: RankCriteria{AccuracyWeight: 50, ConsistencyWeight: 20, VolumeWeight: 20, TimeWeight: 20}}}},
		{"negative weight", []RankConfig{{ID: "a", Criteria: RankCriteria{AccuracyWeight: 120, ConsistencyWeight: -20}}}},
		{"accuracy out of range", []RankConfig{{ID: "a", Criteria: func() RankCriteria { c := valid; c.MinAccuracy = 101; return c }()}}},
		{"negative threshold", []RankConfig{{ID: "a", MinTimeGateDays: -1, Criteria: valid}}},
		{"duplicate id", []RankConfig{{ID: "a", Criteria: valid}, {ID: "a", Criteria: valid}}},
		{"missing id", []RankConfig{{Criteria: valid}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.tiers)
			assert.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestLoadCatalog_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranks.yaml")
	doc := `
ranks:
  - id: rookie
    name: Rookie
    criteria: {accuracy_weight: 25, consistency_weight: 25, volume_weight: 25, time_weight: 25}
  - id: veteran
    name: Veteran
    min_time_gate_days: 7
    criteria: {min_predictions: 5, accuracy_weight: 25, consistency_weight: 25, volume_weight: 25, time_weight: 25}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	vet, ok := c.Get("veteran")
	require.True(t, ok)
	assert.Equal(t, 7, vet.MinTimeGateDays)
	assert.Equal(t, 5, vet.Criteria.MinPredictions)
}

func TestLoadCatalog_Errors(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = ParseCatalog([]byte("ranks: [this is: not valid"))
	assert.ErrorIs(t, err, shared.ErrValidation)

	c, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalog().Tiers(), c.Tiers())
}
