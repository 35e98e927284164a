// Package rank contains the TruthRank domain: the tier catalog, per-user
// statistics, scoring, upgrade evaluation and the recalculation rate limit.
package rank

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/truthrank/truthrank/internal/domain/shared"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// WeightTotal is the sum every tier's four weights must reach.
const WeightTotal = 100

// RankID identifies a tier.
type RankID string

// String implements fmt.Stringer.
func (id RankID) String() string { return string(id) }

// RankCriteria are the thresholds and weights used to score progress into a tier.
type RankCriteria struct {
	MinPredictions         int     `yaml:"min_predictions" json:"min_predictions"`
	MinAccuracy            float64 `yaml:"min_accuracy" json:"min_accuracy"`
	MinResolvedPredictions int     `yaml:"min_resolved_predictions" json:"min_resolved_predictions"`
	MinActiveWeeks         int     `yaml:"min_active_weeks" json:"min_active_weeks"`

	AccuracyWeight    int `yaml:"accuracy_weight" json:"accuracy_weight"`
	ConsistencyWeight int `yaml:"consistency_weight" json:"consistency_weight"`
	VolumeWeight      int `yaml:"volume_weight" json:"volume_weight"`
	TimeWeight        int `yaml:"time_weight" json:"time_weight"`
}

// TotalWeight returns the sum of the four weights.
func (c RankCriteria) TotalWeight() int {
	return c.AccuracyWeight + c.ConsistencyWeight + c.VolumeWeight + c.TimeWeight
}

// RankConfig describes one tier.
type RankConfig struct {
	ID              RankID       `yaml:"id" json:"id"`
	Name            string       `yaml:"name" json:"name"`
	Description     string       `yaml:"description" json:"description"`
	Badge           string       `yaml:"badge" json:"badge"`
	MinTimeGateDays int          `yaml:"min_time_gate_days" json:"min_time_gate_days"`
	Criteria        RankCriteria `yaml:"criteria" json:"criteria"`
}

func (r RankConfig) validate() error {
	if r.ID == "" {
		return shared.ValidationError("rank", "LoadCatalog", "tier id is empty")
	}
	c := r.Criteria
	if total := c.TotalWeight(); total != WeightTotal {
		return shared.ValidationError("rank", "LoadCatalog", "tier %s: weights sum to %d, want %d", r.ID, total, WeightTotal)
	}
	if c.AccuracyWeight < 0 || c.ConsistencyWeight < 0 || c.VolumeWeight < 0 || c.TimeWeight < 0 {
		return shared.ValidationError("rank", "LoadCatalog", "tier %s: negative weight", r.ID)
	}
	if c.MinAccuracy < 0 || c.MinAccuracy > 100 {
		return shared.ValidationError("rank", "LoadCatalog", "tier %s: min_accuracy %.2f out of [0,100]", r.ID, c.MinAccuracy)
	}
	if c.MinPredictions < 0 || c.MinResolvedPredictions < 0 || c.MinActiveWeeks < 0 || r.MinTimeGateDays < 0 {
		return shared.ValidationError("rank", "LoadCatalog", "tier %s: negative threshold", r.ID)
	}
	return nil
}

// Catalog is the ordered, immutable set of tiers.
type Catalog struct {
	tiers []RankConfig
	index map[RankID]int
}

type catalogFile struct {
	Ranks []RankConfig `yaml:"ranks"`
}

// NewCatalog validates tiers and builds a catalog. Tiers are ordered lowest first.
func NewCatalog(tiers []RankConfig) (*Catalog, error) {
	if len(tiers) == 0 {
		return nil, shared.ValidationError("rank", "LoadCatalog", "catalog has no tiers")
	}

	c := &Catalog{
		tiers: make([]RankConfig, len(tiers)),
		index: make(map[RankID]int, len(tiers)),
	}
	copy(c.tiers, tiers)

	for i, t := range c.tiers {
		if err := t.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.index[t.ID]; dup {
			return nil, shared.ValidationError("rank", "LoadCatalog", "duplicate tier id %s", t.ID)
		}
		c.index[t.ID] = i
	}
	return c, nil
}

// ParseCatalog parses a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, shared.WrapError("rank", "LoadCatalog", shared.ErrValidation, "malformed catalog", err)
	}
	return NewCatalog(f.Ranks)
}

// LoadCatalog reads a catalog from path, or returns the built-in catalog
// when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultCatalogYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rank catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in rank catalog is invalid: %v", err))
	}
	return c
}

// Tiers returns a copy of the tiers, lowest first.
func (c *Catalog) Tiers() []RankConfig {
	out := make([]RankConfig, len(c.tiers))
	copy(out, c.tiers)
	return out
}

// Len returns the number of tiers.
func (c *Catalog) Len() int { return len(c.tiers) }

// Entry returns the lowest tier, where every user starts.
func (c *Catalog) Entry() RankConfig { return c.tiers[0] }

// Top returns the terminal tier.
func (c *Catalog) Top() RankConfig { return c.tiers[len(c.tiers)-1] }

// Get returns the tier with the given id.
func (c *Catalog) Get(id RankID) (RankConfig, bool) {
	i, ok := c.index[id]
	if !ok {
		return RankConfig{}, false
	}
	return c.tiers[i], true
}

// Index returns the tier's position, or -1.
func (c *Catalog) Index(id RankID) int {
	i, ok := c.index[id]
	if !ok {
		return -1
	}
	return i
}

// Next returns the tier directly above id. ok is false at the top tier or
// for an unknown id.
func (c *Catalog) Next(id RankID) (RankConfig, bool) {
	i, ok := c.index[id]
	if !ok || i+1 >= len(c.tiers) {
		return RankConfig{}, false
	}
	return c.tiers[i+1], true
}

// IsTop reports whether id is the terminal tier.
func (c *Catalog) IsTop(id RankID) bool {
	i, ok := c.index[id]
	return ok && i == len(c.tiers)-1
}

// Contains reports whether id is a known tier.
func (c *Catalog) Contains(id RankID) bool {
	_, ok := c.index[id]
	return ok
}
