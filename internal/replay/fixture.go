// Package replay records and verifies occurrence-sampling runs. A fixture
// freezes one source definition with its placement and the draws it
// produced; replaying it on a later engine build must reproduce every draw
// bit for bit, or the generator contract has silently changed.
package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/openhazard/engine/internal/config"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a sampling fixture.
type Fixture struct {
	Description string           `json:"description"`
	TimeSpan    float64          `json:"investigation_time"`
	Repeats     int              `json:"effective_repeats"`
	Source      config.SourceDef `json:"source"`
	Placement   FixturePlacement `json:"placement"`
	Expected    []ExpectedDraw   `json:"expected_draws"`
}

// FixturePlacement mirrors the engine-assigned placement with JSON tags.
// The rupture count is derived from the rebuilt source, not stored.
type FixturePlacement struct {
	GroupID int   `json:"group_id"`
	Serial  int64 `json:"serial"`
}

// ExpectedDraw is one recorded sampling outcome: the stamped rupture id,
// the occurrence count, and its exact point probability.
type ExpectedDraw struct {
	RuptureID int64   `json:"rupture_id"`
	Count     int64   `json:"count"`
	Proba     float64 `json:"proba"`
}

// #endregion fixture-types

// #region fixture-io

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if f.Repeats <= 0 {
		return nil, fmt.Errorf("fixture %s: effective_repeats must be positive", path)
	}
	return &f, nil
}

// SaveFixture writes a fixture as indented JSON. Go prints float64 values
// with round-trip precision, so saved probabilities reload bit exact.
func SaveFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// #endregion fixture-io
