// Package config loads and validates the two YAML documents driving a run:
// the calculation file (time span, repeats, intensity levels, distances,
// concurrency, persistence) and the source-model document (logic-tree
// branches and their source definitions).
package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/openhazard/engine/internal/gmpe"
	"github.com/openhazard/engine/internal/sitefilter"
	"gopkg.in/yaml.v3"
)

// #region calculation

// SiteDef is one site of interest in the calculation file.
type SiteDef struct {
	Lon  float64 `yaml:"lon"`
	Lat  float64 `yaml:"lat"`
	Vs30 float64 `yaml:"vs30"`
}

// Calculation is the job configuration.
type Calculation struct {
	Description       string  `yaml:"description"`
	InvestigationTime float64 `yaml:"investigation_time"` // years

	// SES and Samples multiply into the effective number of stochastic
	// event sets used by occurrence sampling.
	SES     int `yaml:"ses_per_logic_tree_path"`
	Samples int `yaml:"number_of_samples"`

	GroundMotionModels []string             `yaml:"ground_motion_models"`
	IMTLevels          map[string][]float64 `yaml:"intensity_measure_levels"`
	TruncationLevel    float64              `yaml:"truncation_level"`

	MaximumDistance    float64            `yaml:"maximum_distance"` // km
	MaximumDistanceTRT map[string]float64 `yaml:"maximum_distance_per_trt"`

	Sites []SiteDef `yaml:"sites"`

	ConcurrentTasks int      `yaml:"concurrent_tasks"` // 0 = GOMAXPROCS
	Workers         []string `yaml:"workers"`          // remote worker addresses; empty = local pool

	StoreDSN string `yaml:"store_dsn"` // empty = no persistence
}

// DefaultCalculation returns the baseline configuration the YAML file
// overrides.
func DefaultCalculation() *Calculation {
	return &Calculation{
		InvestigationTime:  50,
		SES:                1,
		Samples:            1,
		GroundMotionModels: []string{"backbone"},
		TruncationLevel:    3,
		MaximumDistance:    300,
	}
}

// Load reads and validates a calculation file.
func Load(path string) (*Calculation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calculation file: %w", err)
	}
	cfg := DefaultCalculation()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse calculation file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("calculation file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the cross-field invariants.
func (c *Calculation) Validate() error {
	if c.InvestigationTime <= 0 {
		return fmt.Errorf("investigation_time must be positive, got %g", c.InvestigationTime)
	}
	if c.SES <= 0 {
		return fmt.Errorf("ses_per_logic_tree_path must be positive, got %d", c.SES)
	}
	if c.Samples <= 0 {
		return fmt.Errorf("number_of_samples must be positive, got %d", c.Samples)
	}
	if c.TruncationLevel < 0 {
		return fmt.Errorf("truncation_level must be non-negative, got %g", c.TruncationLevel)
	}
	if len(c.GroundMotionModels) == 0 {
		return fmt.Errorf("ground_motion_models is empty")
	}
	if len(c.IMTLevels) == 0 {
		return fmt.Errorf("intensity_measure_levels is empty")
	}
	for imt, levels := range c.IMTLevels {
		if len(levels) == 0 {
			return fmt.Errorf("intensity measure %q has no levels", imt)
		}
		prev := 0.0
		for _, lv := range levels {
			if lv <= prev {
				return fmt.Errorf("levels for %q must be positive and strictly increasing", imt)
			}
			prev = lv
		}
	}
	if err := c.IntegrationDistance().Validate(); err != nil {
		return err
	}
	if len(c.Sites) == 0 {
		return fmt.Errorf("sites is empty")
	}
	if c.ConcurrentTasks < 0 {
		return fmt.Errorf("concurrent_tasks must be non-negative, got %d", c.ConcurrentTasks)
	}
	return nil
}

// EffectiveRepeats is the sampling repeat count: event sets times samples.
func (c *Calculation) EffectiveRepeats() int {
	return c.SES * c.Samples
}

// IMTLevelList returns the level table ordered by intensity measure name, so
// the flattened level axis is deterministic across runs and workers.
func (c *Calculation) IMTLevelList() []gmpe.IMTLevels {
	imts := make([]string, 0, len(c.IMTLevels))
	for imt := range c.IMTLevels {
		imts = append(imts, imt)
	}
	sort.Strings(imts)
	out := make([]gmpe.IMTLevels, len(imts))
	for i, imt := range imts {
		out[i] = gmpe.IMTLevels{IMT: imt, Levels: c.IMTLevels[imt]}
	}
	return out
}

// IntegrationDistance returns the per-TRT distance cutoffs.
func (c *Calculation) IntegrationDistance() sitefilter.IntegrationDistance {
	return sitefilter.IntegrationDistance{
		Default: c.MaximumDistance,
		ByTRT:   c.MaximumDistanceTRT,
	}
}

// SiteCollection materializes the configured sites.
func (c *Calculation) SiteCollection() *sitefilter.Collection {
	sites := make([]sitefilter.Site, len(c.Sites))
	for i, s := range c.Sites {
		sites[i] = sitefilter.Site{Lon: s.Lon, Lat: s.Lat, Vs30: s.Vs30}
	}
	return sitefilter.NewCollection(sites)
}

// Models resolves the configured ground-motion model names.
func (c *Calculation) Models() ([]gmpe.GroundMotionModel, error) {
	out := make([]gmpe.GroundMotionModel, len(c.GroundMotionModels))
	for i, name := range c.GroundMotionModels {
		m, err := ResolveGMM(name)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// Evaluator builds the ground-motion evaluator from the configured models,
// level table and truncation.
func (c *Calculation) Evaluator() (*gmpe.Evaluator, error) {
	models, err := c.Models()
	if err != nil {
		return nil, err
	}
	return gmpe.NewEvaluator(models, c.IMTLevelList(), c.TruncationLevel)
}

// ResolveGMM maps a configured model name to its implementation.
func ResolveGMM(name string) (gmpe.GroundMotionModel, error) {
	switch name {
	case "backbone":
		return gmpe.BackboneGMPE{}, nil
	}
	return nil, fmt.Errorf("unknown ground-motion model %q", name)
}

// #endregion calculation
