package config

import (
	"fmt"
	"math"
	"os"

	"github.com/openhazard/engine/internal/source"
	"gopkg.in/yaml.v3"
)

// #region document

// PointDef is a geographic point in a model document. The defs carry both
// yaml and json tags: model files are YAML, replay fixtures embed the same
// defs as JSON.
type PointDef struct {
	Lon   float64 `yaml:"lon" json:"lon"`
	Lat   float64 `yaml:"lat" json:"lat"`
	Depth float64 `yaml:"depth" json:"depth"`
}

// MagRateDef is one magnitude-frequency bin.
type MagRateDef struct {
	Mag  float64 `yaml:"mag" json:"mag"`
	Rate float64 `yaml:"rate" json:"rate"`
}

// NodalPlaneDef is one weighted rupture-plane orientation.
type NodalPlaneDef struct {
	Prob   float64 `yaml:"prob" json:"prob"`
	Strike float64 `yaml:"strike" json:"strike"`
	Dip    float64 `yaml:"dip" json:"dip"`
	Rake   float64 `yaml:"rake" json:"rake"`
}

// HypoDepthDef is one weighted hypocentral depth.
type HypoDepthDef struct {
	Prob  float64 `yaml:"prob" json:"prob"`
	Depth float64 `yaml:"depth" json:"depth"`
}

// RuptureDef is one rupture of a non-parametric source.
type RuptureDef struct {
	Mag      float64   `yaml:"mag" json:"mag"`
	Strike   float64   `yaml:"strike" json:"strike"`
	Dip      float64   `yaml:"dip" json:"dip"`
	Rake     float64   `yaml:"rake" json:"rake"`
	Hypo     PointDef  `yaml:"hypo" json:"hypo"`
	ProbsOcc []float64 `yaml:"probs_occ" json:"probs_occ"`
}

// ModDef is a named parameter mutation applied after construction, in order.
type ModDef struct {
	Name   string             `yaml:"name" json:"name"`
	Params map[string]float64 `yaml:"params" json:"params"`
}

// SourceDef is one source in a model document. Kind selects which field
// group applies.
type SourceDef struct {
	ID             string `yaml:"id" json:"id"`
	Name           string `yaml:"name" json:"name"`
	Kind           string `yaml:"kind" json:"kind"` // fault | multipoint | nonparametric
	TectonicRegion string `yaml:"tectonic_region" json:"tectonic_region"`

	// fault
	Trace       []PointDef   `yaml:"trace" json:"trace,omitempty"`
	Dip         float64      `yaml:"dip" json:"dip,omitempty"`
	Rake        float64      `yaml:"rake" json:"rake,omitempty"`
	UpperDepth  float64      `yaml:"upper_depth" json:"upper_depth,omitempty"`
	LowerDepth  float64      `yaml:"lower_depth" json:"lower_depth,omitempty"`
	MFD         []MagRateDef `yaml:"mfd" json:"mfd,omitempty"`
	MeshSpacing float64      `yaml:"mesh_spacing" json:"mesh_spacing,omitempty"`
	AspectRatio float64      `yaml:"aspect_ratio" json:"aspect_ratio,omitempty"`

	// multipoint
	Locations   []PointDef      `yaml:"locations" json:"locations,omitempty"`
	NodalPlanes []NodalPlaneDef `yaml:"nodal_planes" json:"nodal_planes,omitempty"`
	HypoDepths  []HypoDepthDef  `yaml:"hypo_depths" json:"hypo_depths,omitempty"`

	// nonparametric
	Ruptures    []RuptureDef `yaml:"ruptures" json:"ruptures,omitempty"`
	MutexWeight float64      `yaml:"mutex_weight" json:"mutex_weight,omitempty"`

	Modifications []ModDef `yaml:"modifications" json:"modifications,omitempty"`
}

// BranchDef is one logic-tree branch: an independent alternative model of
// the same region, with its own sources and an optional background batch of
// distributed-seismicity sources.
type BranchDef struct {
	Ordinal    int         `yaml:"ordinal"`
	Path       string      `yaml:"path"`
	Weight     float64     `yaml:"weight"`
	Sources    []SourceDef `yaml:"sources"`
	Background []SourceDef `yaml:"background"`
}

// Model is a source-model document: a logic tree of weighted branches
// sharing one declared time span.
type Model struct {
	Name     string      `yaml:"name"`
	TimeSpan float64     `yaml:"time_span"` // years, declared by the model
	Branches []BranchDef `yaml:"branches"`
}

// #endregion document

// #region load

// LoadModel reads and validates a source-model document.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model file: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("model file %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks the document-level invariants; per-source parameter
// validation happens at construction.
func (m *Model) Validate() error {
	if m.TimeSpan <= 0 {
		return fmt.Errorf("time_span must be positive, got %g", m.TimeSpan)
	}
	if len(m.Branches) == 0 {
		return fmt.Errorf("model has no branches")
	}
	seen := make(map[int]bool, len(m.Branches))
	weight := 0.0
	for _, b := range m.Branches {
		if seen[b.Ordinal] {
			return fmt.Errorf("duplicate branch ordinal %d", b.Ordinal)
		}
		seen[b.Ordinal] = true
		if b.Weight <= 0 {
			return fmt.Errorf("branch %d weight must be positive, got %g", b.Ordinal, b.Weight)
		}
		if len(b.Sources) == 0 {
			return fmt.Errorf("branch %d has no sources", b.Ordinal)
		}
		weight += b.Weight
	}
	if math.Abs(weight-1) > 1e-6 {
		return fmt.Errorf("branch weights sum to %g, want 1", weight)
	}
	return nil
}

// #endregion load

// #region build

// Build constructs the source and applies its modifications in order.
func (d SourceDef) Build(timeSpan float64) (source.Source, error) {
	src, err := d.construct(timeSpan)
	if err != nil {
		return nil, err
	}
	for _, mod := range d.Modifications {
		if err := src.Modify(mod.Name, mod.Params); err != nil {
			return nil, fmt.Errorf("source %s: %w", d.ID, err)
		}
	}
	return src, nil
}

func (d SourceDef) construct(timeSpan float64) (source.Source, error) {
	switch d.Kind {
	case "fault":
		return source.NewFault(source.FaultSpec{
			ID:             d.ID,
			Name:           d.Name,
			TectonicRegion: d.TectonicRegion,
			MFD:            mfdOf(d.MFD),
			Trace:          pointsOf(d.Trace),
			Dip:            d.Dip,
			Rake:           d.Rake,
			UpperDepth:     d.UpperDepth,
			LowerDepth:     d.LowerDepth,
			MeshSpacing:    d.MeshSpacing,
			AspectRatio:    d.AspectRatio,
			TimeSpan:       timeSpan,
		})
	case "multipoint":
		planes := make([]source.NodalPlaneWeight, len(d.NodalPlanes))
		for i, np := range d.NodalPlanes {
			planes[i] = source.NodalPlaneWeight{
				Prob:  np.Prob,
				Plane: source.NodalPlane{Strike: np.Strike, Dip: np.Dip, Rake: np.Rake},
			}
		}
		depths := make([]source.HypoDepthWeight, len(d.HypoDepths))
		for i, hd := range d.HypoDepths {
			depths[i] = source.HypoDepthWeight{Prob: hd.Prob, Depth: hd.Depth}
		}
		return source.NewMultiPoint(source.MultiPointSpec{
			ID:             d.ID,
			Name:           d.Name,
			TectonicRegion: d.TectonicRegion,
			MFD:            mfdOf(d.MFD),
			Locations:      pointsOf(d.Locations),
			NodalPlanes:    planes,
			HypoDepths:     depths,
			MeshSpacing:    d.MeshSpacing,
			AspectRatio:    d.AspectRatio,
			TimeSpan:       timeSpan,
		})
	case "nonparametric":
		rups := make([]source.RuptureData, len(d.Ruptures))
		for i, r := range d.Ruptures {
			rups[i] = source.RuptureData{
				Mag:      r.Mag,
				Strike:   r.Strike,
				Dip:      r.Dip,
				Rake:     r.Rake,
				Hypo:     source.Point{Lon: r.Hypo.Lon, Lat: r.Hypo.Lat, Depth: r.Hypo.Depth},
				ProbsOcc: r.ProbsOcc,
			}
		}
		return source.NewNonParametric(source.NonParametricSpec{
			ID:             d.ID,
			Name:           d.Name,
			TectonicRegion: d.TectonicRegion,
			Ruptures:       rups,
			MutexWeight:    d.MutexWeight,
			AspectRatio:    d.AspectRatio,
		})
	}
	return nil, fmt.Errorf("source %s: unknown kind %q", d.ID, d.Kind)
}

func pointsOf(defs []PointDef) []source.Point {
	out := make([]source.Point, len(defs))
	for i, p := range defs {
		out[i] = source.Point{Lon: p.Lon, Lat: p.Lat, Depth: p.Depth}
	}
	return out
}

func mfdOf(defs []MagRateDef) source.DiscreteMFD {
	bins := make([]source.MagRate, len(defs))
	for i, b := range defs {
		bins[i] = source.MagRate{Mag: b.Mag, Rate: b.Rate}
	}
	return source.DiscreteMFD{Bins: bins}
}

// #endregion build
