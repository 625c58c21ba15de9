package source

import (
	"fmt"
	"iter"
	"math"
	"math/rand/v2"
)

// #region spec

// MultiPointSpec carries the construction parameters of a multipoint source.
// Every location shares the same magnitude-frequency distribution, nodal-plane
// distribution and hypocentral-depth distribution.
type MultiPointSpec struct {
	ID             string
	Name           string
	TectonicRegion string
	MFD            DiscreteMFD
	Locations      []Point // epicenters; Depth is ignored
	NodalPlanes    []NodalPlaneWeight
	HypoDepths     []HypoDepthWeight
	MeshSpacing    float64
	AspectRatio    float64
	TimeSpan       float64
}

// #endregion spec

// #region combo

// Combo is one (location, magnitude, nodal plane, hypocentral depth)
// combination of a multipoint source, carrying the joint annual rate
// magRate * planeProb * depthProb. The sampler draws occurrence counts over
// the combination vector and materializes surfaces only for survivors.
type Combo struct {
	Location Point
	Mag      float64
	Rate     float64
	Plane    NodalPlane
	Depth    float64
}

// #endregion combo

// #region multipoint

// MultiPointSource generates Poissonian ruptures over a grid of point
// locations, enumerating every magnitude x nodal-plane x hypocentral-depth
// combination at each location.
type MultiPointSource struct {
	id   string
	name string
	trt  string

	mfd    DiscreteMFD
	locs   []Point
	planes []NodalPlaneWeight
	depths []HypoDepthWeight

	spacing float64
	aspect  float64
	tom     PoissonTOM

	minMag float64
}

var _ Source = (*MultiPointSource)(nil)

// NewMultiPoint builds a multipoint source. Both probability distributions
// must sum to one; mesh spacing and aspect ratio must be strictly positive.
func NewMultiPoint(spec MultiPointSpec) (*MultiPointSource, error) {
	if spec.MeshSpacing <= 0 {
		return nil, fmt.Errorf("multipoint source %s: mesh spacing must be positive, got %g", spec.ID, spec.MeshSpacing)
	}
	if spec.AspectRatio <= 0 {
		return nil, fmt.Errorf("multipoint source %s: rupture aspect ratio must be positive, got %g", spec.ID, spec.AspectRatio)
	}
	if spec.TimeSpan <= 0 {
		return nil, fmt.Errorf("multipoint source %s: time span must be positive, got %g", spec.ID, spec.TimeSpan)
	}
	if len(spec.Locations) == 0 {
		return nil, fmt.Errorf("multipoint source %s: no locations", spec.ID)
	}
	if len(spec.MFD.Bins) == 0 {
		return nil, fmt.Errorf("multipoint source %s: magnitude-frequency distribution is empty", spec.ID)
	}
	sum := 0.0
	for _, np := range spec.NodalPlanes {
		sum += np.Prob
	}
	if math.Abs(sum-1) > 1e-6 {
		return nil, fmt.Errorf("multipoint source %s: nodal plane probabilities sum to %g, want 1", spec.ID, sum)
	}
	sum = 0
	for _, hd := range spec.HypoDepths {
		if hd.Depth <= 0 {
			return nil, fmt.Errorf("multipoint source %s: hypocentral depth must be positive, got %g", spec.ID, hd.Depth)
		}
		sum += hd.Prob
	}
	if math.Abs(sum-1) > 1e-6 {
		return nil, fmt.Errorf("multipoint source %s: hypocentral depth probabilities sum to %g, want 1", spec.ID, sum)
	}
	return &MultiPointSource{
		id:      spec.ID,
		name:    spec.Name,
		trt:     spec.TectonicRegion,
		mfd:     spec.MFD,
		locs:    spec.Locations,
		planes:  spec.NodalPlanes,
		depths:  spec.HypoDepths,
		spacing: spec.MeshSpacing,
		aspect:  spec.AspectRatio,
		tom:     PoissonTOM{TimeSpan: spec.TimeSpan},
	}, nil
}

func (s *MultiPointSource) ID() string             { return s.id }
func (s *MultiPointSource) Name() string           { return s.name }
func (s *MultiPointSource) TectonicRegion() string { return s.trt }
func (s *MultiPointSource) Kind() Kind             { return KindMultiPoint }
func (s *MultiPointSource) TOM() *PoissonTOM       { return &s.tom }

func (s *MultiPointSource) rates() []MagRate { return s.mfd.AnnualRates(s.minMag, 1) }

// Combinations enumerates every combination in a fixed order: locations
// outermost, then magnitude bins, nodal planes, hypocentral depths.
func (s *MultiPointSource) Combinations() []Combo {
	rates := s.rates()
	out := make([]Combo, 0, len(s.locs)*len(rates)*len(s.planes)*len(s.depths))
	for _, loc := range s.locs {
		for _, bin := range rates {
			for _, np := range s.planes {
				for _, hd := range s.depths {
					out = append(out, Combo{
						Location: loc,
						Mag:      bin.Mag,
						Rate:     bin.Rate * np.Prob * hd.Prob,
						Plane:    np.Plane,
						Depth:    hd.Depth,
					})
				}
			}
		}
	}
	return out
}

// BuildRupture materializes the rupture for one combination, instantiating
// its planar surface.
func (s *MultiPointSource) BuildRupture(c Combo) *Rupture {
	hypo := Point{Lon: c.Location.Lon, Lat: c.Location.Lat, Depth: c.Depth}
	return &Rupture{
		Mag:            c.Mag,
		Rake:           c.Plane.Rake,
		TectonicRegion: s.trt,
		Hypocenter:     hypo,
		Surface:        buildSurface(c.Mag, c.Plane, hypo, s.aspect),
		Rate:           c.Rate,
		TOM:            &s.tom,
	}
}

func (s *MultiPointSource) IterRuptures() iter.Seq[*Rupture] {
	return func(yield func(*Rupture) bool) {
		for _, c := range s.Combinations() {
			if !yield(s.BuildRupture(c)) {
				return
			}
		}
	}
}

func (s *MultiPointSource) CountRuptures() int {
	return len(s.locs) * len(s.rates()) * len(s.planes) * len(s.depths)
}

// Weight divides the rupture count by the number of coupled nodal-plane x
// hypocentral-depth combinations, so that point grids are not over-weighted
// against fault sources during load balancing.
func (s *MultiPointSource) Weight() float64 {
	return float64(s.CountRuptures()) / float64(len(s.planes)*len(s.depths))
}

func (s *MultiPointSource) Anchors() []Point { return s.locs }

func (s *MultiPointSource) MinMaxMag() (float64, float64) {
	rates := s.rates()
	if len(rates) == 0 {
		return 0, 0
	}
	return rates[0].Mag, rates[len(rates)-1].Mag
}

func (s *MultiPointSource) OneRupture(rng *rand.Rand, mutexAllowed bool) (*Rupture, error) {
	if mutexAllowed {
		return nil, ErrMutexNotAllowed
	}
	n := s.CountRuptures()
	if n == 0 {
		return nil, fmt.Errorf("multipoint source %s generates no ruptures", s.id)
	}
	return pickByIndex(s.IterRuptures(), rng.IntN(n)), nil
}

// Modify applies a named mutation. Multipoint sources declare set_min_mag
// (params: min_mag) and shift_hypo_depth (params: delta, km).
func (s *MultiPointSource) Modify(name string, params map[string]float64) error {
	switch name {
	case "set_min_mag":
		m, ok := params["min_mag"]
		if !ok {
			return fmt.Errorf("set_min_mag on %s: missing min_mag parameter", s.id)
		}
		s.minMag = m
	case "shift_hypo_depth":
		delta, ok := params["delta"]
		if !ok {
			return fmt.Errorf("shift_hypo_depth on %s: missing delta parameter", s.id)
		}
		shifted := make([]HypoDepthWeight, len(s.depths))
		for i, hd := range s.depths {
			d := hd.Depth + delta
			if d <= 0 {
				return fmt.Errorf("shift_hypo_depth on %s: depth %g shifts below the surface", s.id, hd.Depth)
			}
			shifted[i] = HypoDepthWeight{Prob: hd.Prob, Depth: d}
		}
		s.depths = shifted
	default:
		return &ModificationError{Name: name, Kind: KindMultiPoint}
	}
	return nil
}

// #endregion multipoint
