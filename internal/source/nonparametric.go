package source

import (
	"fmt"
	"iter"
	"math"
	"math/rand/v2"
)

// #region spec

// RuptureData describes one rupture of a non-parametric source: where and how
// it would break, plus its occurrence-count probability mass function.
type RuptureData struct {
	Mag      float64
	Strike   float64
	Dip      float64
	Rake     float64
	Hypo     Point
	ProbsOcc []float64 // ProbsOcc[k] = probability of exactly k occurrences
}

// NonParametricSpec carries the construction parameters of a non-parametric
// (time-dependent) source.
type NonParametricSpec struct {
	ID             string
	Name           string
	TectonicRegion string
	Ruptures       []RuptureData
	MutexWeight    float64 // in (0,1]; zero means unset (independent ruptures)
	AspectRatio    float64 // zero means unset (square ruptures)
}

// #endregion spec

// #region nonparametric

// NonParametricSource carries an explicit list of ruptures, each with its own
// occurrence-count PMF instead of a Poisson rate. It is the only variant that
// admits mutually exclusive ruptures: a mutex weight below one means each
// rupture is realized only with that probability among its alternatives.
type NonParametricSource struct {
	id   string
	name string
	trt  string

	rups  []*Rupture
	mutex float64
}

var _ Source = (*NonParametricSource)(nil)

// NewNonParametric builds a non-parametric source. Every rupture PMF must be
// a proper distribution; the mutex weight, when set, must be in (0,1].
func NewNonParametric(spec NonParametricSpec) (*NonParametricSource, error) {
	if len(spec.Ruptures) == 0 {
		return nil, fmt.Errorf("non-parametric source %s: no ruptures", spec.ID)
	}
	mutex := spec.MutexWeight
	if mutex == 0 {
		mutex = 1
	}
	if mutex < 0 || mutex > 1 {
		return nil, fmt.Errorf("non-parametric source %s: mutex weight must be in (0,1], got %g", spec.ID, spec.MutexWeight)
	}
	aspect := spec.AspectRatio
	if aspect == 0 {
		aspect = 1
	}
	if aspect < 0 {
		return nil, fmt.Errorf("non-parametric source %s: rupture aspect ratio must be positive, got %g", spec.ID, spec.AspectRatio)
	}
	rups := make([]*Rupture, len(spec.Ruptures))
	for i, rd := range spec.Ruptures {
		if rd.Dip <= 0 || rd.Dip > 90 {
			return nil, fmt.Errorf("non-parametric source %s: rupture %d dip must be in (0, 90], got %g", spec.ID, i, rd.Dip)
		}
		if len(rd.ProbsOcc) == 0 {
			return nil, fmt.Errorf("non-parametric source %s: rupture %d has no occurrence PMF", spec.ID, i)
		}
		sum := 0.0
		for k, p := range rd.ProbsOcc {
			if p < 0 {
				return nil, fmt.Errorf("non-parametric source %s: rupture %d has negative probability at count %d", spec.ID, i, k)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-6 {
			return nil, fmt.Errorf("non-parametric source %s: rupture %d PMF sums to %g, want 1", spec.ID, i, sum)
		}
		plane := NodalPlane{Strike: rd.Strike, Dip: rd.Dip, Rake: rd.Rake}
		rups[i] = &Rupture{
			Mag:            rd.Mag,
			Rake:           rd.Rake,
			TectonicRegion: spec.TectonicRegion,
			Hypocenter:     rd.Hypo,
			Surface:        buildSurface(rd.Mag, plane, rd.Hypo, aspect),
			ProbsOcc:       append([]float64(nil), rd.ProbsOcc...),
		}
	}
	return &NonParametricSource{
		id:    spec.ID,
		name:  spec.Name,
		trt:   spec.TectonicRegion,
		rups:  rups,
		mutex: mutex,
	}, nil
}

func (s *NonParametricSource) ID() string             { return s.id }
func (s *NonParametricSource) Name() string           { return s.name }
func (s *NonParametricSource) TectonicRegion() string { return s.trt }
func (s *NonParametricSource) Kind() Kind             { return KindNonParametric }

// TOM returns nil: occurrence behavior lives in the per-rupture PMFs.
func (s *NonParametricSource) TOM() *PoissonTOM { return nil }

// MutexWeight returns the shared mutual-exclusivity weight, 1 when the
// ruptures are independent.
func (s *NonParametricSource) MutexWeight() float64 { return s.mutex }

func (s *NonParametricSource) IterRuptures() iter.Seq[*Rupture] {
	return func(yield func(*Rupture) bool) {
		for _, rup := range s.rups {
			if !yield(rup) {
				return
			}
		}
	}
}

func (s *NonParametricSource) CountRuptures() int { return len(s.rups) }

func (s *NonParametricSource) Weight() float64 { return float64(len(s.rups)) }

func (s *NonParametricSource) Anchors() []Point {
	out := make([]Point, len(s.rups))
	for i, rup := range s.rups {
		out[i] = rup.Hypocenter
	}
	return out
}

func (s *NonParametricSource) MinMaxMag() (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, rup := range s.rups {
		lo = math.Min(lo, rup.Mag)
		hi = math.Max(hi, rup.Mag)
	}
	return lo, hi
}

// OneRupture picks uniformly whether or not the mutex draw is requested;
// non-parametric sources admit both.
func (s *NonParametricSource) OneRupture(rng *rand.Rand, _ bool) (*Rupture, error) {
	return s.rups[rng.IntN(len(s.rups))], nil
}

// Modify rejects every name: non-parametric sources declare no mutations,
// their ruptures being fixed observations rather than derived geometry.
func (s *NonParametricSource) Modify(name string, _ map[string]float64) error {
	return &ModificationError{Name: name, Kind: KindNonParametric}
}

// #endregion nonparametric
