package source

import (
	"fmt"
	"iter"
	"math"
	"math/rand/v2"
)

// #region spec

// FaultSpec carries the construction parameters of a fault source.
type FaultSpec struct {
	ID             string
	Name           string
	TectonicRegion string
	MFD            DiscreteMFD
	Trace          []Point // surface trace, at least two points
	Dip            float64 // degrees, in (0, 90]
	Rake           float64 // degrees
	UpperDepth     float64 // km, top of the seismogenic layer
	LowerDepth     float64 // km, bottom of the seismogenic layer
	MeshSpacing    float64 // km
	AspectRatio    float64 // rupture length over width
	TimeSpan       float64 // years
}

// #endregion spec

// #region fault

// FaultSource generates one Poissonian rupture per magnitude-frequency bin on
// a planar fault. The rupture plane orientation follows the trace azimuth and
// the configured dip; hypocenters sit at the trace midpoint, halfway through
// the seismogenic layer.
type FaultSource struct {
	id   string
	name string
	trt  string

	mfd     DiscreteMFD
	trace   []Point
	plane   NodalPlane
	hypo    Point
	spacing float64
	aspect  float64
	tom     PoissonTOM

	// Mutable only through Modify.
	minMag  float64
	scaling float64
}

var _ Source = (*FaultSource)(nil)

// NewFault builds a fault source, validating geometry and occurrence
// parameters. Mesh spacing and aspect ratio must be strictly positive.
func NewFault(spec FaultSpec) (*FaultSource, error) {
	if spec.MeshSpacing <= 0 {
		return nil, fmt.Errorf("fault source %s: mesh spacing must be positive, got %g", spec.ID, spec.MeshSpacing)
	}
	if spec.AspectRatio <= 0 {
		return nil, fmt.Errorf("fault source %s: rupture aspect ratio must be positive, got %g", spec.ID, spec.AspectRatio)
	}
	if spec.TimeSpan <= 0 {
		return nil, fmt.Errorf("fault source %s: time span must be positive, got %g", spec.ID, spec.TimeSpan)
	}
	if len(spec.Trace) < 2 {
		return nil, fmt.Errorf("fault source %s: trace needs at least two points", spec.ID)
	}
	if spec.Dip <= 0 || spec.Dip > 90 {
		return nil, fmt.Errorf("fault source %s: dip must be in (0, 90], got %g", spec.ID, spec.Dip)
	}
	if spec.LowerDepth <= spec.UpperDepth {
		return nil, fmt.Errorf("fault source %s: lower seismogenic depth must exceed the upper one", spec.ID)
	}
	if len(spec.MFD.Bins) == 0 {
		return nil, fmt.Errorf("fault source %s: magnitude-frequency distribution is empty", spec.ID)
	}
	midDepth := (spec.UpperDepth + spec.LowerDepth) / 2
	return &FaultSource{
		id:      spec.ID,
		name:    spec.Name,
		trt:     spec.TectonicRegion,
		mfd:     spec.MFD,
		trace:   spec.Trace,
		plane:   NodalPlane{Strike: traceAzimuth(spec.Trace), Dip: spec.Dip, Rake: spec.Rake},
		hypo:    traceMidpoint(spec.Trace, midDepth),
		spacing: spec.MeshSpacing,
		aspect:  spec.AspectRatio,
		tom:     PoissonTOM{TimeSpan: spec.TimeSpan},
		scaling: 1,
	}, nil
}

func (s *FaultSource) ID() string             { return s.id }
func (s *FaultSource) Name() string           { return s.name }
func (s *FaultSource) TectonicRegion() string { return s.trt }
func (s *FaultSource) Kind() Kind             { return KindFault }
func (s *FaultSource) TOM() *PoissonTOM       { return &s.tom }

// rates is the effective MFD view after the modifications applied so far.
func (s *FaultSource) rates() []MagRate { return s.mfd.AnnualRates(s.minMag, s.scaling) }

// IterRuptures yields one rupture per effective magnitude bin, in increasing
// magnitude order.
func (s *FaultSource) IterRuptures() iter.Seq[*Rupture] {
	return func(yield func(*Rupture) bool) {
		for _, bin := range s.rates() {
			rup := &Rupture{
				Mag:            bin.Mag,
				Rake:           s.plane.Rake,
				TectonicRegion: s.trt,
				Hypocenter:     s.hypo,
				Surface:        buildSurface(bin.Mag, s.plane, s.hypo, s.aspect),
				Rate:           bin.Rate,
				TOM:            &s.tom,
			}
			if !yield(rup) {
				return
			}
		}
	}
}

func (s *FaultSource) CountRuptures() int { return len(s.rates()) }

func (s *FaultSource) Weight() float64 { return float64(s.CountRuptures()) }

func (s *FaultSource) Anchors() []Point { return s.trace }

func (s *FaultSource) MinMaxMag() (float64, float64) {
	rates := s.rates()
	if len(rates) == 0 {
		return 0, 0
	}
	return rates[0].Mag, rates[len(rates)-1].Mag
}

func (s *FaultSource) OneRupture(rng *rand.Rand, mutexAllowed bool) (*Rupture, error) {
	if mutexAllowed {
		return nil, ErrMutexNotAllowed
	}
	n := s.CountRuptures()
	if n == 0 {
		return nil, fmt.Errorf("fault source %s generates no ruptures", s.id)
	}
	return pickByIndex(s.IterRuptures(), rng.IntN(n)), nil
}

// Modify applies a named mutation. Fault sources declare scale_rates (params:
// factor) and set_min_mag (params: min_mag).
func (s *FaultSource) Modify(name string, params map[string]float64) error {
	switch name {
	case "scale_rates":
		factor, ok := params["factor"]
		if !ok || factor <= 0 {
			return fmt.Errorf("scale_rates on %s: factor must be positive, got %g", s.id, factor)
		}
		s.scaling *= factor
	case "set_min_mag":
		m, ok := params["min_mag"]
		if !ok {
			return fmt.Errorf("set_min_mag on %s: missing min_mag parameter", s.id)
		}
		s.minMag = m
	default:
		return &ModificationError{Name: name, Kind: KindFault}
	}
	return nil
}

// #endregion fault

// #region geometry

// traceAzimuth returns the strike implied by the trace endpoints, in
// degrees clockwise from north.
func traceAzimuth(trace []Point) float64 {
	a, b := trace[0], trace[len(trace)-1]
	cosLat := math.Cos((a.Lat + b.Lat) / 2 * math.Pi / 180)
	az := math.Atan2((b.Lon-a.Lon)*cosLat, b.Lat-a.Lat) * 180 / math.Pi
	if az < 0 {
		az += 360
	}
	return az
}

// flatDistKm is the flat-earth distance between two points, ignoring depth.
func flatDistKm(a, b Point) float64 {
	cosLat := math.Cos((a.Lat + b.Lat) / 2 * math.Pi / 180)
	dx := (b.Lon - a.Lon) * cosLat * kmPerDegree
	dy := (b.Lat - a.Lat) * kmPerDegree
	return math.Hypot(dx, dy)
}

// traceMidpoint walks the trace polyline to its half-length point.
func traceMidpoint(trace []Point, depth float64) Point {
	total := 0.0
	segs := make([]float64, len(trace)-1)
	for i := range segs {
		segs[i] = flatDistKm(trace[i], trace[i+1])
		total += segs[i]
	}
	half := total / 2
	for i, seg := range segs {
		if half <= seg || i == len(segs)-1 {
			t := 1.0
			if seg > 0 {
				t = math.Min(half/seg, 1)
			}
			a, b := trace[i], trace[i+1]
			return Point{
				Lon:   a.Lon + (b.Lon-a.Lon)*t,
				Lat:   a.Lat + (b.Lat-a.Lat)*t,
				Depth: depth,
			}
		}
		half -= seg
	}
	return Point{Lon: trace[0].Lon, Lat: trace[0].Lat, Depth: depth}
}

// #endregion geometry
