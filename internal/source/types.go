package source

import (
	"errors"
	"fmt"
)

// #region geo

// Point is a geographic location. Lon and Lat are in decimal degrees,
// Depth in km below the surface (positive down).
type Point struct {
	Lon   float64
	Lat   float64
	Depth float64
}

// NodalPlane describes a rupture plane orientation in degrees.
type NodalPlane struct {
	Strike float64
	Dip    float64
	Rake   float64
}

// NodalPlaneWeight is one entry of a nodal-plane probability distribution.
type NodalPlaneWeight struct {
	Prob  float64
	Plane NodalPlane
}

// HypoDepthWeight is one entry of a hypocentral-depth probability distribution.
type HypoDepthWeight struct {
	Prob  float64
	Depth float64 // km
}

// #endregion geo

// #region tom

// PoissonTOM is a time-independent temporal occurrence model: rupture
// occurrences follow a Poisson process observed over TimeSpan years.
type PoissonTOM struct {
	TimeSpan float64 // years
}

// #endregion tom

// #region mfd

// MagRate is one bin of a discrete magnitude-frequency distribution.
type MagRate struct {
	Mag  float64
	Rate float64 // annual occurrence rate
}

// DiscreteMFD is a discrete list of (magnitude, annual rate) pairs,
// ordered by increasing magnitude.
type DiscreteMFD struct {
	Bins []MagRate
}

// AnnualRates returns the bins with magnitude >= minMag and rate > 0,
// with each rate multiplied by scaling. The result is a fresh slice.
func (m DiscreteMFD) AnnualRates(minMag, scaling float64) []MagRate {
	out := make([]MagRate, 0, len(m.Bins))
	for _, b := range m.Bins {
		if b.Mag < minMag || b.Rate <= 0 {
			continue
		}
		out = append(out, MagRate{Mag: b.Mag, Rate: b.Rate * scaling})
	}
	return out
}

// MinMaxMag returns the magnitude range covered by the distribution.
func (m DiscreteMFD) MinMaxMag() (float64, float64) {
	if len(m.Bins) == 0 {
		return 0, 0
	}
	return m.Bins[0].Mag, m.Bins[len(m.Bins)-1].Mag
}

// #endregion mfd

// #region placement

// Placement is the engine-assigned bookkeeping attached to a source when the
// orchestrator assigns it to a logic-tree branch: the source group it computes
// into, the serial used to seed sampling, and the rupture count cached for
// load balancing. Placements are owned by the orchestrator; sources themselves
// stay immutable once built.
type Placement struct {
	GroupID     int
	Serial      int64
	NumRuptures int
}

// #endregion placement

// #region errors

// ErrMutexNotAllowed is returned when a mutually-exclusive rupture draw is
// requested from a source that does not support mutually exclusive ruptures.
var ErrMutexNotAllowed = errors.New(
	"mutually exclusive ruptures are admitted only for non-parametric sources")

// ModificationError reports a modification name not declared by a source type.
type ModificationError struct {
	Name string
	Kind Kind
}

func (e *ModificationError) Error() string {
	return fmt.Sprintf("modification %q is not supported by %s sources", e.Name, e.Kind)
}

// #endregion errors
