package source

import (
	"math"
	"math/rand/v2"
)

// #region rupture

// Rupture is a single hypothesized earthquake event instance. Ruptures are
// immutable once generated; ID is stamped by the sampler, not by the source.
//
// Poissonian ruptures carry Rate and TOM; non-parametric ruptures instead
// carry ProbsOcc, a probability mass function over occurrence counts
// (ProbsOcc[k] = probability of exactly k occurrences in the investigation
// window) and a nil TOM.
type Rupture struct {
	ID             int64
	Mag            float64
	Rake           float64
	TectonicRegion string
	Hypocenter     Point
	Surface        Surface

	Rate float64     // annual occurrence rate (poissonian only)
	TOM  *PoissonTOM // nil for non-parametric ruptures

	ProbsOcc []float64 // occurrence-count PMF (non-parametric only)
}

// Parametric reports whether the rupture follows a Poisson occurrence model.
func (r *Rupture) Parametric() bool { return r.TOM != nil }

// #endregion rupture

// #region occurrence

// SampleOccurrences draws the number of occurrences for each of n repeats
// from the rupture's occurrence-count PMF via inverse-CDF lookup. Only valid
// for non-parametric ruptures.
func (r *Rupture) SampleOccurrences(n int, rng *rand.Rand) []int64 {
	occ := make([]int64, n)
	for i := range occ {
		u := rng.Float64()
		cum := 0.0
		for k, p := range r.ProbsOcc {
			cum += p
			if u < cum {
				occ[i] = int64(k)
				break
			}
		}
	}
	return occ
}

// ProbOcc returns the exact probability of observing k occurrences under the
// rupture's occurrence-count PMF. Counts beyond the PMF support have
// probability zero.
func (r *Rupture) ProbOcc(k int64) float64 {
	if k < 0 || k >= int64(len(r.ProbsOcc)) {
		return 0
	}
	return r.ProbsOcc[k]
}

// ProbNoExceed converts a conditional probability of exceedance (given one
// occurrence) into the probability that the level is never exceeded over the
// investigation window:
//
//	poissonian:      exp(-rate * timeSpan * poe)
//	non-parametric:  sum_k pmf[k] * (1-poe)^k
func (r *Rupture) ProbNoExceed(poe float64) float64 {
	if r.TOM != nil {
		return math.Exp(-r.Rate * r.TOM.TimeSpan * poe)
	}
	pne := 0.0
	for k, p := range r.ProbsOcc {
		pne += p * math.Pow(1-poe, float64(k))
	}
	return pne
}

// #endregion occurrence

// #region surface

// Surface is a planar rupture surface, derived from magnitude, nodal plane
// and hypocenter by the source's geometry rule.
type Surface struct {
	TopLeft     Point
	TopRight    Point
	BottomLeft  Point
	BottomRight Point
	Length      float64 // km, along strike
	Width       float64 // km, down dip
}

const kmPerDegree = 111.195

// buildSurface instantiates the planar surface for a rupture of the given
// magnitude centered on the hypocenter. Dimensions come from a magnitude-area
// scaling of 10^(mag-4) km2 shaped by the aspect ratio; the plane is laid out
// along strike and down dip with a flat-earth degree conversion, which is
// adequate at rupture scale.
func buildSurface(mag float64, plane NodalPlane, hypo Point, aspectRatio float64) Surface {
	area := math.Pow(10, mag-4.0)
	width := math.Sqrt(area / aspectRatio)
	length := area / width

	strikeRad := plane.Strike * math.Pi / 180
	dipRad := plane.Dip * math.Pi / 180

	// Half-length offsets along strike.
	dxKm := math.Sin(strikeRad) * length / 2
	dyKm := math.Cos(strikeRad) * length / 2
	cosLat := math.Cos(hypo.Lat * math.Pi / 180)
	if cosLat == 0 {
		cosLat = 1e-9
	}
	dLon := dxKm / (kmPerDegree * cosLat)
	dLat := dyKm / kmPerDegree

	// Down-dip horizontal projection and depth extent.
	horiz := width * math.Cos(dipRad)
	vert := width * math.Sin(dipRad)
	ddStrike := strikeRad + math.Pi/2
	ddLon := math.Sin(ddStrike) * horiz / (kmPerDegree * cosLat)
	ddLat := math.Cos(ddStrike) * horiz / kmPerDegree

	topDepth := hypo.Depth - vert/2
	if topDepth < 0 {
		topDepth = 0
	}
	tl := Point{Lon: hypo.Lon - dLon, Lat: hypo.Lat - dLat, Depth: topDepth}
	tr := Point{Lon: hypo.Lon + dLon, Lat: hypo.Lat + dLat, Depth: topDepth}
	return Surface{
		TopLeft:     tl,
		TopRight:    tr,
		BottomLeft:  Point{Lon: tl.Lon + ddLon, Lat: tl.Lat + ddLat, Depth: topDepth + vert},
		BottomRight: Point{Lon: tr.Lon + ddLon, Lat: tr.Lat + ddLat, Depth: topDepth + vert},
		Length:      length,
		Width:       width,
	}
}

// #endregion surface
