// Package sitefilter holds the site collection and the integration-distance
// filter: sites farther from every anchor point of a source than the
// tectonic-region-specific maximum distance contribute nothing to hazard and
// are dropped before any ground-motion evaluation.
package sitefilter

import (
	"fmt"
	"math"

	"github.com/openhazard/engine/internal/source"
)

// #region collection

// Site is one location of interest. ID is its index in the full collection
// and survives filtering, so probability-map keys stay stable.
type Site struct {
	ID   int
	Lon  float64
	Lat  float64
	Vs30 float64
}

// Collection is an immutable set of sites, shared read-only across tasks.
type Collection struct {
	sites []Site
}

// NewCollection assigns sequential ids and returns the full collection.
func NewCollection(points []Site) *Collection {
	sites := make([]Site, len(points))
	for i, p := range points {
		p.ID = i
		sites[i] = p
	}
	return &Collection{sites: sites}
}

// Subset wraps already-identified sites in a collection, preserving the ids
// they were assigned by NewCollection.
func Subset(sites []Site) *Collection {
	return &Collection{sites: sites}
}

// Len returns the number of sites.
func (c *Collection) Len() int { return len(c.sites) }

// Sites returns the backing slice; callers must not modify it.
func (c *Collection) Sites() []Site { return c.sites }

// #endregion collection

// #region distance

const earthRadiusKm = 6371.0

// DistanceKm is the great-circle distance between two surface points.
func DistanceKm(lon1, lat1, lon2, lat2 float64) float64 {
	const rad = math.Pi / 180
	phi1, phi2 := lat1*rad, lat2*rad
	dPhi := (lat2 - lat1) * rad
	dLam := (lon2 - lon1) * rad
	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLam/2)*math.Sin(dLam/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// HypoDistanceKm is the hypocentral distance from a site to a rupture.
func HypoDistanceKm(s Site, rup *source.Rupture) float64 {
	epi := DistanceKm(s.Lon, s.Lat, rup.Hypocenter.Lon, rup.Hypocenter.Lat)
	return math.Hypot(epi, rup.Hypocenter.Depth)
}

// IntegrationDistance is the maximum source-to-site distance considered, in
// km, by tectonic region type. Default applies to regions not listed.
type IntegrationDistance struct {
	Default float64
	ByTRT   map[string]float64
}

// For returns the distance cutoff for a tectonic region type.
func (d IntegrationDistance) For(trt string) float64 {
	if km, ok := d.ByTRT[trt]; ok {
		return km
	}
	return d.Default
}

// Validate rejects cutoffs that would filter everything out.
func (d IntegrationDistance) Validate() error {
	if d.Default <= 0 {
		return fmt.Errorf("default integration distance must be positive, got %g", d.Default)
	}
	for trt, km := range d.ByTRT {
		if km <= 0 {
			return fmt.Errorf("integration distance for %q must be positive, got %g", trt, km)
		}
	}
	return nil
}

// #endregion distance

// #region filter

// Filter returns the sites within maxKm of at least one anchor point. The
// result shares no mutable state with c; an empty result is a valid value,
// not an error.
func Filter(c *Collection, anchors []source.Point, maxKm float64) *Collection {
	var kept []Site
	for _, s := range c.sites {
		for _, a := range anchors {
			if DistanceKm(s.Lon, s.Lat, a.Lon, a.Lat) <= maxKm {
				kept = append(kept, s)
				break
			}
		}
	}
	return &Collection{sites: kept}
}

// FilterSource applies the tectonic-region cutoff of dist to src's anchors.
func FilterSource(c *Collection, src source.Source, dist IntegrationDistance) *Collection {
	return Filter(c, src.Anchors(), dist.For(src.TectonicRegion()))
}

// #endregion filter
