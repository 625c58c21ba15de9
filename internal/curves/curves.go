// Package curves turns a source's ruptures into partial probability-map
// contributions: per rupture and site, the ground-motion evaluator yields
// conditional exceedance probabilities, the rupture's occurrence model turns
// them into no-exceedance probabilities over the investigation window, and
// the products fold into the site curves.
package curves

import (
	"fmt"
	"time"

	"github.com/openhazard/engine/internal/gmpe"
	"github.com/openhazard/engine/internal/probmap"
	"github.com/openhazard/engine/internal/sitefilter"
	"github.com/openhazard/engine/internal/source"
)

// #region input

// Input is one curve-building unit of work.
type Input struct {
	Source source.Source
	// RupIndices restricts the build to these positions of the source's
	// rupture enumeration; nil means all ruptures.
	RupIndices  []int
	Sites       *sitefilter.Collection
	MaxDistance sitefilter.IntegrationDistance
	Evaluator   *gmpe.Evaluator
	GroupID     int
}

// #endregion input

// #region build

// Build computes the partial probability map for one rupture subset.
//
// Sites are re-filtered by the tectonic-region integration distance first;
// an empty filtered set short-circuits to the identity map with a zero
// effective-rupture count for the group, skipping all ground-motion
// evaluation. That fast path is a valid result, not a failure.
func Build(in Input) (*probmap.Map, error) {
	ev := in.Evaluator
	pm := probmap.New(ev.NumLevels(), ev.NumModels())

	filtered := sitefilter.FilterSource(in.Sites, in.Source, in.MaxDistance)
	if filtered.Len() == 0 {
		pm.AddEffRuptures(in.GroupID, 0)
		return pm, nil
	}

	var want map[int]bool
	if in.RupIndices != nil {
		want = make(map[int]bool, len(in.RupIndices))
		for _, i := range in.RupIndices {
			want[i] = true
		}
	}

	start := time.Now()
	var eff int64
	pne := make([]float64, ev.NumLevels()*ev.NumModels())
	idx := 0
	for rup := range in.Source.IterRuptures() {
		i := idx
		idx++
		if want != nil && !want[i] {
			continue
		}
		eff++
		for _, site := range filtered.Sites() {
			ctx := gmpe.Context{
				Mag:      rup.Mag,
				Rake:     rup.Rake,
				Depth:    rup.Hypocenter.Depth,
				Distance: sitefilter.HypoDistanceKm(site, rup),
				Vs30:     site.Vs30,
			}
			poes, err := ev.PoEs(ctx)
			if err != nil {
				return nil, fmt.Errorf("build curves for source %s: %w", in.Source.ID(), err)
			}
			for j, poe := range poes {
				pne[j] = rup.ProbNoExceed(poe)
			}
			if err := pm.MulNoExceed(site.ID, pne); err != nil {
				return nil, fmt.Errorf("build curves for source %s: %w", in.Source.ID(), err)
			}
		}
	}
	pm.AddEffRuptures(in.GroupID, eff)
	pm.CalcTimes = append(pm.CalcTimes, probmap.Timing{
		SourceID: in.Source.ID(),
		Sites:    filtered.Len(),
		Seconds:  time.Since(start).Seconds(),
	})
	return pm, nil
}

// BuildGroup computes and merges the maps of several whole sources into one
// group contribution. Used for background-source batches, where each source
// is small and re-chunking would cost more than it saves.
func BuildGroup(srcs []source.Source, sites *sitefilter.Collection, maxDist sitefilter.IntegrationDistance, ev *gmpe.Evaluator, grpID int) (*probmap.Map, error) {
	out := probmap.New(ev.NumLevels(), ev.NumModels())
	for _, src := range srcs {
		pm, err := Build(Input{
			Source:      src,
			Sites:       sites,
			MaxDistance: maxDist,
			Evaluator:   ev,
			GroupID:     grpID,
		})
		if err != nil {
			return nil, err
		}
		if err := out.Merge(pm); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// #endregion build
