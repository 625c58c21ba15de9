package replay

import (
	"fmt"

	"github.com/openhazard/engine/internal/config"
	"github.com/openhazard/engine/internal/sampler"
	"github.com/openhazard/engine/internal/source"
)

// #region types

// Mismatch is one divergence between a recorded draw and the replayed one.
// Values are formatted for the report; probabilities print with round-trip
// precision so bit-level drift is visible.
type Mismatch struct {
	Index int
	Field string // rupture_id | count | proba | draws
	Want  string
	Got   string
}

// Result captures the outcome of replaying one fixture.
type Result struct {
	Description string
	Draws       int
	Mismatches  []Mismatch
}

// OK reports whether the replay reproduced the fixture exactly.
func (r *Result) OK() bool { return len(r.Mismatches) == 0 }

// #endregion types

// #region run

// Run rebuilds the fixture's source, samples it under the recorded
// placement, and compares every draw against the expectations. Comparison is
// exact: occurrence sampling is contractually bit-reproducible for a given
// serial, so any difference is a defect, not noise.
func Run(f *Fixture) (*Result, error) {
	src, err := f.Source.Build(f.TimeSpan)
	if err != nil {
		return nil, fmt.Errorf("build fixture source: %w", err)
	}
	smp, err := sampler.New(sampler.Config{EffectiveRepeats: f.Repeats})
	if err != nil {
		return nil, fmt.Errorf("fixture sampler: %w", err)
	}
	pl := source.Placement{
		GroupID:     f.Placement.GroupID,
		Serial:      f.Placement.Serial,
		NumRuptures: src.CountRuptures(),
	}

	res := &Result{Description: f.Description}
	i := 0
	for d := range smp.Sample(src, pl) {
		if i < len(f.Expected) {
			exp := f.Expected[i]
			if d.Rupture.ID != exp.RuptureID {
				res.Mismatches = append(res.Mismatches, Mismatch{
					Index: i, Field: "rupture_id",
					Want: fmt.Sprintf("%d", exp.RuptureID), Got: fmt.Sprintf("%d", d.Rupture.ID),
				})
			}
			if d.Count != exp.Count {
				res.Mismatches = append(res.Mismatches, Mismatch{
					Index: i, Field: "count",
					Want: fmt.Sprintf("%d", exp.Count), Got: fmt.Sprintf("%d", d.Count),
				})
			}
			if d.Proba != exp.Proba {
				res.Mismatches = append(res.Mismatches, Mismatch{
					Index: i, Field: "proba",
					Want: fmt.Sprintf("%.17g", exp.Proba), Got: fmt.Sprintf("%.17g", d.Proba),
				})
			}
		}
		i++
	}
	res.Draws = i
	if i != len(f.Expected) {
		res.Mismatches = append(res.Mismatches, Mismatch{
			Index: min(i, len(f.Expected)), Field: "draws",
			Want: fmt.Sprintf("%d", len(f.Expected)), Got: fmt.Sprintf("%d", i),
		})
	}
	return res, nil
}

// Record samples a source definition and freezes the outcome as a fixture.
func Record(description string, timeSpan float64, repeats int, def config.SourceDef, pl FixturePlacement) (*Fixture, error) {
	f := &Fixture{
		Description: description,
		TimeSpan:    timeSpan,
		Repeats:     repeats,
		Source:      def,
		Placement:   pl,
	}
	src, err := def.Build(timeSpan)
	if err != nil {
		return nil, fmt.Errorf("build source: %w", err)
	}
	smp, err := sampler.New(sampler.Config{EffectiveRepeats: repeats})
	if err != nil {
		return nil, fmt.Errorf("fixture sampler: %w", err)
	}
	placement := source.Placement{
		GroupID:     pl.GroupID,
		Serial:      pl.Serial,
		NumRuptures: src.CountRuptures(),
	}
	for d := range smp.Sample(src, placement) {
		f.Expected = append(f.Expected, ExpectedDraw{
			RuptureID: d.Rupture.ID,
			Count:     d.Count,
			Proba:     d.Proba,
		})
	}
	return f, nil
}

// #endregion run
