// Package probmap implements the exceedance-probability accumulator shared
// by every parallel task: a sparse map from site index to a per-(level,
// ground-motion-model) probability array with an order-independent merge.
//
// The merge operator is the independent-events combination rule
// 1-(1-a)(1-b) applied elementwise. It commutes and associates, and the
// freshly constructed map (no curves, all probabilities zero) is its
// identity, so partial maps computed over arbitrary rupture partitions fold
// to the same result regardless of completion order.
package probmap

import (
	"fmt"
	"sort"
)

// #region map

// Curve is a flattened probability-of-exceedance array of length
// Levels*Gsims, indexed by level*Gsims+gsim.
type Curve []float64

// Timing is a per-source wall-clock sample, kept for diagnostics only.
type Timing struct {
	SourceID string
	Sites    int
	Seconds  float64
}

// Map accumulates exceedance probabilities per site. It additionally tracks
// effective rupture counts per source group and per-source timing samples;
// neither affects the computed probabilities.
type Map struct {
	Levels int
	Gsims  int
	Data   map[int]Curve

	EffRuptures map[int]int64
	CalcTimes   []Timing
}

// New returns the identity map for the given shape.
func New(levels, gsims int) *Map {
	return &Map{
		Levels:      levels,
		Gsims:       gsims,
		Data:        make(map[int]Curve),
		EffRuptures: make(map[int]int64),
	}
}

// CurveFor returns the curve for site, allocating a zero curve on first use.
func (m *Map) CurveFor(site int) Curve {
	c, ok := m.Data[site]
	if !ok {
		c = make(Curve, m.Levels*m.Gsims)
		m.Data[site] = c
	}
	return c
}

// MulNoExceed folds one rupture's no-exceedance probabilities into a site
// curve: poe' = 1 - (1-poe)*pne. This is the builder-side form of the merge
// operator, applied once per rupture.
func (m *Map) MulNoExceed(site int, pne []float64) error {
	if len(pne) != m.Levels*m.Gsims {
		return fmt.Errorf("no-exceedance array has %d entries, map shape wants %d", len(pne), m.Levels*m.Gsims)
	}
	c := m.CurveFor(site)
	for i, p := range pne {
		c[i] = 1 - (1-c[i])*p
	}
	return nil
}

// AddEffRuptures accumulates the effective rupture count of a source group.
func (m *Map) AddEffRuptures(grpID int, n int64) {
	m.EffRuptures[grpID] += n
}

// Sites returns the populated site indices in increasing order.
func (m *Map) Sites() []int {
	out := make([]int, 0, len(m.Data))
	for site := range m.Data {
		out = append(out, site)
	}
	sort.Ints(out)
	return out
}

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	out := New(m.Levels, m.Gsims)
	for site, c := range m.Data {
		out.Data[site] = append(Curve(nil), c...)
	}
	for grp, n := range m.EffRuptures {
		out.EffRuptures[grp] = n
	}
	out.CalcTimes = append([]Timing(nil), m.CalcTimes...)
	return out
}

// #endregion map

// #region merge

// Merge folds other into m: union of site keys, elementwise 1-(1-a)(1-b) on
// curves present on both sides, additive effective-rupture counts,
// concatenated timing samples. other must have the same shape.
func (m *Map) Merge(other *Map) error {
	if other == nil {
		return nil
	}
	if m.Levels != other.Levels || m.Gsims != other.Gsims {
		return fmt.Errorf("merge shape mismatch: %dx%d vs %dx%d", m.Levels, m.Gsims, other.Levels, other.Gsims)
	}
	for site, oc := range other.Data {
		c, ok := m.Data[site]
		if !ok {
			m.Data[site] = append(Curve(nil), oc...)
			continue
		}
		for i := range c {
			c[i] = 1 - (1-c[i])*(1-oc[i])
		}
	}
	for grp, n := range other.EffRuptures {
		m.EffRuptures[grp] += n
	}
	m.CalcTimes = append(m.CalcTimes, other.CalcTimes...)
	return nil
}

// #endregion merge

// #region accum

// Accum is the top-level fold accumulator: one probability map per source
// group. An absent group behaves as the identity map.
type Accum struct {
	ByGroup map[int]*Map
}

// NewAccum returns an empty accumulator.
func NewAccum() *Accum {
	return &Accum{ByGroup: make(map[int]*Map)}
}

// Fold absorbs one task's map into the given group. Task maps are never
// reused after folding, so an absent group adopts pm directly.
func (a *Accum) Fold(grpID int, pm *Map) error {
	if pm == nil {
		return nil
	}
	cur, ok := a.ByGroup[grpID]
	if !ok {
		a.ByGroup[grpID] = pm
		return nil
	}
	return cur.Merge(pm)
}

// Merge unions another accumulator into a, group by group.
func (a *Accum) Merge(other *Accum) error {
	if other == nil {
		return nil
	}
	for grp, pm := range other.ByGroup {
		if err := a.Fold(grp, pm); err != nil {
			return fmt.Errorf("merge group %d: %w", grp, err)
		}
	}
	return nil
}

// EffRuptures totals the effective rupture counts across all groups.
func (a *Accum) EffRuptures() int64 {
	var total int64
	for _, pm := range a.ByGroup {
		for _, n := range pm.EffRuptures {
			total += n
		}
	}
	return total
}

// #endregion accum
