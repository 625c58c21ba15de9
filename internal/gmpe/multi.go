package gmpe

import (
	"fmt"
)

// #region multi

// MultiGMPE dispatches to a different underlying model per intensity measure
// type. The capability sets exposed by the composite are the unions of the
// constituents' sets, computed once at construction and stored per instance;
// nothing shared between composites is ever mutated.
type MultiGMPE struct {
	byIMT map[string]GroundMotionModel

	imts      []string
	stdDevs   []string
	rupParams []string
	distances []string
}

var _ GroundMotionModel = (*MultiGMPE)(nil)

// NewMultiGMPE builds a composite from an intensity-measure-type to model
// mapping. Every model must declare support for the type it is mapped to.
func NewMultiGMPE(byIMT map[string]GroundMotionModel) (*MultiGMPE, error) {
	if len(byIMT) == 0 {
		return nil, fmt.Errorf("composite model needs at least one intensity measure mapping")
	}
	m := &MultiGMPE{byIMT: make(map[string]GroundMotionModel, len(byIMT))}
	var stdDevs, rupParams, distances [][]string
	for imt, model := range byIMT {
		if model == nil {
			return nil, fmt.Errorf("intensity measure %q maps to a nil model", imt)
		}
		if !Supports(model, imt) {
			return nil, fmt.Errorf("model for %q does not declare support for it (declares %v)",
				imt, model.IntensityMeasureTypes())
		}
		m.byIMT[imt] = model
		stdDevs = append(stdDevs, model.StdDevTypes())
		rupParams = append(rupParams, model.RequiredRuptureParams())
		distances = append(distances, model.RequiredDistances())
	}
	m.imts = sortedUnion(keysOf(byIMT))
	m.stdDevs = sortedUnion(stdDevs...)
	m.rupParams = sortedUnion(rupParams...)
	m.distances = sortedUnion(distances...)
	return m, nil
}

// MeanAndStdDev dispatches to the model mapped to imt.
func (m *MultiGMPE) MeanAndStdDev(ctx Context, imt string) (float64, float64, error) {
	model, ok := m.byIMT[imt]
	if !ok {
		return 0, 0, fmt.Errorf("composite model has no mapping for intensity measure %q", imt)
	}
	return model.MeanAndStdDev(ctx, imt)
}

// IntensityMeasureTypes returns the mapped types. The slice is owned by the
// composite; callers must not modify it.
func (m *MultiGMPE) IntensityMeasureTypes() []string { return m.imts }

func (m *MultiGMPE) StdDevTypes() []string { return m.stdDevs }

func (m *MultiGMPE) RequiredRuptureParams() []string { return m.rupParams }

func (m *MultiGMPE) RequiredDistances() []string { return m.distances }

func keysOf(byIMT map[string]GroundMotionModel) []string {
	out := make([]string, 0, len(byIMT))
	for imt := range byIMT {
		out = append(out, imt)
	}
	return out
}

// #endregion multi
