// Package gmpe defines the ground-motion side of the hazard computation:
// models predicting the log-motion distribution for a rupture at a site, a
// composite model dispatching per intensity measure type, and the evaluator
// turning model output into exceedance probabilities.
package gmpe

import (
	"fmt"
	"math"
	"sort"
)

// #region context

// Context carries the rupture and site parameters a model may require.
type Context struct {
	Mag      float64
	Rake     float64
	Depth    float64 // hypocentral depth, km
	Distance float64 // rupture-to-site distance, km
	Vs30     float64 // site shear-wave velocity, m/s
}

// #endregion context

// #region interface

// GroundMotionModel predicts the mean and standard deviation of the natural
// log of a ground-motion intensity measure. Capability accessors describe
// what the model supports and requires; callers check them before dispatch.
type GroundMotionModel interface {
	// MeanAndStdDev returns mean and standard deviation of ln(motion) for
	// the given context and intensity measure type.
	MeanAndStdDev(ctx Context, imt string) (mean, stddev float64, err error)

	IntensityMeasureTypes() []string
	StdDevTypes() []string
	RequiredRuptureParams() []string
	RequiredDistances() []string
}

// Supports reports whether the model declares the intensity measure type.
func Supports(m GroundMotionModel, imt string) bool {
	for _, s := range m.IntensityMeasureTypes() {
		if s == imt {
			return true
		}
	}
	return false
}

// sortedUnion merges string sets into one sorted, deduplicated slice.
func sortedUnion(sets ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range sets {
		for _, s := range set {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

// #endregion interface

// #region backbone

// backboneCoeffs are per-IMT attenuation coefficients:
// ln(gm) = A + B*(mag-6) - C*ln(dist+10) - D*dist + S*(vs30ref/vs30 - 1).
type backboneCoeffs struct {
	A, B, C, D, S, Sigma float64
}

var backboneTable = map[string]backboneCoeffs{
	"PGA":     {A: -1.0, B: 1.2, C: 1.1, D: 0.002, S: 0.10, Sigma: 0.60},
	"SA(0.2)": {A: -0.4, B: 1.3, C: 1.1, D: 0.003, S: 0.12, Sigma: 0.65},
	"SA(1.0)": {A: -2.1, B: 1.5, C: 1.0, D: 0.001, S: 0.18, Sigma: 0.70},
}

const backboneVs30Ref = 760.0

// BackboneGMPE is a log-linear backbone attenuation model with geometric and
// anelastic distance decay and a linear site term. It serves as the built-in
// reference model; real catalogues plug in through GroundMotionModel.
type BackboneGMPE struct{}

var _ GroundMotionModel = BackboneGMPE{}

func (BackboneGMPE) MeanAndStdDev(ctx Context, imt string) (float64, float64, error) {
	co, ok := backboneTable[imt]
	if !ok {
		return 0, 0, fmt.Errorf("backbone model does not support intensity measure %q", imt)
	}
	vs30 := ctx.Vs30
	if vs30 <= 0 {
		vs30 = backboneVs30Ref
	}
	mean := co.A + co.B*(ctx.Mag-6) - co.C*logDist(ctx.Distance) - co.D*ctx.Distance +
		co.S*(backboneVs30Ref/vs30-1)
	return mean, co.Sigma, nil
}

func (BackboneGMPE) IntensityMeasureTypes() []string {
	return []string{"PGA", "SA(0.2)", "SA(1.0)"}
}

func (BackboneGMPE) StdDevTypes() []string { return []string{"Total"} }

func (BackboneGMPE) RequiredRuptureParams() []string { return []string{"mag"} }

func (BackboneGMPE) RequiredDistances() []string { return []string{"rhypo"} }

// logDist keeps the geometric decay finite at zero distance.
func logDist(km float64) float64 {
	return math.Log(km + 10)
}

// #endregion backbone
