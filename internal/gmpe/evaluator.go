package gmpe

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// #region levels

// IMTLevels pairs an intensity measure type with its intensity levels, in g,
// strictly increasing.
type IMTLevels struct {
	IMT    string
	Levels []float64
}

// LevelRef identifies one entry of the flattened level axis.
type LevelRef struct {
	IMT   string
	Level float64
}

// #endregion levels

// #region evaluator

// Evaluator computes conditional exceedance probabilities: given that a
// rupture occurs, the probability that each (intensity level, model) pair is
// exceeded at a site. The level axis concatenates the per-IMT level lists;
// output arrays are flattened level-major, index = level*numModels + model,
// matching the probability-map curve layout.
type Evaluator struct {
	models     []GroundMotionModel
	imtls      []IMTLevels
	truncation float64

	numLevels int
	phiTau    float64 // CDF of the truncation level, cached
}

// NewEvaluator validates the model/level table and returns an Evaluator.
// truncation is the symmetric cutoff of the log-motion distribution in
// standard deviations; zero means no truncation.
func NewEvaluator(models []GroundMotionModel, imtls []IMTLevels, truncation float64) (*Evaluator, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("evaluator needs at least one ground-motion model")
	}
	if len(imtls) == 0 {
		return nil, fmt.Errorf("evaluator needs at least one intensity measure type")
	}
	if truncation < 0 {
		return nil, fmt.Errorf("truncation level must be non-negative, got %g", truncation)
	}
	numLevels := 0
	for _, il := range imtls {
		if il.IMT == "" {
			return nil, fmt.Errorf("empty intensity measure type name")
		}
		if len(il.Levels) == 0 {
			return nil, fmt.Errorf("intensity measure %q has no levels", il.IMT)
		}
		prev := 0.0
		for _, lv := range il.Levels {
			if lv <= prev {
				return nil, fmt.Errorf("levels for %q must be positive and strictly increasing", il.IMT)
			}
			prev = lv
		}
		numLevels += len(il.Levels)
		for g, model := range models {
			if model == nil {
				return nil, fmt.Errorf("model %d is nil", g)
			}
			if !Supports(model, il.IMT) {
				return nil, fmt.Errorf("model %d does not support intensity measure %q", g, il.IMT)
			}
		}
	}
	e := &Evaluator{
		models:     models,
		imtls:      imtls,
		truncation: truncation,
		numLevels:  numLevels,
	}
	if truncation > 0 {
		e.phiTau = stdNormal.CDF(truncation)
	}
	return e, nil
}

// NumLevels returns the length of the flattened level axis.
func (e *Evaluator) NumLevels() int { return e.numLevels }

// NumModels returns the size of the model axis.
func (e *Evaluator) NumModels() int { return len(e.models) }

// FlatLevels returns the (imt, level) pairs of the flattened level axis, in
// layout order.
func (e *Evaluator) FlatLevels() []LevelRef {
	out := make([]LevelRef, 0, e.numLevels)
	for _, il := range e.imtls {
		for _, lv := range il.Levels {
			out = append(out, LevelRef{IMT: il.IMT, Level: lv})
		}
	}
	return out
}

// PoEs computes the conditional exceedance probabilities for one
// rupture-site context, flattened level-major.
func (e *Evaluator) PoEs(ctx Context) ([]float64, error) {
	nm := len(e.models)
	out := make([]float64, e.numLevels*nm)
	base := 0
	for _, il := range e.imtls {
		for g, model := range e.models {
			mean, sigma, err := model.MeanAndStdDev(ctx, il.IMT)
			if err != nil {
				return nil, fmt.Errorf("evaluate %q: %w", il.IMT, err)
			}
			for j, lv := range il.Levels {
				out[(base+j)*nm+g] = e.exceedProb(math.Log(lv), mean, sigma)
			}
		}
		base += len(il.Levels)
	}
	return out, nil
}

// exceedProb is the survival of the (optionally truncated) normal
// distribution of ln(motion) at the log intensity level.
func (e *Evaluator) exceedProb(lnLevel, mean, sigma float64) float64 {
	if sigma <= 0 {
		// Degenerate distribution: exceed iff the mean motion does.
		if mean > lnLevel {
			return 1
		}
		return 0
	}
	eps := (lnLevel - mean) / sigma
	if e.truncation == 0 {
		return stdNormal.Survival(eps)
	}
	switch {
	case eps <= -e.truncation:
		return 1
	case eps >= e.truncation:
		return 0
	}
	return (e.phiTau - stdNormal.CDF(eps)) / (2*e.phiTau - 1)
}

// #endregion evaluator
