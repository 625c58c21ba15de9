// Package sampler draws rupture occurrence counts for a source over an
// effective number of stochastic-event-set repetitions.
//
// Two regimes exist, selected by whether the source carries a temporal
// occurrence model. Poissonian sources get one Poisson draw per rupture (or
// per unmaterialized combination) with rate lambda*timeSpan*repeats;
// non-parametric sources draw from each rupture's own occurrence-count PMF,
// optionally thinned by a mutual-exclusivity weight. Both regimes emit only
// surviving ruptures, paired with the exact point probability of the drawn
// count, and are bit-reproducible for a fixed placement serial.
package sampler

import (
	"fmt"
	"iter"
	"math"
	"math/rand/v2"

	"github.com/openhazard/engine/internal/source"
	"gonum.org/v1/gonum/stat/distuv"
)

// #region types

// Draw is one surviving rupture with its occurrence count over all repeats
// and the exact probability of drawing that count.
type Draw struct {
	Rupture *source.Rupture
	GroupID int
	Count   int64
	Proba   float64
}

// DrawSource yields uniform variates in [0,1); *rand.Rand satisfies it.
// Tests inject deterministic sequences to pin down the thinning behavior.
type DrawSource interface {
	Float64() float64
}

// comboSource is implemented by sources that enumerate their ruptures as
// unmaterialized combinations; sampling over combinations avoids building
// surfaces for ruptures that never occur.
type comboSource interface {
	Combinations() []source.Combo
	BuildRupture(source.Combo) *source.Rupture
}

// mutexSource is implemented by sources whose ruptures are mutually
// exclusive alternatives realized with the returned weight.
type mutexSource interface {
	MutexWeight() float64
}

// #endregion types

// #region config

// Config controls a Sampler.
type Config struct {
	// EffectiveRepeats is the number of stochastic event sets times the
	// number of samples per set.
	EffectiveRepeats int
	// MutexDraws overrides the uniform source used for mutual-exclusivity
	// thinning. Nil uses the same seeded generator as the occurrence draws.
	MutexDraws DrawSource
}

// DefaultConfig returns a single-repeat sampler configuration.
func DefaultConfig() Config {
	return Config{EffectiveRepeats: 1}
}

// Sampler draws occurrence counts. The zero value is not usable; construct
// with New.
type Sampler struct {
	cfg Config
}

// New validates cfg and returns a Sampler.
func New(cfg Config) (*Sampler, error) {
	if cfg.EffectiveRepeats <= 0 {
		return nil, fmt.Errorf("effective repeats must be positive, got %d", cfg.EffectiveRepeats)
	}
	return &Sampler{cfg: cfg}, nil
}

// #endregion config

// #region sample

// Sample returns the lazy draw sequence for src under the given placement.
// The sequence is restartable: every range re-seeds from the placement
// serial and reproduces the identical stream. Rupture ids run serial,
// serial+1, ... in emission order over surviving ruptures.
func (s *Sampler) Sample(src source.Source, pl source.Placement) iter.Seq[Draw] {
	if tom := src.TOM(); tom != nil {
		if cs, ok := src.(comboSource); ok {
			return s.poissonCombos(cs, tom.TimeSpan, pl)
		}
		return s.poissonRuptures(src, pl)
	}
	return s.nonParametric(src, pl)
}

// poissonRuptures samples sources with one fixed geometry per rupture.
func (s *Sampler) poissonRuptures(src source.Source, pl source.Placement) iter.Seq[Draw] {
	return func(yield func(Draw) bool) {
		rng := newGenerator(pl.Serial)
		nextID := pl.Serial
		for rup := range src.IterRuptures() {
			lambda := rup.Rate * rup.TOM.TimeSpan * float64(s.cfg.EffectiveRepeats)
			count, proba := drawPoisson(lambda, rng)
			if count == 0 {
				continue
			}
			stamped := *rup
			stamped.ID = nextID
			nextID++
			if !yield(Draw{Rupture: &stamped, GroupID: pl.GroupID, Count: count, Proba: proba}) {
				return
			}
		}
	}
}

// poissonCombos samples multi-geometry sources over their combination
// vector, materializing surfaces only for combinations that occur.
func (s *Sampler) poissonCombos(src comboSource, timeSpan float64, pl source.Placement) iter.Seq[Draw] {
	return func(yield func(Draw) bool) {
		rng := newGenerator(pl.Serial)
		nextID := pl.Serial
		for _, c := range src.Combinations() {
			lambda := c.Rate * timeSpan * float64(s.cfg.EffectiveRepeats)
			count, proba := drawPoisson(lambda, rng)
			if count == 0 {
				continue
			}
			rup := src.BuildRupture(c)
			rup.ID = nextID
			nextID++
			if !yield(Draw{Rupture: rup, GroupID: pl.GroupID, Count: count, Proba: proba}) {
				return
			}
		}
	}
}

// nonParametric samples each rupture's own occurrence PMF per repeat,
// thinning by the mutex weight when the source declares one below 1.
func (s *Sampler) nonParametric(src source.Source, pl source.Placement) iter.Seq[Draw] {
	return func(yield func(Draw) bool) {
		rng := rand.New(newGenerator(pl.Serial))
		var uniform DrawSource = rng
		if s.cfg.MutexDraws != nil {
			uniform = s.cfg.MutexDraws
		}
		weight := 1.0
		if ms, ok := src.(mutexSource); ok {
			weight = ms.MutexWeight()
		}
		nextID := pl.Serial
		for rup := range src.IterRuptures() {
			occ := rup.SampleOccurrences(s.cfg.EffectiveRepeats, rng)
			if weight < 1 {
				for i := range occ {
					if uniform.Float64() >= weight {
						occ[i] = 0
					}
				}
			}
			var total int64
			for _, k := range occ {
				total += k
			}
			if total == 0 {
				continue
			}
			proba := rup.ProbOcc(total)
			stamped := *rup
			stamped.ID = nextID
			nextID++
			if !yield(Draw{Rupture: &stamped, GroupID: pl.GroupID, Count: total, Proba: proba}) {
				return
			}
		}
	}
}

// #endregion sample

// #region draws

// newGenerator derives the deterministic generator for a placement serial.
func newGenerator(serial int64) *rand.PCG {
	return rand.NewPCG(uint64(serial), uint64(serial))
}

// drawPoisson draws one occurrence count from Poisson(lambda) and returns it
// with its exact point probability exp(k*ln(lambda) - lambda - lnGamma(k+1)).
func drawPoisson(lambda float64, src rand.Source) (int64, float64) {
	dist := distuv.Poisson{Lambda: lambda, Src: src}
	k := dist.Rand()
	return int64(k), math.Exp(dist.LogProb(k))
}

// #endregion draws
