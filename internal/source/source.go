// Package source models seismic sources: generative models of earthquake
// ruptures combining geometry, a magnitude-frequency distribution and a
// temporal occurrence model. The three concrete variants (fault, multipoint,
// non-parametric) sit behind one capability interface and are dispatched by
// an explicit kind tag; there is no open-ended subtyping.
package source

import (
	"iter"
	"math/rand/v2"
)

// #region kind

// Kind tags the closed set of source variants.
type Kind string

const (
	KindFault         Kind = "fault"
	KindMultiPoint    Kind = "multipoint"
	KindNonParametric Kind = "nonparametric"
)

// #endregion kind

// #region interface

// Source is a generative model of ruptures. Implementations are read-only
// after construction except through Modify; engine-assigned bookkeeping lives
// in a separate Placement record, never on the source.
type Source interface {
	// ID returns the source identifier, unique within a source model.
	ID() string
	// Name returns the human-readable source name.
	Name() string
	// TectonicRegion returns the source's tectonic region type.
	TectonicRegion() string
	// Kind returns the variant tag.
	Kind() Kind

	// IterRuptures yields the ruptures the source consists of. The sequence
	// is finite, deterministic for fixed parameters, and restartable: every
	// range over it re-enumerates from the start.
	IterRuptures() iter.Seq[*Rupture]
	// CountRuptures returns the number of ruptures IterRuptures yields,
	// computed without a full enumeration where the variant allows it.
	CountRuptures() int
	// Weight returns the load-balancing weight: the rupture count, divided by
	// the number of coupled nodal-plane x hypocenter combinations when the
	// variant enumerates such combinations. Never used for probabilities.
	Weight() float64
	// MinMaxMag returns the magnitude range of the generated ruptures.
	MinMaxMag() (float64, float64)
	// Anchors returns the surface points characterizing the source's extent
	// (trace vertices, grid locations, or hypocenters), used for distance
	// filtering without materializing ruptures.
	Anchors() []Point

	// OneRupture picks one rupture uniformly among CountRuptures candidates
	// using rng. mutexAllowed may be true only for non-parametric sources;
	// parametric variants return ErrMutexNotAllowed.
	OneRupture(rng *rand.Rand, mutexAllowed bool) (*Rupture, error)

	// Modify applies a named parameter mutation. Modifications may be
	// chained; a name not declared by the concrete variant yields a
	// *ModificationError.
	Modify(name string, params map[string]float64) error

	// TOM returns the temporal occurrence model, or nil for non-parametric
	// sources (their ruptures carry occurrence-count PMFs instead).
	TOM() *PoissonTOM
}

// #endregion interface

// #region pick

// pickByIndex scans seq to the idx-th rupture. Sequences are lazy, so this
// costs one partial enumeration; index lookup is exactly how a uniform draw
// re-materializes the chosen rupture.
func pickByIndex(seq iter.Seq[*Rupture], idx int) *Rupture {
	i := 0
	for rup := range seq {
		if i == idx {
			return rup
		}
		i++
	}
	return nil
}

// #endregion pick
