package calc

import (
	"fmt"

	"github.com/openhazard/engine/internal/config"
	"github.com/openhazard/engine/internal/source"
)

// #region branches

// Branch is one built logic-tree realization: its main sources plus an
// optional batch of background (distributed-seismicity) sources. Everything
// a branch computes accumulates under its ordinal as the group id.
type Branch struct {
	Ordinal    int
	Path       string
	Weight     float64
	Sources    []source.Source
	Background []source.Source
}

// SourceByID finds a main source of the branch.
func (b *Branch) SourceByID(id string) (source.Source, bool) {
	for _, s := range b.Sources {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// BuildBranches constructs every source of a model document.
func BuildBranches(doc *config.Model) ([]Branch, error) {
	out := make([]Branch, len(doc.Branches))
	for i, bd := range doc.Branches {
		br := Branch{Ordinal: bd.Ordinal, Path: bd.Path, Weight: bd.Weight}
		for _, sd := range bd.Sources {
			src, err := sd.Build(doc.TimeSpan)
			if err != nil {
				return nil, fmt.Errorf("branch %d: %w", bd.Ordinal, err)
			}
			br.Sources = append(br.Sources, src)
		}
		for _, sd := range bd.Background {
			src, err := sd.Build(doc.TimeSpan)
			if err != nil {
				return nil, fmt.Errorf("branch %d background: %w", bd.Ordinal, err)
			}
			br.Background = append(br.Background, src)
		}
		out[i] = br
	}
	return out, nil
}

// #endregion branches

// #region placements

// AssignPlacements hands every source its engine-assigned bookkeeping: the
// branch ordinal as group id and a serial derived from the cumulative
// rupture count, so rupture ids never collide across sources. The walk order
// (branches as listed, main sources before background) is deterministic.
func AssignPlacements(branches []Branch) map[string]source.Placement {
	out := make(map[string]source.Placement)
	serial := int64(1)
	for _, br := range branches {
		for _, src := range append(append([]source.Source{}, br.Sources...), br.Background...) {
			n := src.CountRuptures()
			out[src.ID()] = source.Placement{
				GroupID:     br.Ordinal,
				Serial:      serial,
				NumRuptures: n,
			}
			serial += int64(n)
		}
	}
	return out
}

// #endregion placements
