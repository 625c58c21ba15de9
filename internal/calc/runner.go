package calc

import (
	"context"
	"fmt"
	"log"

	"github.com/openhazard/engine/internal/curves"
	"github.com/openhazard/engine/internal/gmpe"
	"github.com/openhazard/engine/internal/parallel"
	"github.com/openhazard/engine/internal/probmap"
	"github.com/openhazard/engine/internal/sitefilter"
)

// #region runner

// LocalRunner resolves tasks against an in-process model and executes them
// directly. The remote worker daemon wraps the same runner, so local and
// distributed runs compute identical results.
type LocalRunner struct {
	byOrdinal map[int]*Branch
	sites     *sitefilter.Collection
	eval      *gmpe.Evaluator
	maxDist   sitefilter.IntegrationDistance
}

var _ parallel.Runner = (*LocalRunner)(nil)

// NewLocalRunner indexes the branches by ordinal.
func NewLocalRunner(branches []Branch, sites *sitefilter.Collection, eval *gmpe.Evaluator, maxDist sitefilter.IntegrationDistance) *LocalRunner {
	byOrdinal := make(map[int]*Branch, len(branches))
	for i := range branches {
		byOrdinal[branches[i].Ordinal] = &branches[i]
	}
	return &LocalRunner{byOrdinal: byOrdinal, sites: sites, eval: eval, maxDist: maxDist}
}

// Run executes one task. Cancellation is coarse: checked at task start,
// never mid-computation.
func (r *LocalRunner) Run(ctx context.Context, t parallel.Task) (*probmap.Map, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	br, ok := r.byOrdinal[t.Branch]
	if !ok {
		return nil, fmt.Errorf("unknown branch ordinal %d", t.Branch)
	}
	switch t.Kind {
	case parallel.KindChunk:
		src, ok := br.SourceByID(t.SourceID)
		if !ok {
			return nil, fmt.Errorf("branch %d has no source %s", t.Branch, t.SourceID)
		}
		return curves.Build(curves.Input{
			Source:      src,
			RupIndices:  t.RupIndices,
			Sites:       r.sites,
			MaxDistance: r.maxDist,
			Evaluator:   r.eval,
			GroupID:     t.GroupID,
		})
	case parallel.KindBackground:
		return curves.BuildGroup(br.Background, r.sites, r.maxDist, r.eval, t.GroupID)
	case parallel.KindBranch:
		log.Printf("[WORKER] branch %d (%s): %d sources, %d background",
			br.Ordinal, br.Path, len(br.Sources), len(br.Background))
		pm, err := curves.BuildGroup(br.Sources, r.sites, r.maxDist, r.eval, t.GroupID)
		if err != nil {
			return nil, err
		}
		bg, err := curves.BuildGroup(br.Background, r.sites, r.maxDist, r.eval, t.GroupID)
		if err != nil {
			return nil, err
		}
		if err := pm.Merge(bg); err != nil {
			return nil, err
		}
		return pm, nil
	}
	return nil, fmt.Errorf("unknown task kind %q", t.Kind)
}

// #endregion runner
