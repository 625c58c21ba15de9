// Package calc drives the hazard pipeline end to end: pre-flight checks,
// site filtering, task partitioning across logic-tree branches, dispatch,
// incremental folding of partial probability maps, and the final reduction
// into the group-keyed accumulator with per-source diagnostics.
package calc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/openhazard/engine/internal/gmpe"
	"github.com/openhazard/engine/internal/parallel"
	"github.com/openhazard/engine/internal/probmap"
	"github.com/openhazard/engine/internal/sitefilter"
	"github.com/openhazard/engine/internal/source"
)

// #region errors

// ErrInvestigationTimeMismatch flags a source whose declared time span
// disagrees with the configured investigation time. Raised before any task
// is dispatched; the whole run aborts.
var ErrInvestigationTimeMismatch = errors.New(
	"declared investigation time differs from the configured time span")

// #endregion errors

// #region types

// Config controls a Calculator.
type Config struct {
	// InvestigationTime is the observation window in years; every
	// Poissonian source must declare the same span.
	InvestigationTime float64
	// ConcurrentTasks sizes the worker pool and the chunk partitioning;
	// non-positive means GOMAXPROCS.
	ConcurrentTasks int
	Evaluator       *gmpe.Evaluator
	MaxDistance     sitefilter.IntegrationDistance
}

// SourceInfo is one per-source diagnostic row.
type SourceInfo struct {
	SourceID    string
	Branch      int
	GroupID     int
	Kind        source.Kind
	Weight      float64
	NumRuptures int
	Serial      int64
	Sites       int
	Seconds     float64
}

// Output is the result of a run: the group-keyed accumulator plus
// diagnostics. Branch weights ride along for downstream realization
// weighting; this core never applies them.
type Output struct {
	Acc           *probmap.Accum
	SourceInfo    []SourceInfo
	BranchWeights map[int]float64
	Duration      time.Duration
}

// Calculator coordinates one hazard run over a built model.
type Calculator struct {
	cfg      Config
	branches []Branch
	sites    *sitefilter.Collection
	pool     *parallel.Pool
	runner   parallel.Runner
}

// New wires a calculator. The runner decides where tasks execute: a
// LocalRunner computes in-process, a remote client ships them to workers.
func New(cfg Config, branches []Branch, sites *sitefilter.Collection, runner parallel.Runner) (*Calculator, error) {
	if cfg.InvestigationTime <= 0 {
		return nil, fmt.Errorf("investigation time must be positive, got %g", cfg.InvestigationTime)
	}
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("calculator needs an evaluator")
	}
	if len(branches) == 0 {
		return nil, fmt.Errorf("calculator needs at least one branch")
	}
	if runner == nil {
		return nil, fmt.Errorf("calculator needs a task runner")
	}
	return &Calculator{
		cfg:      cfg,
		branches: branches,
		sites:    sites,
		pool:     parallel.NewPool(cfg.ConcurrentTasks),
		runner:   runner,
	}, nil
}

// #endregion types

// #region run

// Run executes the pipeline. Individual task failures abort the run; the
// empty-site case does not, it reduces to identity maps with zero effective
// ruptures.
func (c *Calculator) Run(ctx context.Context) (*Output, error) {
	start := time.Now()

	if err := c.preflight(); err != nil {
		return nil, err
	}
	placements := AssignPlacements(c.branches)

	filtered := c.filterSites()
	log.Printf("[CALC] %d branches, %d/%d sites within range, shape %dx%d",
		len(c.branches), filtered.Len(), c.sites.Len(),
		c.cfg.Evaluator.NumLevels(), c.cfg.Evaluator.NumModels())

	acc := probmap.NewAccum()
	if filtered.Len() == 0 {
		log.Printf("[CALC] no sites within integration distance, nothing to dispatch")
		for _, br := range c.branches {
			pm := probmap.New(c.cfg.Evaluator.NumLevels(), c.cfg.Evaluator.NumModels())
			pm.AddEffRuptures(br.Ordinal, 0)
			if err := acc.Fold(br.Ordinal, pm); err != nil {
				return nil, err
			}
		}
		return c.done(acc, placements, start)
	}

	tasks := c.buildTasks()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := map[int]bool{}
	for res := range c.pool.SubmitAll(ctx, tasks, c.runner) {
		if res.Err != nil {
			return nil, fmt.Errorf("task %d (%s, branch %d): %w", res.Task.Seq, res.Task.Kind, res.Task.Branch, res.Err)
		}
		if err := acc.Fold(res.Task.GroupID, res.Map); err != nil {
			return nil, fmt.Errorf("fold task %d: %w", res.Task.Seq, err)
		}
		if !done[res.Task.Branch] && res.Task.Kind == parallel.KindBranch {
			done[res.Task.Branch] = true
			log.Printf("[CALC] branch %d folded", res.Task.Branch)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run cancelled: %w", err)
	}

	if err := validateCurves(acc, c.cfg.Evaluator); err != nil {
		return nil, err
	}
	return c.done(acc, placements, start)
}

// preflight verifies configuration coherence before dispatching anything.
func (c *Calculator) preflight() error {
	for _, br := range c.branches {
		for _, src := range append(append([]source.Source{}, br.Sources...), br.Background...) {
			tom := src.TOM()
			if tom == nil {
				continue
			}
			if tom.TimeSpan != c.cfg.InvestigationTime {
				return fmt.Errorf("source %s declares %g years, configured %g: %w",
					src.ID(), tom.TimeSpan, c.cfg.InvestigationTime, ErrInvestigationTimeMismatch)
			}
		}
	}
	return nil
}

// filterSites keeps the sites within range of at least one source of any
// branch, preserving site ids.
func (c *Calculator) filterSites() *sitefilter.Collection {
	keep := make(map[int]bool)
	for _, br := range c.branches {
		for _, src := range append(append([]source.Source{}, br.Sources...), br.Background...) {
			for _, s := range sitefilter.FilterSource(c.sites, src, c.cfg.MaxDistance).Sites() {
				keep[s.ID] = true
			}
		}
	}
	// Walk the full collection so the subset keeps id order.
	ordered := make([]sitefilter.Site, 0, len(keep))
	for _, s := range c.sites.Sites() {
		if keep[s.ID] {
			ordered = append(ordered, s)
		}
	}
	return sitefilter.Subset(ordered)
}

// done assembles diagnostics and returns the final output.
func (c *Calculator) done(acc *probmap.Accum, placements map[string]source.Placement, start time.Time) (*Output, error) {
	out := &Output{
		Acc:           acc,
		BranchWeights: make(map[int]float64, len(c.branches)),
		Duration:      time.Since(start),
	}

	// Timing samples come back keyed by source id; fold duplicates (one per
	// chunk) into a single row.
	type agg struct {
		sites   int
		seconds float64
	}
	timings := make(map[string]agg)
	for _, pm := range acc.ByGroup {
		for _, ct := range pm.CalcTimes {
			a := timings[ct.SourceID]
			if ct.Sites > a.sites {
				a.sites = ct.Sites
			}
			a.seconds += ct.Seconds
			timings[ct.SourceID] = a
		}
	}

	for _, br := range c.branches {
		out.BranchWeights[br.Ordinal] = br.Weight
		for _, src := range append(append([]source.Source{}, br.Sources...), br.Background...) {
			pl := placements[src.ID()]
			tm := timings[src.ID()]
			out.SourceInfo = append(out.SourceInfo, SourceInfo{
				SourceID:    src.ID(),
				Branch:      br.Ordinal,
				GroupID:     pl.GroupID,
				Kind:        src.Kind(),
				Weight:      src.Weight(),
				NumRuptures: pl.NumRuptures,
				Serial:      pl.Serial,
				Sites:       tm.sites,
				Seconds:     tm.seconds,
			})
		}
	}
	log.Printf("[CALC] done: %d groups, %d effective ruptures, %s",
		len(acc.ByGroup), acc.EffRuptures(), out.Duration.Round(time.Millisecond))
	return out, nil
}

// #endregion run

// #region tasks

// buildTasks partitions the work. A single branch takes the fast path: its
// main sources are split into roughly twice as many rupture chunks as there
// are workers, and the background batch rides as one extra task. Multiple
// branches get one task each; the branch is the unit of distribution.
func (c *Calculator) buildTasks() []parallel.Task {
	var tasks []parallel.Task
	seq := 0
	next := func(t parallel.Task) {
		t.Seq = seq
		seq++
		tasks = append(tasks, t)
	}

	if len(c.branches) == 1 {
		br := c.branches[0]
		total := 0
		for _, src := range br.Sources {
			total += src.CountRuptures()
		}
		target := 2 * c.pool.Workers()
		size := (total + target - 1) / target
		if size < 1 {
			size = 1
		}
		for _, src := range br.Sources {
			for _, idx := range chunkIndices(src.CountRuptures(), size) {
				next(parallel.Task{
					Kind:       parallel.KindChunk,
					Branch:     br.Ordinal,
					SourceID:   src.ID(),
					RupIndices: idx,
					GroupID:    br.Ordinal,
				})
			}
		}
		if len(br.Background) > 0 {
			next(parallel.Task{Kind: parallel.KindBackground, Branch: br.Ordinal, GroupID: br.Ordinal})
		}
		log.Printf("[CALC] single-branch fast path: %d ruptures in %d tasks", total, len(tasks))
		return tasks
	}

	for _, br := range c.branches {
		next(parallel.Task{Kind: parallel.KindBranch, Branch: br.Ordinal, GroupID: br.Ordinal})
	}
	return tasks
}

// chunkIndices splits [0,count) into consecutive runs of at most size.
func chunkIndices(count, size int) [][]int {
	var out [][]int
	for lo := 0; lo < count; lo += size {
		hi := lo + size
		if hi > count {
			hi = count
		}
		idx := make([]int, 0, hi-lo)
		for i := lo; i < hi; i++ {
			idx = append(idx, i)
		}
		out = append(out, idx)
	}
	return out
}

// #endregion tasks

// #region validate

// validateCurves is the post-reduce sanity pass: probabilities must lie in
// [0,1] and cannot grow with the intensity level within one measure type.
func validateCurves(acc *probmap.Accum, ev *gmpe.Evaluator) error {
	refs := ev.FlatLevels()
	nm := ev.NumModels()
	for grp, pm := range acc.ByGroup {
		for site, curve := range pm.Data {
			for l, ref := range refs {
				for g := 0; g < nm; g++ {
					p := curve[l*nm+g]
					if p < 0 || p > 1 {
						return fmt.Errorf("group %d site %d: probability %g outside [0,1]", grp, site, p)
					}
					if l == 0 || refs[l-1].IMT != ref.IMT {
						continue
					}
					if p > curve[(l-1)*nm+g]+1e-12 {
						return fmt.Errorf("group %d site %d: exceedance grows from level %g to %g (%s)",
							grp, site, refs[l-1].Level, ref.Level, ref.IMT)
					}
				}
			}
		}
	}
	return nil
}

// #endregion validate
