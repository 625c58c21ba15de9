// Package parallel distributes independent units of hazard work to workers
// and streams results back as they complete, in no guaranteed order. The
// probability-map merge commutes, so consumers fold results as they arrive.
//
// Tasks describe work by reference (branch ordinal, source id, rupture
// indices); the Runner resolves them against its own loaded model. That
// keeps the scheduler transport-agnostic: the local runner executes
// in-process, the remote runner ships the same task over the wire.
package parallel

import (
	"context"
	"log"
	"runtime"
	"sync"

	"github.com/openhazard/engine/internal/probmap"
)

// #region task

// Kind selects how a runner interprets a task.
type Kind string

const (
	// KindChunk computes one rupture-index chunk of a single source.
	KindChunk Kind = "chunk"
	// KindBranch computes one whole logic-tree branch.
	KindBranch Kind = "branch"
	// KindBackground computes a branch's background-source batch.
	KindBackground Kind = "background"
)

// Task is one independent unit of work.
type Task struct {
	Seq        int // unique per submission, for diagnostics
	Kind       Kind
	Branch     int    // branch ordinal
	SourceID   string // set when Kind == KindChunk
	RupIndices []int  // set when Kind == KindChunk
	GroupID    int
}

// Result pairs a finished task with its partial map or failure.
type Result struct {
	Task Task
	Map  *probmap.Map
	Err  error
}

// Runner executes one task against its loaded model.
type Runner interface {
	Run(ctx context.Context, t Task) (*probmap.Map, error)
}

// #endregion task

// #region pool

// Pool is a fixed-size local worker pool.
type Pool struct {
	workers int
}

// NewPool returns a pool with the given concurrency; non-positive values
// fall back to GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{workers: workers}
}

// Workers returns the pool concurrency.
func (p *Pool) Workers() int { return p.workers }

// SubmitAll hands every task to the runner and returns the unordered result
// stream. The channel is buffered for all tasks and closed once every worker
// has drained; cancelling ctx stops workers from picking up further tasks.
func (p *Pool) SubmitAll(ctx context.Context, tasks []Task, r Runner) <-chan Result {
	out := make(chan Result, len(tasks))
	taskCh := make(chan Task)

	n := p.workers
	if n > len(tasks) {
		n = len(tasks)
	}
	log.Printf("[POOL] dispatching %d tasks on %d workers", len(tasks), n)

	var wg sync.WaitGroup
	for w := 0; w < n; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				select {
				case <-ctx.Done():
					return
				case t, ok := <-taskCh:
					if !ok {
						return
					}
					pm, err := r.Run(ctx, t)
					out <- Result{Task: t, Map: pm, Err: err}
				}
			}
		}()
	}

	go func() {
		defer close(taskCh)
		for _, t := range tasks {
			select {
			case <-ctx.Done():
				return
			case taskCh <- t:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// #endregion pool
