// Package results persists hazard runs: the job record, the computed curves
// per group and site, per-source diagnostics, and a run event log. Two
// backends implement the same Store interface, an embedded SQLite file for
// single-host runs and PostgreSQL for shared deployments; the DSN scheme
// selects one.
package results

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openhazard/engine/internal/calc"
)

// #region types

// Job statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Job is one hazard run record.
type Job struct {
	ID          string
	Description string
	Status      string
	Levels      int
	Models      int
	TimeSpan    float64
	CreatedAt   time.Time
	StoppedAt   time.Time // zero while running
}

// NewJob mints a job record in the running state.
func NewJob(description string, levels, models int, timeSpan float64) Job {
	return Job{
		ID:          uuid.New().String(),
		Description: description,
		Status:      StatusRunning,
		Levels:      levels,
		Models:      models,
		TimeSpan:    timeSpan,
		CreatedAt:   time.Now().UTC(),
	}
}

// Event is one run log line.
type Event struct {
	ID        int64
	JobID     string
	Level     string
	Message   string
	CreatedAt time.Time
}

// GroupResult is the stored outcome of one source group: its branch weight,
// effective rupture count, and the site curves.
type GroupResult struct {
	GroupID     int
	Weight      float64
	EffRuptures int64
	Curves      map[int][]float64
}

// #endregion types

// #region store

// Store persists and reads back hazard runs.
type Store interface {
	EnsureSchema(ctx context.Context) error
	CreateJob(ctx context.Context, job Job) error
	FinishJob(ctx context.Context, jobID, status string) error
	SaveOutput(ctx context.Context, jobID string, out *calc.Output) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, limit int) ([]Job, error)
	GroupResults(ctx context.Context, jobID string) ([]GroupResult, error)
	SourceInfo(ctx context.Context, jobID string) ([]calc.SourceInfo, error)
	CurveCount(ctx context.Context, jobID string) (int, error)
	LogEvent(ctx context.Context, jobID, level, message string) error
	Events(ctx context.Context, jobID string) ([]Event, error)
	Close() error
}

// Open selects a backend by DSN scheme: postgres:// or postgresql:// opens a
// PostgreSQL pool, anything else is treated as a SQLite location (a
// sqlite:// URL or a bare file path).
func Open(ctx context.Context, dsn string) (Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty store DSN")
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return OpenPostgres(ctx, dsn)
	}
	return OpenSQLite(strings.TrimPrefix(dsn, "sqlite://"))
}

// #endregion store

// #region rows

type groupRow struct {
	grp    int
	weight float64
	eff    int64
}

type curveRow struct {
	grp  int
	site int
	poes []byte
}

// outputRows flattens a run output into insert-ready rows, groups and sites
// in increasing order so writes are deterministic.
func outputRows(out *calc.Output) ([]groupRow, []curveRow) {
	grps := make([]int, 0, len(out.Acc.ByGroup))
	for grp := range out.Acc.ByGroup {
		grps = append(grps, grp)
	}
	sort.Ints(grps)

	var groups []groupRow
	var crs []curveRow
	for _, grp := range grps {
		pm := out.Acc.ByGroup[grp]
		var eff int64
		for _, n := range pm.EffRuptures {
			eff += n
		}
		groups = append(groups, groupRow{grp: grp, weight: out.BranchWeights[grp], eff: eff})
		for _, site := range pm.Sites() {
			crs = append(crs, curveRow{grp: grp, site: site, poes: encodeCurve(pm.Data[site])})
		}
	}
	return groups, crs
}

// #endregion rows

// #region curve-encoding

func encodeCurve(c []float64) []byte {
	buf := make([]byte, len(c)*8)
	for i, p := range c {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(p))
	}
	return buf
}

func decodeCurve(b []byte) []float64 {
	c := make([]float64, len(b)/8)
	for i := range c {
		c[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return c
}

// #endregion curve-encoding
