package results

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openhazard/engine/internal/calc"
	"github.com/openhazard/engine/internal/probmap"
	"github.com/openhazard/engine/internal/source"
)

func tempStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleOutput() *calc.Output {
	acc := probmap.NewAccum()

	pm0 := probmap.New(3, 1)
	copy(pm0.CurveFor(0), []float64{0.5, 0.25, 0.125})
	copy(pm0.CurveFor(2), []float64{0.4, 0.2, 0.1})
	pm0.AddEffRuptures(0, 12)
	acc.Fold(0, pm0)

	pm1 := probmap.New(3, 1)
	copy(pm1.CurveFor(0), []float64{0.9, 0.8, 0.7})
	pm1.AddEffRuptures(1, 3)
	acc.Fold(1, pm1)

	return &calc.Output{
		Acc: acc,
		SourceInfo: []calc.SourceInfo{
			{SourceID: "flt-1", Branch: 0, GroupID: 0, Kind: source.KindFault,
				Weight: 4, NumRuptures: 4, Serial: 1, Sites: 2, Seconds: 0.25},
			{SourceID: "bg-1", Branch: 1, GroupID: 1, Kind: source.KindMultiPoint,
				Weight: 1, NumRuptures: 3, Serial: 5, Sites: 2, Seconds: 0.05},
		},
		BranchWeights: map[int]float64{0: 0.7, 1: 0.3},
		Duration:      120 * time.Millisecond,
	}
}

func TestJobLifecycle(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	job := NewJob("two branch demo", 3, 1, 50)
	if job.ID == "" || job.Status != StatusRunning {
		t.Fatalf("NewJob = %+v", job)
	}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Description != "two branch demo" || got.Levels != 3 || got.Models != 1 || got.TimeSpan != 50 {
		t.Fatalf("round trip = %+v", got)
	}
	if !got.StoppedAt.IsZero() {
		t.Fatalf("running job has stop time %v", got.StoppedAt)
	}

	if err := s.FinishJob(ctx, job.ID, StatusComplete); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}
	got, err = s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob after finish: %v", err)
	}
	if got.Status != StatusComplete || got.StoppedAt.IsZero() {
		t.Fatalf("finished job = %+v", got)
	}

	if err := s.FinishJob(ctx, "no-such-job", StatusFailed); err == nil {
		t.Fatal("finishing an unknown job succeeded")
	}
}

func TestSaveAndReadOutput(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	job := NewJob("output round trip", 3, 1, 50)
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	out := sampleOutput()
	if err := s.SaveOutput(ctx, job.ID, out); err != nil {
		t.Fatalf("SaveOutput: %v", err)
	}

	n, err := s.CurveCount(ctx, job.ID)
	if err != nil {
		t.Fatalf("CurveCount: %v", err)
	}
	if n != 3 {
		t.Fatalf("curve count = %d, want 3", n)
	}

	groups, err := s.GroupResults(ctx, job.ID)
	if err != nil {
		t.Fatalf("GroupResults: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	g0 := groups[0]
	if g0.GroupID != 0 || g0.Weight != 0.7 || g0.EffRuptures != 12 {
		t.Fatalf("group 0 = %+v", g0)
	}
	// Float64 blobs round-trip bit exact.
	want := []float64{0.5, 0.25, 0.125}
	for i, p := range g0.Curves[0] {
		if p != want[i] {
			t.Fatalf("group 0 site 0 curve = %v, want %v", g0.Curves[0], want)
		}
	}
	if len(g0.Curves) != 2 {
		t.Fatalf("group 0 has %d curves, want 2", len(g0.Curves))
	}
	g1 := groups[1]
	if g1.GroupID != 1 || g1.EffRuptures != 3 || len(g1.Curves) != 1 {
		t.Fatalf("group 1 = %+v", g1)
	}

	infos, err := s.SourceInfo(ctx, job.ID)
	if err != nil {
		t.Fatalf("SourceInfo: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("source info rows = %d, want 2", len(infos))
	}
	if infos[0].SourceID != "flt-1" || infos[0].Serial != 1 || infos[0].Kind != source.KindFault {
		t.Fatalf("row 0 = %+v", infos[0])
	}
	if infos[1].SourceID != "bg-1" || infos[1].Serial != 5 || infos[1].Kind != source.KindMultiPoint {
		t.Fatalf("row 1 = %+v", infos[1])
	}
}

func TestEvents(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	job := NewJob("event log", 1, 1, 1)
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.LogEvent(ctx, job.ID, "info", "dispatching 4 tasks"); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if err := s.LogEvent(ctx, job.ID, "error", "task 2 failed"); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	events, err := s.Events(ctx, job.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Level != "info" || events[0].Message != "dispatching 4 tasks" {
		t.Fatalf("event 0 = %+v", events[0])
	}
	if events[1].Level != "error" || events[1].ID <= events[0].ID {
		t.Fatalf("event 1 = %+v", events[1])
	}
	if events[0].CreatedAt.IsZero() {
		t.Fatal("event timestamp missing")
	}
}

func TestListJobsNewestFirst(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	older := NewJob("older", 1, 1, 1)
	older.CreatedAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := NewJob("newer", 1, 1, 1)
	newer.CreatedAt = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for _, job := range []Job{older, newer} {
		if err := s.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	jobs, err := s.ListJobs(ctx, 10)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 || jobs[0].Description != "newer" || jobs[1].Description != "older" {
		t.Fatalf("jobs = %+v", jobs)
	}

	jobs, err = s.ListJobs(ctx, 1)
	if err != nil {
		t.Fatalf("ListJobs limit: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Description != "newer" {
		t.Fatalf("limited jobs = %+v", jobs)
	}
}

func TestOpenSelectsSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "open.db")
	s, err := Open(context.Background(), "sqlite://"+path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Fatalf("Open returned %T, want *SQLiteStore", s)
	}

	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatal("empty DSN accepted")
	}
}

func TestCurveBlobRoundTrip(t *testing.T) {
	in := []float64{0, 1, 0.5, 1e-300, 0.9999999999999999}
	got := decodeCurve(encodeCurve(in))
	if len(got) != len(in) {
		t.Fatalf("decoded %d values, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("value %d: %g != %g", i, got[i], in[i])
		}
	}
}
