package curves

import (
	"testing"

	"github.com/openhazard/engine/internal/gmpe"
	"github.com/openhazard/engine/internal/probmap"
	"github.com/openhazard/engine/internal/sitefilter"
	"github.com/openhazard/engine/internal/source"
	"gonum.org/v1/gonum/floats"
)

func makeFault(t *testing.T) *source.FaultSource {
	t.Helper()
	src, err := source.NewFault(source.FaultSpec{
		ID:             "flt-c",
		Name:           "curve fault",
		TectonicRegion: "Active Shallow Crust",
		MFD: source.DiscreteMFD{Bins: []source.MagRate{
			{Mag: 5.5, Rate: 0.02},
			{Mag: 6.0, Rate: 0.01},
			{Mag: 6.5, Rate: 0.004},
			{Mag: 7.0, Rate: 0.001},
		}},
		Trace:       []source.Point{{Lon: 0, Lat: 0}, {Lon: 0.3, Lat: 0}},
		Dip:         60,
		Rake:        90,
		UpperDepth:  0,
		LowerDepth:  15,
		MeshSpacing: 2,
		AspectRatio: 1.5,
		TimeSpan:    50,
	})
	if err != nil {
		t.Fatalf("NewFault: %v", err)
	}
	return src
}

func makeEvaluator(t *testing.T) *gmpe.Evaluator {
	t.Helper()
	ev, err := gmpe.NewEvaluator(
		[]gmpe.GroundMotionModel{gmpe.BackboneGMPE{}},
		[]gmpe.IMTLevels{{IMT: "PGA", Levels: []float64{0.05, 0.1, 0.2, 0.4}}},
		3,
	)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return ev
}

func nearSites() *sitefilter.Collection {
	return sitefilter.NewCollection([]sitefilter.Site{
		{Lon: 0.1, Lat: 0.1, Vs30: 760},
		{Lon: 0.2, Lat: -0.1, Vs30: 400},
	})
}

var testDist = sitefilter.IntegrationDistance{Default: 200}

func build(t *testing.T, in Input) *probmap.Map {
	t.Helper()
	pm, err := Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return pm
}

func TestBuildWholeSource(t *testing.T) {
	src := makeFault(t)
	pm := build(t, Input{
		Source:      src,
		Sites:       nearSites(),
		MaxDistance: testDist,
		Evaluator:   makeEvaluator(t),
		GroupID:     1,
	})

	if pm.EffRuptures[1] != 4 {
		t.Fatalf("eff ruptures = %d, want 4", pm.EffRuptures[1])
	}
	if len(pm.Data) != 2 {
		t.Fatalf("curves for %d sites, want 2", len(pm.Data))
	}
	for site, c := range pm.Data {
		// The lowest level stays strictly interior; upper levels may reach
		// exact zero once every rupture's epsilon crosses the truncation bound.
		if c[0] <= 0 || c[0] >= 1 {
			t.Fatalf("site %d poe[0] = %g, want strictly inside (0,1)", site, c[0])
		}
		for i, p := range c {
			if p < 0 || p >= 1 {
				t.Fatalf("site %d poe[%d] = %g, want within [0,1)", site, i, p)
			}
			if i > 0 && c[i] > c[i-1] {
				t.Fatalf("site %d: poe grows with level at %d", site, i)
			}
		}
	}
	if len(pm.CalcTimes) != 1 || pm.CalcTimes[0].SourceID != "flt-c" || pm.CalcTimes[0].Sites != 2 {
		t.Fatalf("timing sample = %+v", pm.CalcTimes)
	}
}

func TestBuildPartitionInvariance(t *testing.T) {
	src := makeFault(t)
	ev := makeEvaluator(t)
	sites := nearSites()

	whole := build(t, Input{Source: src, Sites: sites, MaxDistance: testDist, Evaluator: ev, GroupID: 1})

	left := build(t, Input{Source: src, RupIndices: []int{0, 1}, Sites: sites, MaxDistance: testDist, Evaluator: ev, GroupID: 1})
	right := build(t, Input{Source: src, RupIndices: []int{2, 3}, Sites: sites, MaxDistance: testDist, Evaluator: ev, GroupID: 1})
	if err := left.Merge(right); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if left.EffRuptures[1] != whole.EffRuptures[1] {
		t.Fatalf("eff ruptures: merged %d, whole %d", left.EffRuptures[1], whole.EffRuptures[1])
	}
	for site, wc := range whole.Data {
		mc, ok := left.Data[site]
		if !ok {
			t.Fatalf("site %d missing from merged map", site)
		}
		if !floats.EqualApprox(mc, wc, 1e-12) {
			t.Fatalf("site %d: merged %v, whole %v", site, mc, wc)
		}
	}
}

func TestBuildSubsetCountsOnlySubset(t *testing.T) {
	pm := build(t, Input{
		Source:      makeFault(t),
		RupIndices:  []int{1, 3},
		Sites:       nearSites(),
		MaxDistance: testDist,
		Evaluator:   makeEvaluator(t),
		GroupID:     5,
	})
	if pm.EffRuptures[5] != 2 {
		t.Fatalf("eff ruptures = %d, want 2", pm.EffRuptures[5])
	}
}

func TestBuildEmptySitesFastPath(t *testing.T) {
	far := sitefilter.NewCollection([]sitefilter.Site{{Lon: 50, Lat: 50}})
	pm := build(t, Input{
		Source:      makeFault(t),
		Sites:       far,
		MaxDistance: testDist,
		Evaluator:   makeEvaluator(t),
		GroupID:     3,
	})
	if len(pm.Data) != 0 {
		t.Fatalf("identity map expected, got %d curves", len(pm.Data))
	}
	n, ok := pm.EffRuptures[3]
	if !ok {
		t.Fatal("group must be present with a zero count")
	}
	if n != 0 {
		t.Fatalf("eff ruptures = %d, want 0", n)
	}
	if len(pm.CalcTimes) != 0 {
		t.Fatal("fast path must not record timing samples")
	}
}

func TestBuildGroupMergesSources(t *testing.T) {
	bg1, err := source.NewMultiPoint(source.MultiPointSpec{
		ID:             "bg-1",
		TectonicRegion: "Stable Continental",
		MFD:            source.DiscreteMFD{Bins: []source.MagRate{{Mag: 5, Rate: 0.05}}},
		Locations:      []source.Point{{Lon: 0.1, Lat: 0}},
		NodalPlanes:    []source.NodalPlaneWeight{{Prob: 1, Plane: source.NodalPlane{Strike: 0, Dip: 90}}},
		HypoDepths:     []source.HypoDepthWeight{{Prob: 1, Depth: 8}},
		MeshSpacing:    5,
		AspectRatio:    1,
		TimeSpan:       50,
	})
	if err != nil {
		t.Fatalf("NewMultiPoint: %v", err)
	}
	srcs := []source.Source{makeFault(t), bg1}

	pm, err := BuildGroup(srcs, nearSites(), testDist, makeEvaluator(t), 2)
	if err != nil {
		t.Fatalf("BuildGroup: %v", err)
	}
	if pm.EffRuptures[2] != 5 {
		t.Fatalf("eff ruptures = %d, want 5", pm.EffRuptures[2])
	}
	if len(pm.CalcTimes) != 2 {
		t.Fatalf("timing samples = %d, want 2", len(pm.CalcTimes))
	}
}
