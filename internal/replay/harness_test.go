package replay

import (
	"testing"

	"github.com/openhazard/engine/internal/config"
)

// faultDef is a small fault with rates high enough that sampling at 10
// repeats over 50 years virtually always draws occurrences.
func faultDef(id string) config.SourceDef {
	return config.SourceDef{
		ID:             id,
		Name:           "replay fault",
		Kind:           "fault",
		TectonicRegion: "Active Shallow Crust",
		Trace:          []config.PointDef{{Lon: 0, Lat: 0}, {Lon: 0.3, Lat: 0}},
		Dip:            60,
		Rake:           90,
		LowerDepth:     15,
		MFD: []config.MagRateDef{
			{Mag: 5.5, Rate: 0.02},
			{Mag: 6.0, Rate: 0.01},
			{Mag: 6.5, Rate: 0.004},
		},
		MeshSpacing: 2,
		AspectRatio: 1.5,
	}
}

func nonParametricDef(id string) config.SourceDef {
	return config.SourceDef{
		ID:             id,
		Name:           "replay cluster",
		Kind:           "nonparametric",
		TectonicRegion: "Subduction Interface",
		MutexWeight:    0.8,
		Ruptures: []config.RuptureDef{
			{Mag: 7.5, Strike: 30, Dip: 20, Rake: 90,
				Hypo: config.PointDef{Lon: 1, Lat: 1, Depth: 25}, ProbsOcc: []float64{0.2, 0.5, 0.3}},
			{Mag: 8.0, Strike: 30, Dip: 20, Rake: 90,
				Hypo: config.PointDef{Lon: 1.2, Lat: 1, Depth: 30}, ProbsOcc: []float64{0.5, 0.4, 0.1}},
		},
	}
}

func record(t *testing.T, def config.SourceDef, serial int64) *Fixture {
	t.Helper()
	fix, err := Record("test fixture", 50, 10, def, FixturePlacement{GroupID: 2, Serial: serial})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	return fix
}

// #region harness-tests

func TestRecordThenRunReproduces(t *testing.T) {
	fix := record(t, faultDef("flt-h"), 42)
	if len(fix.Expected) == 0 {
		t.Fatal("no draws recorded")
	}
	res, err := Run(fix)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.OK() {
		t.Fatalf("fresh fixture does not replay: %+v", res.Mismatches)
	}
}

func TestRunNonParametricWithThinning(t *testing.T) {
	fix := record(t, nonParametricDef("np-h"), 99)
	res, err := Run(fix)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.OK() {
		t.Fatalf("thinned sampling does not replay: %+v", res.Mismatches)
	}
}

func TestRunDetectsCountDrift(t *testing.T) {
	fix := record(t, faultDef("flt-d"), 42)
	if len(fix.Expected) == 0 {
		t.Fatal("no draws recorded")
	}
	fix.Expected[0].Count++

	res, err := Run(fix)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.OK() {
		t.Fatal("corrupted count not detected")
	}
	if len(res.Mismatches) != 1 || res.Mismatches[0].Field != "count" || res.Mismatches[0].Index != 0 {
		t.Fatalf("mismatches = %+v", res.Mismatches)
	}
}

func TestRunDetectsProbaDrift(t *testing.T) {
	fix := record(t, faultDef("flt-p"), 42)
	last := len(fix.Expected) - 1
	fix.Expected[last].Proba = -1

	res, err := Run(fix)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.OK() {
		t.Fatal("corrupted probability not detected")
	}
	if res.Mismatches[0].Field != "proba" || res.Mismatches[0].Index != last {
		t.Fatalf("mismatches = %+v", res.Mismatches)
	}
}

func TestRunDetectsMissingDraws(t *testing.T) {
	fix := record(t, faultDef("flt-l"), 42)
	if len(fix.Expected) < 2 {
		t.Skip("fixture too small to truncate")
	}
	fix.Expected = fix.Expected[:len(fix.Expected)-1]

	res, err := Run(fix)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.OK() {
		t.Fatal("truncated expectations not detected")
	}
	found := false
	for _, m := range res.Mismatches {
		if m.Field == "draws" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no draws mismatch reported: %+v", res.Mismatches)
	}
}

func TestSerialChangesDraws(t *testing.T) {
	a := record(t, faultDef("flt-s"), 42)
	b := record(t, faultDef("flt-s"), 43)
	if len(a.Expected) == 0 || len(b.Expected) == 0 {
		t.Fatal("no draws recorded")
	}
	same := len(a.Expected) == len(b.Expected)
	if same {
		for i := range a.Expected {
			if a.Expected[i].Count != b.Expected[i].Count || a.Expected[i].Proba != b.Expected[i].Proba {
				same = false
				break
			}
		}
	}
	if same {
		t.Fatal("different serials produced identical draw streams")
	}
}

// #endregion harness-tests
