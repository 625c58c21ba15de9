package probmap

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
)

func mapWith(t *testing.T, curves map[int][]float64) *Map {
	t.Helper()
	m := New(2, 2)
	for site, vals := range curves {
		if len(vals) != 4 {
			t.Fatalf("site %d: want 4 values, got %d", site, len(vals))
		}
		copy(m.CurveFor(site), vals)
	}
	return m
}

func assertSameCurves(t *testing.T, got, want *Map) {
	t.Helper()
	if len(got.Data) != len(want.Data) {
		t.Fatalf("site sets differ: %d vs %d", len(got.Data), len(want.Data))
	}
	for site, wc := range want.Data {
		gc, ok := got.Data[site]
		if !ok {
			t.Fatalf("site %d missing", site)
		}
		if !floats.EqualApprox(gc, wc, 1e-12) {
			t.Fatalf("site %d: got %v, want %v", site, gc, wc)
		}
	}
}

func TestMergeCommutative(t *testing.T) {
	mk := func() (*Map, *Map) {
		a := mapWith(t, map[int][]float64{
			0: {0.1, 0.2, 0.3, 0.4},
			1: {0.05, 0, 0.5, 0.9},
		})
		b := mapWith(t, map[int][]float64{
			1: {0.2, 0.1, 0, 0.7},
			2: {0.6, 0.6, 0.6, 0.6},
		})
		return a, b
	}

	a1, b1 := mk()
	if err := a1.Merge(b1); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	a2, b2 := mk()
	if err := b2.Merge(a2); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	assertSameCurves(t, a1, b2)
}

func TestMergeAssociative(t *testing.T) {
	mk := func() (*Map, *Map, *Map) {
		a := mapWith(t, map[int][]float64{0: {0.1, 0.2, 0.3, 0.4}})
		b := mapWith(t, map[int][]float64{0: {0.25, 0.5, 0.05, 0.8}, 1: {0.3, 0, 0, 0.1}})
		c := mapWith(t, map[int][]float64{0: {0.5, 0.5, 0.5, 0.5}, 1: {0, 0.2, 0.9, 0}})
		return a, b, c
	}

	// (a+b)+c
	a1, b1, c1 := mk()
	if err := a1.Merge(b1); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := a1.Merge(c1); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	// a+(b+c)
	a2, b2, c2 := mk()
	if err := b2.Merge(c2); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := a2.Merge(b2); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	assertSameCurves(t, a1, a2)
}

func TestMergeIdentity(t *testing.T) {
	a := mapWith(t, map[int][]float64{0: {0.1, 0.2, 0.3, 0.4}, 5: {0.9, 0.1, 0, 1}})
	want := a.Clone()

	identity := New(2, 2)
	if err := a.Merge(identity); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	assertSameCurves(t, a, want)

	identity = New(2, 2)
	if err := identity.Merge(a); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	assertSameCurves(t, identity, want)
}

func TestMergeFormula(t *testing.T) {
	a := mapWith(t, map[int][]float64{0: {0.3, 0, 0.5, 1}})
	b := mapWith(t, map[int][]float64{0: {0.4, 0.2, 0.5, 0.5}})
	if err := a.Merge(b); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	want := []float64{
		1 - 0.7*0.6, // 0.58
		1 - 1.0*0.8,
		1 - 0.5*0.5,
		1,
	}
	if !floats.EqualApprox([]float64(a.Data[0]), want, 1e-15) {
		t.Fatalf("merged curve = %v, want %v", a.Data[0], want)
	}
}

func TestMergeShapeMismatch(t *testing.T) {
	a := New(2, 2)
	b := New(3, 2)
	if err := a.Merge(b); err == nil {
		t.Fatal("shape mismatch accepted")
	}
}

func TestMergeAccounting(t *testing.T) {
	a := New(2, 2)
	a.AddEffRuptures(1, 10)
	a.CalcTimes = append(a.CalcTimes, Timing{SourceID: "s1", Sites: 4, Seconds: 0.5})

	b := New(2, 2)
	b.AddEffRuptures(1, 5)
	b.AddEffRuptures(2, 7)
	b.CalcTimes = append(b.CalcTimes, Timing{SourceID: "s2", Sites: 2, Seconds: 0.1})

	if err := a.Merge(b); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if a.EffRuptures[1] != 15 || a.EffRuptures[2] != 7 {
		t.Fatalf("eff ruptures = %v, want {1:15, 2:7}", a.EffRuptures)
	}
	if len(a.CalcTimes) != 2 {
		t.Fatalf("calc times = %d entries, want 2", len(a.CalcTimes))
	}
}

func TestMulNoExceed(t *testing.T) {
	m := New(2, 1)
	if err := m.MulNoExceed(3, []float64{0.9, 0.5}); err != nil {
		t.Fatalf("MulNoExceed: %v", err)
	}
	if err := m.MulNoExceed(3, []float64{0.8, 0.5}); err != nil {
		t.Fatalf("MulNoExceed: %v", err)
	}
	c := m.Data[3]
	if math.Abs(c[0]-(1-0.9*0.8)) > 1e-15 {
		t.Fatalf("c[0] = %g, want %g", c[0], 1-0.9*0.8)
	}
	if math.Abs(c[1]-0.75) > 1e-15 {
		t.Fatalf("c[1] = %g, want 0.75", c[1])
	}

	if err := m.MulNoExceed(3, []float64{0.9}); err == nil {
		t.Fatal("wrong-length array accepted")
	}
}

func TestMulNoExceedEqualsMerge(t *testing.T) {
	// Folding rupture contributions one by one must equal merging the
	// per-rupture maps, in any grouping.
	pnes := [][]float64{{0.9, 0.7}, {0.5, 0.99}, {0.8, 0.8}}

	direct := New(2, 1)
	for _, pne := range pnes {
		if err := direct.MulNoExceed(0, pne); err != nil {
			t.Fatalf("MulNoExceed: %v", err)
		}
	}

	merged := New(2, 1)
	for _, pne := range pnes {
		part := New(2, 1)
		if err := part.MulNoExceed(0, pne); err != nil {
			t.Fatalf("MulNoExceed: %v", err)
		}
		if err := merged.Merge(part); err != nil {
			t.Fatalf("Merge: %v", err)
		}
	}
	assertSameCurves(t, merged, direct)
}

func TestCloneIndependent(t *testing.T) {
	a := mapWith(t, map[int][]float64{0: {0.1, 0.2, 0.3, 0.4}})
	c := a.Clone()
	a.Data[0][0] = 0.99
	if c.Data[0][0] != 0.1 {
		t.Fatalf("clone shares curve storage: %g", c.Data[0][0])
	}
}

func TestAccumFoldUnion(t *testing.T) {
	acc := NewAccum()
	m1 := mapWith(t, map[int][]float64{0: {0.1, 0.1, 0.1, 0.1}})
	m1.AddEffRuptures(1, 3)
	m2 := mapWith(t, map[int][]float64{0: {0.2, 0.2, 0.2, 0.2}})
	m2.AddEffRuptures(1, 4)
	m3 := mapWith(t, map[int][]float64{7: {0.5, 0, 0, 0}})
	m3.AddEffRuptures(2, 1)

	if err := acc.Fold(1, m1); err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if err := acc.Fold(1, m2); err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if err := acc.Fold(2, m3); err != nil {
		t.Fatalf("Fold: %v", err)
	}

	if len(acc.ByGroup) != 2 {
		t.Fatalf("groups = %d, want 2", len(acc.ByGroup))
	}
	got := acc.ByGroup[1].Data[0][0]
	want := 1 - 0.9*0.8
	if math.Abs(got-want) > 1e-15 {
		t.Fatalf("group 1 site 0 = %g, want %g", got, want)
	}
	if acc.EffRuptures() != 8 {
		t.Fatalf("total eff ruptures = %d, want 8", acc.EffRuptures())
	}
}

func TestAccumMergeTreatsAbsentAsIdentity(t *testing.T) {
	left := NewAccum()
	if err := left.Fold(1, mapWith(t, map[int][]float64{0: {0.3, 0, 0, 0}})); err != nil {
		t.Fatalf("Fold: %v", err)
	}
	right := NewAccum()
	if err := right.Fold(2, mapWith(t, map[int][]float64{1: {0.4, 0, 0, 0}})); err != nil {
		t.Fatalf("Fold: %v", err)
	}

	if err := left.Merge(right); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(left.ByGroup) != 2 {
		t.Fatalf("groups = %d, want 2", len(left.ByGroup))
	}
	if left.ByGroup[1].Data[0][0] != 0.3 || left.ByGroup[2].Data[1][0] != 0.4 {
		t.Fatal("merged accumulator lost a group's curves")
	}
}
