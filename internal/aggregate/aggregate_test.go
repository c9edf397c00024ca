package aggregate_test

import (
	"math"
	"testing"

	"github.com/benchsweep/benchsweep/internal/aggregate"
	"github.com/benchsweep/benchsweep/internal/config"
	"github.com/benchsweep/benchsweep/internal/extract"
	"github.com/benchsweep/benchsweep/internal/matrix"
)

func num(n float64) extract.Value { return extract.Value{Present: true, Number: n} }
func txt(s string) extract.Value  { return extract.Value{Present: true, Text: s} }
func missing() extract.Value      { return extract.Value{Reason: extract.NoMatch} }

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCollapseMeanAndStddev(t *testing.T) {
	stats, ok := aggregate.Collapse([]extract.Value{num(10), num(12), num(14)}, "number")
	if !ok {
		t.Fatal("want an aggregate")
	}
	if stats.Count != 3 {
		t.Errorf("count: got %d, want 3", stats.Count)
	}
	if !near(stats.Mean, 12) {
		t.Errorf("mean: got %v, want 12", stats.Mean)
	}
	if !near(stats.Stddev, 2) {
		t.Errorf("stddev: got %v, want 2", stats.Stddev)
	}
}

func TestCollapseSingleValue(t *testing.T) {
	stats, ok := aggregate.Collapse([]extract.Value{num(5)}, "number")
	if !ok {
		t.Fatal("want an aggregate")
	}
	if stats.Count != 1 || !near(stats.Mean, 5) || stats.Stddev != 0 {
		t.Errorf("got %+v, want count 1, mean 5, stddev 0", stats)
	}
}

func TestCollapseSkipsMissing(t *testing.T) {
	stats, ok := aggregate.Collapse([]extract.Value{num(10), missing(), num(14)}, "number")
	if !ok {
		t.Fatal("want an aggregate")
	}
	if stats.Count != 2 {
		t.Errorf("count: got %d, want 2", stats.Count)
	}
	if !near(stats.Mean, 12) {
		t.Errorf("mean: got %v, want 12", stats.Mean)
	}
	if !near(stats.Stddev, math.Sqrt(8)) {
		t.Errorf("stddev: got %v, want sqrt(8)", stats.Stddev)
	}
}

func TestCollapseAllMissing(t *testing.T) {
	if _, ok := aggregate.Collapse([]extract.Value{missing(), missing()}, "number"); ok {
		t.Error("all-missing series should produce no aggregate")
	}
}

func TestCollapseText(t *testing.T) {
	stats, ok := aggregate.Collapse([]extract.Value{missing(), txt("gcc"), txt("clang")}, "text")
	if !ok {
		t.Fatal("want an aggregate")
	}
	if stats.Text != "gcc" {
		t.Errorf("text: got %q, want first present value", stats.Text)
	}
	if stats.Count != 2 {
		t.Errorf("count: got %d, want 2", stats.Count)
	}
}

func TestGroupRuns(t *testing.T) {
	reruns := 2
	bench := &config.Bench{
		Name:             "scaling",
		RunConfiguration: "cpp-hybrid",
		Reruns:           &reruns,
		Matrix:           []config.Axis{{Name: "threads", Values: []string{"1", "2"}}},
	}
	instances, err := matrix.Expand(bench, &config.RunConfiguration{RunCommand: "./solver"})
	if err != nil {
		t.Fatal(err)
	}

	groups := aggregate.GroupRuns(instances)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	wantKeys := []string{"scaling__threads=1", "scaling__threads=2"}
	for i, g := range groups {
		if g.Key != wantKeys[i] {
			t.Errorf("group %d: got key %q, want %q", i, g.Key, wantKeys[i])
		}
		if len(g.Runs) != 2 {
			t.Errorf("group %d: got %d runs, want 2", i, len(g.Runs))
		}
		for r, inst := range g.Runs {
			if inst.Rerun != r {
				t.Errorf("group %d run %d: rerun index %d out of order", i, r, inst.Rerun)
			}
		}
		if len(g.Values) != 1 || g.Values[0].Axis != "threads" {
			t.Errorf("group %d: values not carried: %v", i, g.Values)
		}
	}
}
