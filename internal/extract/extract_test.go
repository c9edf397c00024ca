package extract_test

import (
	"testing"

	"github.com/benchsweep/benchsweep/internal/config"
	"github.com/benchsweep/benchsweep/internal/extract"
	"github.com/benchsweep/benchsweep/internal/matrix"
	"github.com/benchsweep/benchsweep/internal/store"
	"github.com/benchsweep/benchsweep/internal/track"
)

func newInstance() *matrix.RunInstance {
	inst := &matrix.RunInstance{
		Bench:  "scaling",
		Config: "cpp-hybrid",
		Values: []matrix.Assignment{{Axis: "threads", Value: "4"}},
	}
	inst.ID = inst.BenchKey() + "__" + inst.Leaf()
	return inst
}

// recordedResult claims a fresh instance, records it in the given state
// and loads it back with the given artifacts persisted.
func recordedResult(t *testing.T, state track.State, stdout, stderr []byte, outputs map[string][]byte) *store.Result {
	t.Helper()
	s := store.New(t.TempDir())
	inst := newInstance()
	if err := s.Claim(inst); err != nil {
		t.Fatal(err)
	}
	rec := store.NewRecord(inst)
	rec.State = state
	if err := s.WriteRecord(inst, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.Persist(inst, stdout, stderr, outputs); err != nil {
		t.Fatal(err)
	}
	res, err := s.Load(inst)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestExtractNumberFirstMatch(t *testing.T) {
	res := recordedResult(t, track.Completed,
		[]byte("warming up\nreal 1.23\nreal 9.99\n"), nil, nil)
	m := &config.Metric{Name: "wall_time", Pattern: `real (\d+\.\d+)`, Target: "stdout", Type: "number"}

	v := extract.Metric(res, m)
	if !v.Present {
		t.Fatalf("want present value, got reason %v", v.Reason)
	}
	if v.Number != 1.23 {
		t.Errorf("number: got %v, want 1.23 (first match)", v.Number)
	}
}

func TestExtractText(t *testing.T) {
	res := recordedResult(t, track.Completed,
		[]byte("compiler: gcc-12\n"), nil, nil)
	m := &config.Metric{Name: "compiler", Pattern: `compiler: (\S+)`, Target: "stdout", Type: "text"}

	v := extract.Metric(res, m)
	if !v.Present || v.Text != "gcc-12" {
		t.Errorf("got %+v, want text gcc-12", v)
	}
}

func TestExtractFromStderr(t *testing.T) {
	res := recordedResult(t, track.Completed,
		[]byte("no timings here\n"), []byte("real 4.50\n"), nil)
	m := &config.Metric{Name: "wall_time", Pattern: `real (\d+\.\d+)`, Target: "stderr", Type: "number"}

	v := extract.Metric(res, m)
	if !v.Present || v.Number != 4.5 {
		t.Errorf("got %+v, want 4.5 from stderr", v)
	}
}

func TestExtractFromOutputFile(t *testing.T) {
	res := recordedResult(t, track.Completed, []byte(""), nil, map[string][]byte{
		"flops.txt": []byte("gflops=17.5\n"),
	})
	m := &config.Metric{Name: "gflops", Pattern: `gflops=(\S+)`, Target: "file:flops.txt", Type: "number"}

	v := extract.Metric(res, m)
	if !v.Present || v.Number != 17.5 {
		t.Errorf("got %+v, want 17.5 from flops.txt", v)
	}
}

func TestExtractNotCompleted(t *testing.T) {
	res := recordedResult(t, track.Running, []byte("real 1.23\n"), nil, nil)
	m := &config.Metric{Name: "wall_time", Pattern: `real (\d+\.\d+)`, Target: "stdout", Type: "number"}

	v := extract.Metric(res, m)
	if v.Present || v.Reason != extract.NotCompleted {
		t.Errorf("got %+v, want missing with NotCompleted", v)
	}
}

func TestExtractNeverRecorded(t *testing.T) {
	m := &config.Metric{Name: "wall_time", Pattern: `real (\d+\.\d+)`, Target: "stdout", Type: "number"}
	v := extract.Metric(nil, m)
	if v.Present || v.Reason != extract.NotCompleted {
		t.Errorf("got %+v, want missing with NotCompleted", v)
	}
}

func TestExtractMissingArtifacts(t *testing.T) {
	res := recordedResult(t, track.Completed, nil, nil, nil)

	for _, m := range []*config.Metric{
		{Name: "wall_time", Pattern: `real (\d+\.\d+)`, Target: "stdout", Type: "number"},
		{Name: "wall_time", Pattern: `real (\d+\.\d+)`, Target: "stderr", Type: "number"},
		{Name: "gflops", Pattern: `gflops=(\S+)`, Target: "file:flops.txt", Type: "number"},
	} {
		v := extract.Metric(res, m)
		if v.Present || v.Reason != extract.NoArtifact {
			t.Errorf("%s: got %+v, want missing with NoArtifact", m.Target, v)
		}
	}
}

func TestExtractNoMatch(t *testing.T) {
	res := recordedResult(t, track.Completed, []byte("nothing useful\n"), nil, nil)
	m := &config.Metric{Name: "wall_time", Pattern: `real (\d+\.\d+)`, Target: "stdout", Type: "number"}

	v := extract.Metric(res, m)
	if v.Present || v.Reason != extract.NoMatch {
		t.Errorf("got %+v, want missing with NoMatch", v)
	}
}

func TestExtractBadNumber(t *testing.T) {
	res := recordedResult(t, track.Completed, []byte("mode: turbo\n"), nil, nil)
	m := &config.Metric{Name: "mode", Pattern: `mode: (\S+)`, Target: "stdout", Type: "number"}

	v := extract.Metric(res, m)
	if v.Present || v.Reason != extract.BadNumber {
		t.Errorf("got %+v, want missing with BadNumber", v)
	}
}
