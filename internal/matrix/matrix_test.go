package matrix_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/benchsweep/benchsweep/internal/config"
	"github.com/benchsweep/benchsweep/internal/matrix"
)

func bench(name string, reruns int, axes ...config.Axis) *config.Bench {
	return &config.Bench{
		Name:             name,
		RunConfiguration: "base",
		Reruns:           &reruns,
		Matrix:           axes,
	}
}

func TestExpandCountAndOrder(t *testing.T) {
	b := bench("scaling", 2, config.Axis{Name: "threads", Values: []string{"1", "2", "4"}})
	rc := &config.RunConfiguration{RunCommand: "./bin/solver"}

	instances, err := matrix.Expand(b, rc)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(instances) != 6 {
		t.Fatalf("expected 6 instances, got %d", len(instances))
	}

	want := []string{
		"scaling__threads=1__r0",
		"scaling__threads=1__r1",
		"scaling__threads=2__r0",
		"scaling__threads=2__r1",
		"scaling__threads=4__r0",
		"scaling__threads=4__r1",
	}
	for i, inst := range instances {
		if inst.ID != want[i] {
			t.Errorf("instance %d: got %q, want %q", i, inst.ID, want[i])
		}
	}

	groups := make(map[string]int)
	for _, inst := range instances {
		groups[inst.GroupKey()]++
	}
	if len(groups) != 3 {
		t.Errorf("expected 3 groups, got %d", len(groups))
	}
	for key, n := range groups {
		if n != 2 {
			t.Errorf("group %q: expected 2 reruns, got %d", key, n)
		}
	}
}

func TestExpandRightmostAxisVariesFastest(t *testing.T) {
	b := bench("grid", 1,
		config.Axis{Name: "a", Values: []string{"1", "2"}},
		config.Axis{Name: "b", Values: []string{"x", "y"}},
	)
	instances, err := matrix.Expand(b, &config.RunConfiguration{RunCommand: "run"})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	want := []string{
		"grid__a=1,b=x__r0",
		"grid__a=1,b=y__r0",
		"grid__a=2,b=x__r0",
		"grid__a=2,b=y__r0",
	}
	for i, inst := range instances {
		if inst.ID != want[i] {
			t.Errorf("instance %d: got %q, want %q", i, inst.ID, want[i])
		}
	}
}

func TestExpandDeterministic(t *testing.T) {
	b := bench("det", 2,
		config.Axis{Name: "threads", Values: []string{"1", "8"}},
		config.Axis{Name: "size", Values: []string{"512", "1024"}},
	)
	rc := &config.RunConfiguration{RunCommand: "run -t {threads} -n {size}"}

	first, err := matrix.Expand(b, rc)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	second, err := matrix.Expand(b, rc)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	ids := func(in []*matrix.RunInstance) []string {
		out := make([]string, len(in))
		for i, inst := range in {
			out[i] = inst.ID
		}
		return out
	}
	if !reflect.DeepEqual(ids(first), ids(second)) {
		t.Errorf("expansions differ:\n%v\n%v", ids(first), ids(second))
	}
}

func TestExpandNoAxes(t *testing.T) {
	instances, err := matrix.Expand(bench("solo", 1), &config.RunConfiguration{RunCommand: "run"})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(instances))
	}
	if instances[0].ID != "solo__base__r0" {
		t.Errorf("got %q, want %q", instances[0].ID, "solo__base__r0")
	}
	if instances[0].Combo() != "base" {
		t.Errorf("expected combo 'base', got %q", instances[0].Combo())
	}
}

func TestExpandResolvesTemplates(t *testing.T) {
	b := bench("res", 1, config.Axis{Name: "threads", Values: []string{"4"}})
	rc := &config.RunConfiguration{
		RunCommand: "./solver",
		Args:       "-t {threads} -n {size}",
		EnvironmentVariables: config.Pairs{
			{Name: "OMP_NUM_THREADS", Value: "{threads}"},
		},
		Variables: map[string]string{"size": "1024", "threads": "ignored"},
	}

	instances, err := matrix.Expand(b, rc)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	got := instances[0].Resolved
	if got.Args != "-t 4 -n 1024" {
		t.Errorf("args: got %q", got.Args)
	}
	if got.EnvironmentVariables[0].Value != "4" {
		t.Errorf("axis value should override base variable, got %q", got.EnvironmentVariables[0].Value)
	}
	if rc.Args != "-t {threads} -n {size}" {
		t.Error("expansion must not mutate the source configuration")
	}
}

func TestExpandAxisOverridesScalarField(t *testing.T) {
	b := bench("flags", 1,
		config.Axis{Name: "args", Values: []string{"-fast", "-accurate -n {size}"}},
	)
	rc := &config.RunConfiguration{
		RunCommand: "./solver",
		Args:       "-default",
		Variables:  map[string]string{"size": "512"},
	}
	instances, err := matrix.Expand(b, rc)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if got := instances[0].Resolved.Args; got != "-fast" {
		t.Errorf("first combination: got args %q, want %q", got, "-fast")
	}
	if got := instances[1].Resolved.Args; got != "-accurate -n 512" {
		t.Errorf("second combination: got args %q, want %q", got, "-accurate -n 512")
	}
}

func TestExpandUnboundTemplate(t *testing.T) {
	b := bench("bad", 1)
	rc := &config.RunConfiguration{RunCommand: "run {oops}"}

	_, err := matrix.Expand(b, rc)
	if err == nil {
		t.Fatal("expected error for unbound placeholder")
	}
	var terr *config.TemplateError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TemplateError, got %T", err)
	}
}

func TestExpandRejectsCollidingIdentifiers(t *testing.T) {
	b := bench("col", 1, config.Axis{Name: "v", Values: []string{"a b", "a_b"}})
	_, err := matrix.Expand(b, &config.RunConfiguration{RunCommand: "run"})
	if err == nil {
		t.Fatal("expected error for colliding identifiers")
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"cpp/openmp", "cppopenmp"},
		{"two words", "two_words"},
		{"v1.2-rc_3", "v1.2-rc_3"},
		{"weird:chars?", "weird_chars_"},
	}
	for _, tt := range tests {
		if got := matrix.Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}
