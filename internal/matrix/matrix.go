package matrix

import (
	"fmt"
	"strings"

	"github.com/benchsweep/benchsweep/internal/config"
)

// Assignment binds one axis to one of its values.
type Assignment struct {
	Axis  string `json:"axis"`
	Value string `json:"value"`
}

// RunInstance is one fully resolved cell of a bench's sweep: a single
// axis-value combination at a single rerun index. Instances are built by
// Expand and never change afterwards; lifecycle state lives in the store
// record, not here. Rerun indexes are zero-based.
type RunInstance struct {
	ID       string
	Bench    string
	Config   string
	Values   []Assignment
	Rerun    int
	Resolved *config.RunConfiguration
}

// BenchKey is the sanitized bench name, the first path element of the
// instance's result directory.
func (r *RunInstance) BenchKey() string {
	return Sanitize(r.Bench)
}

// Leaf is the last path element of the instance's result directory.
func (r *RunInstance) Leaf() string {
	return fmt.Sprintf("%s__r%d", comboKey(r.Values), r.Rerun)
}

// Combo is the instance's combination in "axis=value,..." form, or
// "base" when the bench has no axes.
func (r *RunInstance) Combo() string {
	return comboKey(r.Values)
}

// GroupKey identifies the combination with the rerun index stripped;
// reruns of the same combination share it.
func (r *RunInstance) GroupKey() string {
	return Sanitize(r.Bench) + "__" + comboKey(r.Values)
}

// Expand enumerates every run instance of a bench in a fixed order: the
// cartesian product of its axes with the rightmost axis varying fastest,
// each combination repeated reruns times with zero-based rerun indexes.
// Axis values override the run configuration's variables when both bind
// the same name; an axis named after an overridable scalar field (args,
// run_command, directory) replaces that field instead.
func Expand(bench *config.Bench, rc *config.RunConfiguration) ([]*RunInstance, error) {
	reruns := bench.RerunCount()
	if reruns < 1 {
		reruns = 1
	}
	combos := cartesian(bench.Matrix)
	instances := make([]*RunInstance, 0, len(combos)*reruns)
	seen := make(map[string]bool, len(combos)*reruns)
	for _, combo := range combos {
		vars := make(map[string]string, len(rc.Variables)+len(combo))
		for k, v := range rc.Variables {
			vars[k] = v
		}
		for _, a := range combo {
			vars[a.Axis] = a.Value
		}
		resolved, err := resolve(rc, combo, vars)
		if err != nil {
			return nil, fmt.Errorf("bench %q, %s: %w", bench.Name, comboKey(combo), err)
		}
		for rerun := 0; rerun < reruns; rerun++ {
			inst := &RunInstance{
				Bench:    bench.Name,
				Config:   bench.RunConfiguration,
				Values:   combo,
				Rerun:    rerun,
				Resolved: resolved,
			}
			inst.ID = inst.BenchKey() + "__" + inst.Leaf()
			if seen[inst.ID] {
				return nil, fmt.Errorf("bench %q: identifier %q is not unique (axis values collide after sanitizing)", bench.Name, inst.ID)
			}
			seen[inst.ID] = true
			instances = append(instances, inst)
		}
	}
	return instances, nil
}

func cartesian(axes []config.Axis) [][]Assignment {
	combos := [][]Assignment{nil}
	for _, ax := range axes {
		next := make([][]Assignment, 0, len(combos)*len(ax.Values))
		for _, combo := range combos {
			for _, v := range ax.Values {
				ext := make([]Assignment, len(combo), len(combo)+1)
				copy(ext, combo)
				next = append(next, append(ext, Assignment{Axis: ax.Name, Value: v}))
			}
		}
		combos = next
	}
	return combos
}

func resolve(rc *config.RunConfiguration, combo []Assignment, vars map[string]string) (*config.RunConfiguration, error) {
	base := *rc
	for _, a := range combo {
		switch a.Axis {
		case "args":
			base.Args = a.Value
		case "run_command":
			base.RunCommand = a.Value
		case "directory":
			base.Directory = a.Value
		}
	}

	var firstErr error
	expand := func(s string) string {
		out, err := config.Expand(s, vars)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return s
		}
		return out
	}
	expandAll := func(in []string) []string {
		if in == nil {
			return nil
		}
		out := make([]string, len(in))
		for i, s := range in {
			out[i] = expand(s)
		}
		return out
	}
	expandPairs := func(in config.Pairs) config.Pairs {
		if in == nil {
			return nil
		}
		out := make(config.Pairs, len(in))
		for i, p := range in {
			out[i] = config.Pair{Name: p.Name, Value: expand(p.Value)}
		}
		return out
	}

	resolved := &config.RunConfiguration{
		SbatchConfig:         expandPairs(base.SbatchConfig),
		ModuleLoads:          expandAll(base.ModuleLoads),
		EnvironmentVariables: expandPairs(base.EnvironmentVariables),
		Directory:            expand(base.Directory),
		BuildCommands:        expandAll(base.BuildCommands),
		RunCommand:           expand(base.RunCommand),
		Args:                 expand(base.Args),
		PreBuilt:             base.PreBuilt,
		PostCommands:         expandAll(base.PostCommands),
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return resolved, nil
}

// Sanitize maps a plan name to a form safe for job names and file paths.
// Slashes are dropped and spaces become underscores; any other character
// outside [A-Za-z0-9._-] becomes an underscore.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '/':
		case r == ' ':
			b.WriteByte('_')
		case r == '.' || r == '-' || r == '_',
			'a' <= r && r <= 'z',
			'A' <= r && r <= 'Z',
			'0' <= r && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func comboKey(values []Assignment) string {
	if len(values) == 0 {
		return "base"
	}
	parts := make([]string, len(values))
	for i, a := range values {
		parts[i] = Sanitize(a.Axis) + "=" + Sanitize(a.Value)
	}
	return strings.Join(parts, ",")
}
