package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Plan is a parsed test plan: named run configurations plus the benches
// that sweep them.
type Plan struct {
	Name              string                       `yaml:"name"`
	RunConfigurations map[string]*RunConfiguration `yaml:"run_configurations"`
	Benches           []*Bench                     `yaml:"benches"`
}

// RunConfiguration describes how one job is built and run. String fields
// may contain {name} templates, resolved per instance against the bench's
// axis values and the configuration's own variables.
type RunConfiguration struct {
	SbatchConfig         Pairs             `yaml:"sbatch_config"`
	ModuleLoads          []string          `yaml:"module_loads"`
	EnvironmentVariables Pairs             `yaml:"environment_variables"`
	Directory            string            `yaml:"directory"`
	BuildCommands        []string          `yaml:"build_commands"`
	RunCommand           string            `yaml:"run_command"`
	Args                 string            `yaml:"args"`
	Variables            map[string]string `yaml:"variables"`
	PreBuilt             bool              `yaml:"pre_built"`
	PostCommands         []string          `yaml:"post_commands"`
}

// CommandLine is the timed command the job script runs.
func (rc *RunConfiguration) CommandLine() string {
	if rc.Args == "" {
		return rc.RunCommand
	}
	return rc.RunCommand + " " + rc.Args
}

// Bench is one sweep: a run configuration crossed with a variable matrix,
// repeated reruns times per combination.
type Bench struct {
	Name             string   `yaml:"name"`
	Enabled          *bool    `yaml:"enabled"`
	RunConfiguration string   `yaml:"run_configuration"`
	Reruns           *int     `yaml:"reruns"`
	Matrix           []Axis   `yaml:"matrix"`
	Analysis         Analysis `yaml:"analysis"`
}

// Active reports whether the bench takes part in record and report runs.
// Benches are enabled unless the plan says otherwise.
func (b *Bench) Active() bool {
	return b.Enabled == nil || *b.Enabled
}

// RerunCount returns how many times each combination runs. A plan that
// never sets reruns runs each combination once; an explicit zero is a
// validation error, not a default.
func (b *Bench) RerunCount() int {
	if b.Reruns == nil {
		return 1
	}
	return *b.Reruns
}

// Axis is one matrix entry, written in YAML as a single-key mapping from
// the axis name to the list of values it sweeps. Values keep their
// literal YAML spelling.
type Axis struct {
	Name   string
	Values []string
}

func (a *Axis) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return fmt.Errorf("line %d: matrix entry must be a single {axis: [values]} mapping", node.Line)
	}
	if err := node.Content[0].Decode(&a.Name); err != nil {
		return err
	}
	values := node.Content[1]
	if values.Kind != yaml.SequenceNode || len(values.Content) == 0 {
		return fmt.Errorf("axis %q: values must be a non-empty list", a.Name)
	}
	a.Values = make([]string, len(values.Content))
	for i, v := range values.Content {
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("axis %q: values must be scalars", a.Name)
		}
		a.Values[i] = v.Value
	}
	return nil
}

// Pair is a single name/value entry.
type Pair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Pairs holds a YAML mapping in document order, so rendered scripts and
// identifiers come out the same on every load.
type Pairs []Pair

func (p *Pairs) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	out := make(Pairs, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return fmt.Errorf("%s: value must be a scalar", key.Value)
		}
		out = append(out, Pair{Name: key.Value, Value: value.Value})
	}
	*p = out
	return nil
}

// Get returns the value for name and whether it is present.
func (p Pairs) Get(name string) (string, bool) {
	for _, pair := range p {
		if pair.Name == name {
			return pair.Value, true
		}
	}
	return "", false
}

// Analysis describes how a bench's captured output turns into numbers.
type Analysis struct {
	Metrics []Metric `yaml:"metrics"`
	Plots   []Plot   `yaml:"plots"`
}

// Metric extracts one value per run instance from a captured artifact.
// The pattern's first capture group of its first match is the value.
type Metric struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Target  string `yaml:"target"` // stdout, stderr, or file:<name>
	Type    string `yaml:"type"`   // number or text

	re *regexp.Regexp
}

// Regexp returns the compiled pattern. Load compiles it during
// validation; a Metric built by hand compiles on first use and the
// pattern must be valid.
func (m *Metric) Regexp() *regexp.Regexp {
	if m.re == nil {
		m.re = regexp.MustCompile(m.Pattern)
	}
	return m.re
}

// FileTarget returns the output file name when the metric reads a named
// file, or "" when it reads a captured stream.
func (m *Metric) FileTarget() string {
	return strings.TrimPrefix(m.Target, filePrefix)
}

// Plot is a declarative chart over aggregated metrics. X, Y, Split and
// Fix name metrics or axes; the engine shapes the data and leaves the
// drawing to whatever consumes the report.
type Plot struct {
	Kind  string   `yaml:"kind"` // line or bar
	Title string   `yaml:"title"`
	X     string   `yaml:"x"`
	Y     string   `yaml:"y"`
	Split []string `yaml:"split"`
	Fix   Pairs    `yaml:"fix"`
}

const filePrefix = "file:"

// Load reads, parses and validates a test plan. Validation collects every
// violation it finds rather than stopping at the first.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan %s: %w", path, err)
	}
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parsing plan %s: %w", path, err)
	}
	normalize(&plan)
	if err := validate(&plan); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", path, err)
	}
	if plan.Name == "" {
		base := filepath.Base(path)
		plan.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return &plan, nil
}

// normalize fills in the documented defaults before validation runs, so
// validate only ever checks.
func normalize(plan *Plan) {
	for _, rc := range plan.RunConfigurations {
		if rc != nil && rc.Directory == "" {
			rc.Directory = "."
		}
	}
	for _, b := range plan.Benches {
		for i := range b.Analysis.Metrics {
			m := &b.Analysis.Metrics[i]
			if m.Type == "" {
				m.Type = "number"
			}
			if m.Target == "" {
				m.Target = "stdout"
			}
		}
		for i := range b.Analysis.Plots {
			if b.Analysis.Plots[i].Kind == "" {
				b.Analysis.Plots[i].Kind = "line"
			}
		}
	}
}

func validate(plan *Plan) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(plan.RunConfigurations) == 0 {
		fail("no run configurations defined")
	}
	names := make([]string, 0, len(plan.RunConfigurations))
	for name := range plan.RunConfigurations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rc := plan.RunConfigurations[name]
		if rc == nil {
			fail("run configuration %q: empty definition", name)
			continue
		}
		if rc.RunCommand == "" {
			fail("run configuration %q: run_command is required", name)
		}
		for _, p := range rc.SbatchConfig {
			if p.Name == "output" || p.Name == "error" || p.Name == "job-name" {
				fail("run configuration %q: sbatch %s is managed by the engine", name, p.Name)
			}
		}
	}

	if len(plan.Benches) == 0 {
		fail("no benches defined")
	}
	seen := make(map[string]bool)
	for i, b := range plan.Benches {
		if b.Name == "" {
			fail("bench %d: name is required", i)
			continue
		}
		if seen[b.Name] {
			fail("bench %q: duplicate name", b.Name)
		}
		seen[b.Name] = true
		if b.Reruns != nil && *b.Reruns < 1 {
			fail("bench %q: reruns must be at least 1", b.Name)
		}

		var rc *RunConfiguration
		if b.RunConfiguration == "" {
			fail("bench %q: run_configuration is required", b.Name)
		} else if rc = plan.RunConfigurations[b.RunConfiguration]; rc == nil {
			fail("bench %q: unknown run configuration %q", b.Name, b.RunConfiguration)
		}

		axes := make(map[string]bool)
		for _, ax := range b.Matrix {
			if axes[ax.Name] {
				fail("bench %q: duplicate axis %q", b.Name, ax.Name)
			}
			axes[ax.Name] = true
		}

		validateAnalysis(b, fail)

		if rc != nil {
			known := make(map[string]bool, len(axes)+len(rc.Variables))
			for name := range axes {
				known[name] = true
			}
			for name := range rc.Variables {
				known[name] = true
			}
			reported := make(map[string]bool)
			for _, tmpl := range rc.templates() {
				for _, ref := range placeholders(tmpl) {
					if !known[ref] && !reported[ref] {
						fail("bench %q: template references unknown variable {%s}", b.Name, ref)
						reported[ref] = true
					}
				}
			}
		}
	}
	return errors.Join(errs...)
}

func validateAnalysis(b *Bench, fail func(string, ...any)) {
	seen := make(map[string]bool)
	for i := range b.Analysis.Metrics {
		m := &b.Analysis.Metrics[i]
		if m.Name == "" {
			fail("bench %q: metric %d: name is required", b.Name, i)
			continue
		}
		if seen[m.Name] {
			fail("bench %q: metric %q: duplicate name", b.Name, m.Name)
		}
		seen[m.Name] = true
		if m.Type != "number" && m.Type != "text" {
			fail("bench %q: metric %q: type must be number or text", b.Name, m.Name)
		}
		if err := checkTarget(m.Target); err != nil {
			fail("bench %q: metric %q: %v", b.Name, m.Name, err)
		}
		re, err := regexp.Compile(m.Pattern)
		switch {
		case err != nil:
			fail("bench %q: metric %q: %v", b.Name, m.Name, err)
		case re.NumSubexp() == 0:
			fail("bench %q: metric %q: pattern needs a capture group", b.Name, m.Name)
		default:
			m.re = re
		}
	}
	for i := range b.Analysis.Plots {
		p := &b.Analysis.Plots[i]
		if p.Kind != "line" && p.Kind != "bar" {
			fail("bench %q: plot %d: kind must be line or bar", b.Name, i)
		}
		if p.Y == "" {
			fail("bench %q: plot %d: y is required", b.Name, i)
		}
		if p.Kind == "line" && p.X == "" {
			fail("bench %q: plot %d: x is required for line plots", b.Name, i)
		}
	}
}

func checkTarget(target string) error {
	switch {
	case target == "stdout" || target == "stderr":
		return nil
	case strings.HasPrefix(target, filePrefix):
		name := strings.TrimPrefix(target, filePrefix)
		if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("bad file target %q", target)
		}
		return nil
	default:
		return fmt.Errorf("target must be stdout, stderr, or file:<name>")
	}
}

// templates lists every string of the configuration that may carry
// placeholders, so validation can check coverage in one sweep.
func (rc *RunConfiguration) templates() []string {
	out := []string{rc.Directory, rc.RunCommand, rc.Args}
	out = append(out, rc.BuildCommands...)
	out = append(out, rc.PostCommands...)
	out = append(out, rc.ModuleLoads...)
	for _, p := range rc.SbatchConfig {
		out = append(out, p.Value)
	}
	for _, p := range rc.EnvironmentVariables {
		out = append(out, p.Value)
	}
	return out
}
