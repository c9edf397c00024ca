// Package report turns recorded results into aggregated per-bench
// metric tables and plot-ready series.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"text/tabwriter"

	"github.com/benchsweep/benchsweep/internal/aggregate"
	"github.com/benchsweep/benchsweep/internal/config"
	"github.com/benchsweep/benchsweep/internal/extract"
	"github.com/benchsweep/benchsweep/internal/matrix"
	"github.com/benchsweep/benchsweep/internal/plotdata"
	"github.com/benchsweep/benchsweep/internal/store"
)

// MetricCell is one aggregated metric on one combination. A combination
// whose reruns all came up empty has no cell at all, which the writers
// render as "no data".
type MetricCell struct {
	Mean   float64 `json:"mean"`
	Stddev float64 `json:"stddev"`
	Count  int     `json:"count"`
	Text   string  `json:"text,omitempty"`
}

// Row is one axis-value combination in expansion order.
type Row struct {
	Combo   string                 `json:"combination"`
	Metrics map[string]*MetricCell `json:"metrics"`
}

// PlotData is one plot spec shaped against the aggregated rows.
type PlotData struct {
	Kind   string            `json:"kind"`
	Title  string            `json:"title,omitempty"`
	X      string            `json:"x,omitempty"`
	Y      string            `json:"y"`
	Series []plotdata.Series `json:"series,omitempty"`
	Bars   []plotdata.Bar    `json:"bars,omitempty"`
}

// BenchReport is one bench's aggregated results.
type BenchReport struct {
	Bench   string          `json:"bench"`
	Config  string          `json:"run_configuration"`
	Metrics []config.Metric `json:"-"`
	Rows    []Row           `json:"rows"`
	Plots   []PlotData      `json:"plots,omitempty"`
}

// Generate builds the report for a plan and writes it in the given
// format. An empty bench name reports every active bench.
func Generate(plan *config.Plan, st *store.Store, format, bench string, w io.Writer) error {
	reports, err := Build(plan, st, bench)
	if err != nil {
		return err
	}
	return Write(reports, format, w)
}

// Build expands each active bench, loads whatever the store has recorded
// for its instances and collapses rerun series into aggregated rows.
// Instances that were never recorded count as missing, not as errors.
func Build(plan *config.Plan, st *store.Store, bench string) ([]BenchReport, error) {
	var reports []BenchReport
	for _, b := range plan.Benches {
		if bench != "" && b.Name != bench {
			continue
		}
		if !b.Active() {
			continue
		}
		rep, err := buildBench(plan, st, b)
		if err != nil {
			return nil, fmt.Errorf("bench %s: %w", b.Name, err)
		}
		reports = append(reports, *rep)
	}
	if bench != "" && len(reports) == 0 {
		return nil, fmt.Errorf("no bench named %q", bench)
	}
	return reports, nil
}

func buildBench(plan *config.Plan, st *store.Store, b *config.Bench) (*BenchReport, error) {
	instances, err := matrix.Expand(b, plan.RunConfigurations[b.RunConfiguration])
	if err != nil {
		return nil, err
	}

	rep := &BenchReport{
		Bench:   b.Name,
		Config:  b.RunConfiguration,
		Metrics: b.Analysis.Metrics,
	}
	var plotRows []plotdata.Row
	for _, g := range aggregate.GroupRuns(instances) {
		results := make([]*store.Result, len(g.Runs))
		for i, inst := range g.Runs {
			res, err := st.Load(inst)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return nil, fmt.Errorf("loading %s: %w", inst.ID, err)
			}
			results[i] = res
		}

		row := Row{Combo: g.Runs[0].Combo(), Metrics: make(map[string]*MetricCell)}
		cells := make(map[string]plotdata.Cell, len(g.Values)+len(b.Analysis.Metrics))
		for _, v := range g.Values {
			cells[v.Axis] = plotdata.TextCell(v.Value)
		}
		for i := range b.Analysis.Metrics {
			m := &b.Analysis.Metrics[i]
			values := make([]extract.Value, len(results))
			for r, res := range results {
				values[r] = extract.Metric(res, m)
			}
			stats, ok := aggregate.Collapse(values, m.Type)
			if !ok {
				continue
			}
			row.Metrics[m.Name] = &MetricCell{
				Mean:   stats.Mean,
				Stddev: stats.Stddev,
				Count:  stats.Count,
				Text:   stats.Text,
			}
			if m.Type == "text" {
				cells[m.Name] = plotdata.TextCell(stats.Text)
			} else {
				cells[m.Name] = plotdata.NumberCell(stats.Mean, stats.Stddev)
			}
		}
		rep.Rows = append(rep.Rows, row)
		plotRows = append(plotRows, plotdata.Row{Config: b.RunConfiguration, Cells: cells})
	}

	for i := range b.Analysis.Plots {
		p := &b.Analysis.Plots[i]
		pd := PlotData{Kind: p.Kind, Title: p.Title, X: p.X, Y: p.Y}
		switch p.Kind {
		case "bar":
			pd.Bars = plotdata.Bars(p, plotRows)
		default:
			pd.Series = plotdata.Line(p, plotRows)
		}
		rep.Plots = append(rep.Plots, pd)
	}
	return rep, nil
}

// Write renders reports as an aligned text table, a markdown table, or
// indented json. Unknown formats fall back to the text table.
func Write(reports []BenchReport, format string, w io.Writer) error {
	switch format {
	case "markdown":
		return writeMarkdown(reports, w)
	case "json":
		return writeJSON(reports, w)
	default:
		return writeTable(reports, w)
	}
}

func cellText(m *config.Metric, c *MetricCell) string {
	if c == nil {
		return "no data"
	}
	if m.Type == "text" {
		return c.Text
	}
	return fmt.Sprintf("%.4g ± %.4g (n=%d)", c.Mean, c.Stddev, c.Count)
}

func writeTable(reports []BenchReport, w io.Writer) error {
	for i, rep := range reports {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (%s)\n", rep.Bench, rep.Config)
		fmt.Fprintln(w, strings.Repeat("-", 80))
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		headers := []string{"COMBINATION"}
		for _, m := range rep.Metrics {
			headers = append(headers, strings.ToUpper(m.Name))
		}
		fmt.Fprintln(tw, strings.Join(headers, "\t"))
		for _, row := range rep.Rows {
			cols := []string{row.Combo}
			for j := range rep.Metrics {
				m := &rep.Metrics[j]
				cols = append(cols, cellText(m, row.Metrics[m.Name]))
			}
			fmt.Fprintln(tw, strings.Join(cols, "\t"))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func writeMarkdown(reports []BenchReport, w io.Writer) error {
	for i, rep := range reports {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "### %s (%s)\n\n", rep.Bench, rep.Config)
		headers := []string{"Combination"}
		for _, m := range rep.Metrics {
			headers = append(headers, m.Name)
		}
		fmt.Fprintf(w, "| %s |\n", strings.Join(headers, " | "))
		fmt.Fprintf(w, "|%s\n", strings.Repeat("---|", len(headers)))
		for _, row := range rep.Rows {
			cols := []string{row.Combo}
			for j := range rep.Metrics {
				m := &rep.Metrics[j]
				cols = append(cols, cellText(m, row.Metrics[m.Name]))
			}
			fmt.Fprintf(w, "| %s |\n", strings.Join(cols, " | "))
		}
	}
	return nil
}

func writeJSON(reports []BenchReport, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}
