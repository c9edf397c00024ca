// Package plotdata shapes aggregated metrics into plottable series.
// It only prepares the numbers; drawing belongs to whatever consumes
// the report output.
package plotdata

import (
	"sort"
	"strconv"
	"strings"

	"github.com/benchsweep/benchsweep/internal/config"
)

// Cell is one value a plot can reference on a row, either an aggregated
// metric or an axis assignment. Raw keeps the string form used by fix
// filters and split labels.
type Cell struct {
	Raw     string
	Number  float64
	Err     float64
	Numeric bool
}

// NumberCell builds a cell from an aggregated mean and its spread.
func NumberCell(mean, err float64) Cell {
	return Cell{
		Raw:     strconv.FormatFloat(mean, 'g', -1, 64),
		Number:  mean,
		Err:     err,
		Numeric: true,
	}
}

// TextCell builds a cell from a string. Axis values that parse as
// numbers stay plottable.
func TextCell(s string) Cell {
	c := Cell{Raw: s}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		c.Number = n
		c.Numeric = true
	}
	return c
}

// Row is one combination's values, keyed by metric and axis name.
type Row struct {
	Config string
	Cells  map[string]Cell
}

// Series is one named line of a plot in column form, sorted by x.
// YErr is nil when no point carries an estimated spread, so consumers
// can tell "no error bars" from "zero-width error bars".
type Series struct {
	Name string    `json:"name"`
	X    []float64 `json:"x"`
	Y    []float64 `json:"y"`
	YErr []float64 `json:"y_err,omitempty"`
}

type point struct {
	x, y, yerr float64
}

// Line shapes one bench's rows into the series of a line plot. Rows are
// filtered by the plot's fix values, split into series by run
// configuration and split names, and sorted by x within each series.
func Line(plot *config.Plot, rows []Row) []Series {
	points := make(map[string][]point)
	var order []string
	for _, row := range rows {
		if !matchesFix(plot, row) {
			continue
		}
		x, ok := row.Cells[plot.X]
		if !ok || !x.Numeric {
			continue
		}
		y, ok := row.Cells[plot.Y]
		if !ok || !y.Numeric {
			continue
		}
		name := seriesName(plot, row)
		if _, seen := points[name]; !seen {
			order = append(order, name)
		}
		points[name] = append(points[name], point{x.Number, y.Number, y.Err})
	}

	series := make([]Series, 0, len(order))
	for _, name := range order {
		pts := points[name]
		sort.Slice(pts, func(i, j int) bool {
			if pts[i].x != pts[j].x {
				return pts[i].x < pts[j].x
			}
			return pts[i].y < pts[j].y
		})
		s := Series{Name: name}
		hasErr := false
		for _, p := range pts {
			s.X = append(s.X, p.x)
			s.Y = append(s.Y, p.y)
			if p.yerr != 0 {
				hasErr = true
			}
		}
		if hasErr {
			for _, p := range pts {
				s.YErr = append(s.YErr, p.yerr)
			}
		}
		series = append(series, s)
	}
	return series
}

// Bar is one bar of a bar chart. Hue groups bars that share a run
// configuration so renderers can color them alike.
type Bar struct {
	Name string  `json:"name"`
	Y    float64 `json:"y"`
	YErr float64 `json:"y_err,omitempty"`
	Hue  int     `json:"hue"`
}

// Bars shapes one bench's rows into the bars of a bar chart, keeping
// row order.
func Bars(plot *config.Plot, rows []Row) []Bar {
	hues := make(map[string]int)
	var bars []Bar
	for _, row := range rows {
		if !matchesFix(plot, row) {
			continue
		}
		y, ok := row.Cells[plot.Y]
		if !ok || !y.Numeric {
			continue
		}
		hue, seen := hues[row.Config]
		if !seen {
			hue = len(hues)
			hues[row.Config] = hue
		}
		bars = append(bars, Bar{Name: seriesName(plot, row), Y: y.Number, YErr: y.Err, Hue: hue})
	}
	return bars
}

// seriesName labels a series with the run configuration, the fixed
// values, and the row's value for each split name not already fixed.
func seriesName(plot *config.Plot, row Row) string {
	parts := []string{row.Config}
	for _, fix := range plot.Fix {
		parts = append(parts, fix.Name+"="+fix.Value)
	}
	for _, split := range plot.Split {
		if _, fixed := plot.Fix.Get(split); fixed {
			continue
		}
		if cell, ok := row.Cells[split]; ok {
			parts = append(parts, split+"="+cell.Raw)
		}
	}
	return strings.Join(parts, ", ")
}

func matchesFix(plot *config.Plot, row Row) bool {
	for _, fix := range plot.Fix {
		cell, ok := row.Cells[fix.Name]
		if !ok || cell.Raw != fix.Value {
			return false
		}
	}
	return true
}
