// Package aggregate collapses rerun series into per-combination
// statistics.
package aggregate

import (
	"math"

	"github.com/benchsweep/benchsweep/internal/extract"
	"github.com/benchsweep/benchsweep/internal/matrix"
)

// Group is one axis-value combination with its reruns in expansion order.
type Group struct {
	Key    string
	Bench  string
	Config string
	Values []matrix.Assignment
	Runs   []*matrix.RunInstance
}

// GroupRuns buckets expanded instances by combination. Group order and
// the rerun order inside each group both follow expansion order.
func GroupRuns(instances []*matrix.RunInstance) []Group {
	var groups []Group
	index := make(map[string]int)
	for _, inst := range instances {
		key := inst.GroupKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{
				Key:    key,
				Bench:  inst.Bench,
				Config: inst.Config,
				Values: inst.Values,
			})
		}
		groups[i].Runs = append(groups[i].Runs, inst)
	}
	return groups
}

// Stats is the collapsed rerun series of one metric over one combination.
type Stats struct {
	Count  int // reruns that contributed a value
	Mean   float64
	Stddev float64 // sample standard deviation, 0 when Count < 2
	Text   string  // first present value of a text metric
}

// Collapse folds one metric's per-rerun values into summary statistics.
// Missing values are dropped. ok is false when no rerun produced a
// value, in which case the combination has no aggregate at all.
func Collapse(values []extract.Value, typ string) (stats Stats, ok bool) {
	if typ == "text" {
		for _, v := range values {
			if !v.Present {
				continue
			}
			if stats.Count == 0 {
				stats.Text = v.Text
			}
			stats.Count++
		}
		return stats, stats.Count > 0
	}

	var nums []float64
	for _, v := range values {
		if v.Present {
			nums = append(nums, v.Number)
		}
	}
	if len(nums) == 0 {
		return Stats{}, false
	}
	return Stats{
		Count:  len(nums),
		Mean:   mean(nums),
		Stddev: stddev(nums),
	}, true
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
