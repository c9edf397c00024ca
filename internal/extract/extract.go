// Package extract pulls named metric values out of recorded run output.
// Extraction never fails: a value is either present or missing with a
// reason, so one bad run or pattern cannot halt a report.
package extract

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/benchsweep/benchsweep/internal/config"
	"github.com/benchsweep/benchsweep/internal/store"
	"github.com/benchsweep/benchsweep/internal/track"
)

// Reason explains a missing value.
type Reason int

const (
	None         Reason = iota // value present
	NotCompleted               // run never reached the completed state
	NoArtifact                 // target stream or file was not delivered
	NoMatch                    // pattern matched nothing
	BadNumber                  // captured text did not parse as a number
)

var reasonNames = [...]string{"", "not-completed", "artifact-absent", "no-match", "bad-number"}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return "unknown"
}

// Value is one extraction outcome. The metric's declared type decides
// whether Number or Text carries the value.
type Value struct {
	Present bool
	Number  float64
	Text    string
	Reason  Reason
}

// Metric applies one metric definition to a recorded result: first match
// of the pattern against the target artifact, capture group one, coerced
// to the declared type. A nil result stands for a run that was never
// recorded.
func Metric(res *store.Result, def *config.Metric) Value {
	if res == nil || res.Record.State != track.Completed {
		return Value{Reason: NotCompleted}
	}

	var data []byte
	switch def.Target {
	case "stdout":
		data = res.Stdout
	case "stderr":
		data = res.Stderr
	default:
		file, err := res.OutputFile(def.FileTarget())
		if err != nil {
			return Value{Reason: NoArtifact}
		}
		data = file
	}
	if data == nil {
		return Value{Reason: NoArtifact}
	}

	m := def.Regexp().FindSubmatch(data)
	if m == nil {
		return Value{Reason: NoMatch}
	}
	captured := string(m[1])

	if def.Type == "text" {
		return Value{Present: true, Text: captured}
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(captured), 64)
	if err != nil {
		slog.Warn("metric value is not a number",
			"run", res.Record.ID, "metric", def.Name, "value", captured)
		return Value{Reason: BadNumber}
	}
	return Value{Present: true, Number: n}
}
