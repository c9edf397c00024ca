// Package dispatch turns expanded run instances into scheduler jobs: it
// claims each instance's slot in the result store, renders its job
// script and submits it, with a bounded number of submissions in flight.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/benchsweep/benchsweep/internal/config"
	"github.com/benchsweep/benchsweep/internal/matrix"
	"github.com/benchsweep/benchsweep/internal/scheduler"
	"github.com/benchsweep/benchsweep/internal/store"
	"github.com/benchsweep/benchsweep/internal/track"
)

// Options configure one dispatch pass.
type Options struct {
	// DryRun prints rendered scripts to Out instead of touching the
	// store or the scheduler.
	DryRun bool
	// Clobber discards previously recorded results instead of skipping
	// instances that already have them.
	Clobber bool
	// Workers bounds concurrent submissions.
	Workers int
	// Directives gates the #SBATCH preamble in rendered scripts.
	Directives bool
	// WorkDir is where submitted jobs start executing.
	WorkDir string
	// ExtraEnv is exported in every job script after the run
	// configuration's own environment.
	ExtraEnv config.Pairs
	// Out receives dry-run output. Defaults to stdout.
	Out io.Writer
}

// Dispatcher submits run instances against one store and one scheduler.
type Dispatcher struct {
	sched scheduler.Scheduler
	store *store.Store
	opts  Options
}

func New(sched scheduler.Scheduler, st *store.Store, opts Options) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Dispatcher{sched: sched, store: st, opts: opts}
}

// Submitted pairs a run instance with the scheduler handle it received.
type Submitted struct {
	Instance *matrix.RunInstance
	Handle   scheduler.JobHandle
}

// Summary reports what one dispatch pass did.
type Summary struct {
	Submitted []Submitted
	Skipped   []string // identifiers with previously recorded results
	Failed    []error
}

// Dispatch claims, renders and submits every instance through a bounded
// worker pool. A failing instance never stops its siblings: it is
// recorded as failed and reported in the summary.
func (d *Dispatcher) Dispatch(ctx context.Context, instances []*matrix.RunInstance) *Summary {
	summary := &Summary{}
	if d.opts.DryRun {
		for _, inst := range instances {
			fmt.Fprintf(d.opts.Out, "# %s\n%s\n", inst.ID, d.render(inst))
		}
		return summary
	}

	var mu sync.Mutex
	jobs := make([]job, 0, len(instances))
	for _, inst := range instances {
		inst := inst
		jobs = append(jobs, func() error {
			sub, err := d.submitOne(ctx, inst)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, store.ErrExists):
				summary.Skipped = append(summary.Skipped, inst.ID)
			case err != nil:
				return err
			default:
				summary.Submitted = append(summary.Submitted, *sub)
			}
			return nil
		})
	}
	summary.Failed = runPool(ctx, d.opts.Workers, jobs)
	return summary
}

func (d *Dispatcher) render(inst *matrix.RunInstance) string {
	return Render(inst, RenderOptions{
		Directives: d.opts.Directives,
		StdoutPath: d.store.StdoutPath(inst),
		StderrPath: d.store.StderrPath(inst),
		OutputDir:  d.store.OutputDir(inst),
		ExtraEnv:   d.opts.ExtraEnv,
	})
}

func (d *Dispatcher) submitOne(ctx context.Context, inst *matrix.RunInstance) (*Submitted, error) {
	if d.opts.Clobber {
		if err := d.store.Discard(inst); err != nil {
			return nil, fmt.Errorf("%s: %w", inst.ID, err)
		}
	}
	if err := d.store.Claim(inst); err != nil {
		if errors.Is(err, store.ErrExists) {
			slog.Info("results already recorded, skipping", "run", inst.ID)
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", inst.ID, err)
	}

	script := d.render(inst)
	if err := d.store.WriteScript(inst, script); err != nil {
		return nil, fmt.Errorf("%s: %w", inst.ID, err)
	}
	rec := store.NewRecord(inst)
	if err := d.store.WriteRecord(inst, rec); err != nil {
		return nil, fmt.Errorf("%s: %w", inst.ID, err)
	}

	handle, err := d.sched.Submit(ctx, scheduler.Submission{
		Name:       inst.ID,
		Script:     script,
		WorkDir:    d.opts.WorkDir,
		StdoutPath: d.store.StdoutPath(inst),
		StderrPath: d.store.StderrPath(inst),
		OutputDir:  d.store.OutputDir(inst),
	})
	if err != nil {
		rec.State = track.Failed
		rec.Detail = err.Error()
		rec.UpdatedAt = time.Now().UTC()
		if werr := d.store.WriteRecord(inst, rec); werr != nil {
			slog.Warn("recording submission failure", "run", inst.ID, "error", werr)
		}
		return nil, fmt.Errorf("%s: %w", inst.ID, err)
	}

	rec.Handle = string(handle)
	rec.State = track.Submitted
	rec.UpdatedAt = time.Now().UTC()
	if err := d.store.WriteRecord(inst, rec); err != nil {
		return nil, fmt.Errorf("%s: %w", inst.ID, err)
	}
	slog.Info("submitted", "run", inst.ID, "handle", string(handle))
	return &Submitted{Instance: inst, Handle: handle}, nil
}
