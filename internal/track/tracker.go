package track

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benchsweep/benchsweep/internal/matrix"
	"github.com/benchsweep/benchsweep/internal/scheduler"
)

// Sink receives state transitions as they are observed, so they outlive
// the process.
type Sink interface {
	UpdateState(inst *matrix.RunInstance, state State, detail string) error
}

// ExitProbe reports whether a run left an exit artifact behind. It breaks
// the tie for handles the backend no longer knows.
type ExitProbe interface {
	Exited(inst *matrix.RunInstance) bool
}

// Run couples an instance with its last observed lifecycle state.
type Run struct {
	Instance *matrix.RunInstance
	Handle   scheduler.JobHandle
	State    State
	Detail   string
}

// pollLadder spaces successive queue polls further and further apart.
var pollLadder = []time.Duration{
	5 * time.Second,
	10 * time.Second,
	15 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

const (
	maxWait       = 48 * time.Hour
	queryAttempts = 3
)

// Tracker drives submitted runs through their lifecycle by polling the
// scheduler in batches. One tracker watches one record session.
type Tracker struct {
	sched      scheduler.Scheduler
	sink       Sink
	probe      ExitProbe
	retryDelay time.Duration

	mu   sync.Mutex
	runs []*Run
}

func New(sched scheduler.Scheduler, sink Sink, probe ExitProbe) *Tracker {
	return &Tracker{
		sched:      sched,
		sink:       sink,
		probe:      probe,
		retryDelay: 2 * time.Second,
	}
}

// Add registers a freshly submitted run.
func (t *Tracker) Add(inst *matrix.RunInstance, handle scheduler.JobHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs = append(t.runs, &Run{Instance: inst, Handle: handle, State: Submitted})
}

// Runs returns a snapshot of every tracked run in submission order.
func (t *Tracker) Runs() []Run {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Run, len(t.runs))
	for i, r := range t.runs {
		out[i] = *r
	}
	return out
}

// Remaining returns the runs that have not reached a terminal state.
func (t *Tracker) Remaining() []Run {
	var out []Run
	for _, r := range t.Runs() {
		if !r.State.Terminal() {
			out = append(out, r)
		}
	}
	return out
}

// Done reports whether every tracked run is terminal.
func (t *Tracker) Done() bool {
	return len(t.Remaining()) == 0
}

// Poll queries the scheduler once for every non-terminal run and applies
// the observed transitions. A failed query is retried a bounded number of
// times; known states survive a poll cycle that gives up.
func (t *Tracker) Poll(ctx context.Context) error {
	handles := t.pendingHandles()
	if len(handles) == 0 {
		return nil
	}
	var statuses map[scheduler.JobHandle]scheduler.RawStatus
	var err error
	for attempt := 1; attempt <= queryAttempts; attempt++ {
		statuses, err = t.sched.QueryStatus(ctx, handles)
		if err == nil {
			break
		}
		if attempt == queryAttempts {
			break
		}
		slog.Warn("status query failed, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.retryDelay):
		}
	}
	if err != nil {
		return fmt.Errorf("querying job statuses: %w", err)
	}
	t.apply(statuses)
	return nil
}

func (t *Tracker) pendingHandles() []scheduler.JobHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	var handles []scheduler.JobHandle
	for _, r := range t.runs {
		if !r.State.Terminal() {
			handles = append(handles, r.Handle)
		}
	}
	return handles
}

func (t *Tracker) apply(statuses map[scheduler.JobHandle]scheduler.RawStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.runs {
		if r.State.Terminal() {
			continue
		}
		raw := statuses[r.Handle]
		exited := false
		if raw == scheduler.StatusUnknown && t.probe != nil {
			exited = t.probe.Exited(r.Instance)
		}
		next := FromRaw(raw, exited)
		if next == r.State {
			continue
		}
		// A stale queue view must not move a run backwards.
		if next < r.State && !next.Terminal() {
			continue
		}
		var detail string
		switch {
		case next == Failed && raw == scheduler.StatusFailed:
			detail = "scheduler reported failure"
		case next == Failed && raw == scheduler.StatusUnknown:
			detail = "job left the queue without an exit artifact"
		}
		r.State = next
		r.Detail = detail
		if err := t.sink.UpdateState(r.Instance, next, detail); err != nil {
			slog.Warn("recording state", "instance", r.Instance.ID, "error", err)
		}
		slog.Info("state change", "instance", r.Instance.ID, "state", next.String())
	}
}

// Wait polls until every tracked run is terminal, the timeout passes, or
// ctx is cancelled. Zero or oversized timeouts fall back to the 48 hour
// cap. It returns the runs still in flight.
func (t *Tracker) Wait(ctx context.Context, timeout time.Duration) []Run {
	if timeout <= 0 || timeout > maxWait {
		timeout = maxWait
	}
	deadline := time.Now().Add(timeout)
	for step := 0; ; step++ {
		if err := t.Poll(ctx); err != nil {
			slog.Warn("poll failed", "error", err)
		}
		if t.Done() {
			return nil
		}
		pause := pollLadder[min(step, len(pollLadder)-1)]
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return t.Remaining()
		}
		if pause > remaining {
			pause = remaining
		}
		select {
		case <-ctx.Done():
			return t.Remaining()
		case <-time.After(pause):
		}
	}
}

// CancelRemaining cancels every non-terminal run, best effort, and
// records the cancellations. It returns how many runs it touched.
func (t *Tracker) CancelRemaining(ctx context.Context) int {
	t.mu.Lock()
	var pending []*Run
	for _, r := range t.runs {
		if !r.State.Terminal() {
			pending = append(pending, r)
		}
	}
	t.mu.Unlock()

	for _, r := range pending {
		if err := t.sched.Cancel(ctx, r.Handle); err != nil {
			slog.Warn("cancel failed", "instance", r.Instance.ID, "error", err)
		}
		t.mu.Lock()
		r.State = Cancelled
		r.Detail = "cancelled"
		t.mu.Unlock()
		if err := t.sink.UpdateState(r.Instance, Cancelled, "cancelled"); err != nil {
			slog.Warn("recording state", "instance", r.Instance.ID, "error", err)
		}
	}
	return len(pending)
}
