package scheduler

import (
	"context"
	"fmt"
)

// JobHandle identifies a submitted job within its backend: a slurm job id,
// a container id, and so on. Handles are opaque to everything above the
// Scheduler boundary.
type JobHandle string

// RawStatus is a backend's view of a job. StatusUnknown doubles as the
// zero value, so a handle absent from a QueryStatus result reads as
// unknown.
type RawStatus int

const (
	StatusUnknown RawStatus = iota
	StatusPending
	StatusRunning
	StatusCompleted
	StatusFailed
)

func (s RawStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Submission is one rendered job ready to hand to a backend. StdoutPath
// and StderrPath are where the backend must deliver the captured streams;
// OutputDir is where the job may leave named output files. All three live
// in the same result directory.
type Submission struct {
	Name       string
	Script     string
	WorkDir    string
	StdoutPath string
	StderrPath string
	OutputDir  string
}

// SubmissionError reports a failed submit along with whatever the backend
// printed about it.
type SubmissionError struct {
	Backend string
	Output  string
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s submit: %v: %s", e.Backend, e.Err, e.Output)
	}
	return fmt.Sprintf("%s submit: %v", e.Backend, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Scheduler is the batch backend boundary. QueryStatus resolves handles in
// one batched call; handles the backend no longer knows come back as
// StatusUnknown.
type Scheduler interface {
	Submit(ctx context.Context, sub Submission) (JobHandle, error)
	QueryStatus(ctx context.Context, handles []JobHandle) (map[JobHandle]RawStatus, error)
	Cancel(ctx context.Context, handle JobHandle) error
}
