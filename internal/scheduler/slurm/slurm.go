package slurm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/benchsweep/benchsweep/internal/scheduler"
)

// Options overrides the slurm client commands, mainly so tests and sites
// with wrappers can swap them out. Each value is a full command string,
// split with shell quoting rules.
type Options struct {
	SubmitCommand string
	QueryCommand  string
	CancelCommand string
}

// Backend submits job scripts through sbatch and watches them through
// squeue.
type Backend struct {
	submit []string
	query  []string
	cancel []string
}

var jobIDRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// unqueuedMarker is what squeue prints when every requested job already
// left the queue.
const unqueuedMarker = "Invalid job id specified"

func New(opts Options) (*Backend, error) {
	submit, err := parseCommand("submit", opts.SubmitCommand, "sbatch")
	if err != nil {
		return nil, err
	}
	query, err := parseCommand("query", opts.QueryCommand, "squeue")
	if err != nil {
		return nil, err
	}
	cancel, err := parseCommand("cancel", opts.CancelCommand, "scancel")
	if err != nil {
		return nil, err
	}
	return &Backend{submit: submit, query: query, cancel: cancel}, nil
}

func parseCommand(name, value, fallback string) ([]string, error) {
	if value == "" {
		value = fallback
	}
	argv, err := shellquote.Split(value)
	if err != nil {
		return nil, fmt.Errorf("bad %s command %q: %w", name, value, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty %s command", name)
	}
	return argv, nil
}

// Submit writes the script to a temporary file and hands it to sbatch.
// The handle is the job id parsed from sbatch's output.
func (b *Backend) Submit(ctx context.Context, sub scheduler.Submission) (scheduler.JobHandle, error) {
	script, err := os.CreateTemp(sub.WorkDir, sub.Name+"-*.sbatch")
	if err != nil {
		return "", &scheduler.SubmissionError{Backend: "slurm", Err: fmt.Errorf("writing script: %w", err)}
	}
	path := script.Name()
	defer os.Remove(path)
	if _, err := script.WriteString(sub.Script); err != nil {
		script.Close()
		return "", &scheduler.SubmissionError{Backend: "slurm", Err: fmt.Errorf("writing script: %w", err)}
	}
	if err := script.Close(); err != nil {
		return "", &scheduler.SubmissionError{Backend: "slurm", Err: fmt.Errorf("writing script: %w", err)}
	}

	argv := append(append([]string{}, b.submit...), path)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = sub.WorkDir
	out, err := cmd.Output()
	if err != nil {
		return "", &scheduler.SubmissionError{Backend: "slurm", Output: exitStderr(err), Err: err}
	}
	m := jobIDRe.FindSubmatch(out)
	if m == nil {
		return "", &scheduler.SubmissionError{
			Backend: "slurm",
			Output:  strings.TrimSpace(string(out)),
			Err:     errors.New("no job id in sbatch output"),
		}
	}
	return scheduler.JobHandle(m[1]), nil
}

// QueryStatus resolves all handles with one squeue call. Jobs squeue no
// longer lists are simply absent from the result.
func (b *Backend) QueryStatus(ctx context.Context, handles []scheduler.JobHandle) (map[scheduler.JobHandle]scheduler.RawStatus, error) {
	statuses := make(map[scheduler.JobHandle]scheduler.RawStatus, len(handles))
	if len(handles) == 0 {
		return statuses, nil
	}
	ids := make([]string, len(handles))
	for i, h := range handles {
		ids[i] = string(h)
	}

	argv := append(append([]string{}, b.query...), "-h", "-o", "%A %T", "-j", strings.Join(ids, ","))
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.Output()
	if err != nil && !strings.Contains(exitStderr(err), unqueuedMarker) {
		return nil, fmt.Errorf("querying queue: %w", err)
	}

	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		statuses[scheduler.JobHandle(fields[0])] = translate(fields[1])
	}
	return statuses, nil
}

func (b *Backend) Cancel(ctx context.Context, handle scheduler.JobHandle) error {
	argv := append(append([]string{}, b.cancel...), string(handle))
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("cancelling job %s: %v: %s", handle, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func translate(state string) scheduler.RawStatus {
	switch state {
	case "PENDING", "CONFIGURING", "SUSPENDED", "REQUEUED":
		return scheduler.StatusPending
	case "RUNNING", "COMPLETING", "STAGE_OUT":
		return scheduler.StatusRunning
	case "COMPLETED":
		return scheduler.StatusCompleted
	case "FAILED", "TIMEOUT", "OUT_OF_MEMORY", "NODE_FAIL", "BOOT_FAIL", "DEADLINE", "PREEMPTED", "CANCELLED":
		return scheduler.StatusFailed
	default:
		return scheduler.StatusUnknown
	}
}

func exitStderr(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return strings.TrimSpace(string(exitErr.Stderr))
	}
	return ""
}
