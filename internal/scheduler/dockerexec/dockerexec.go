// Package dockerexec runs benchmark scripts in local Docker containers.
// It implements the same Scheduler contract as the slurm backend, so a
// plan can be exercised on a laptop before it ever touches a cluster.
package dockerexec

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"

	"github.com/benchsweep/benchsweep/internal/scheduler"
)

// Paths inside the container. The run's working tree is mounted at
// workspaceDir and its artifact directory at runDir, so the script's
// redirections land directly in the result store on the host.
const (
	workspaceDir = "/workspace"
	runDir       = "/benchsweep/run"
)

// Options configure the backend. Image is required; the limits are
// passed through to the container when set.
type Options struct {
	Image       string
	CPULimit    float64
	MemoryLimit int64
}

type job struct {
	done     bool
	exitCode int64
}

// Backend submits each run as one container. Container state lives in
// process memory, so callers must keep the Backend alive until every
// run has been observed in a terminal state.
type Backend struct {
	cli  *client.Client
	opts Options

	mu   sync.Mutex
	jobs map[scheduler.JobHandle]*job
}

func New(opts Options) (*Backend, error) {
	if opts.Image == "" {
		return nil, fmt.Errorf("docker backend needs an image")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Backend{
		cli:  cli,
		opts: opts,
		jobs: make(map[scheduler.JobHandle]*job),
	}, nil
}

// Close releases the Docker client. Containers still running keep
// running; Cancel them first if that matters.
func (b *Backend) Close() error {
	return b.cli.Close()
}

// Submit starts a container for the run and returns its container id as
// the handle. The script's stdout and stderr are redirected inside the
// container onto the bind-mounted artifact directory, so no log
// streaming is needed afterwards.
func (b *Backend) Submit(ctx context.Context, sub scheduler.Submission) (scheduler.JobHandle, error) {
	artifactDir, err := artifactDir(sub)
	if err != nil {
		return "", &scheduler.SubmissionError{Backend: "docker", Err: err}
	}

	wrapped := fmt.Sprintf("exec >%s 2>%s\n%s",
		filepath.Join(runDir, filepath.Base(sub.StdoutPath)),
		filepath.Join(runDir, filepath.Base(sub.StderrPath)),
		sub.Script)

	initTrue := true
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: sub.WorkDir, Target: workspaceDir},
			{Type: mount.TypeBind, Source: artifactDir, Target: runDir},
		},
		Init: &initTrue,
	}
	if b.opts.CPULimit > 0 {
		hostCfg.NanoCPUs = int64(b.opts.CPULimit * 1e9)
	}
	if b.opts.MemoryLimit > 0 {
		hostCfg.Memory = b.opts.MemoryLimit
	}

	containerCfg := &container.Config{
		Image:      b.opts.Image,
		Cmd:        []string{"/bin/sh", "-c", wrapped},
		WorkingDir: workspaceDir,
		Env: []string{
			"BENCHSWEEP_OUTPUT_DIR=" + filepath.Join(runDir, filepath.Base(sub.OutputDir)),
		},
		Labels: map[string]string{
			"benchsweep":     "true",
			"benchsweep.run": sub.Name,
		},
	}

	createResp, err := b.cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		return "", &scheduler.SubmissionError{Backend: "docker", Err: fmt.Errorf("creating container: %w", err)}
	}
	id := createResp.ID

	if _, err := b.cli.ContainerStart(ctx, id, client.ContainerStartOptions{}); err != nil {
		b.cli.ContainerRemove(context.Background(), id, client.ContainerRemoveOptions{Force: true})
		return "", &scheduler.SubmissionError{Backend: "docker", Err: fmt.Errorf("starting container: %w", err)}
	}

	handle := scheduler.JobHandle(id)
	b.mu.Lock()
	b.jobs[handle] = &job{}
	b.mu.Unlock()

	go b.collect(handle, id)
	return handle, nil
}

// collect blocks until the container exits, records the exit code and
// removes the container. It runs detached from the submit context: the
// container outlives Submit and so must its observer.
func (b *Backend) collect(handle scheduler.JobHandle, id string) {
	ctx := context.Background()
	waitResult := b.cli.ContainerWait(ctx, id, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	code := int64(-1)
	for waiting := true; waiting; {
		select {
		case err := <-waitResult.Error:
			if err != nil {
				slog.Warn("container wait failed", "container", short(id), "error", err)
				waiting = false
			}
			// nil means nothing went wrong on this channel; keep waiting
		case status := <-waitResult.Result:
			code = status.StatusCode
			waiting = false
		}
	}

	b.mu.Lock()
	j := b.jobs[handle]
	j.done = true
	j.exitCode = code
	b.mu.Unlock()

	b.cli.ContainerRemove(ctx, id, client.ContainerRemoveOptions{Force: true})
}

// QueryStatus answers from the in-memory job table. Handles submitted
// by another process are unknown here.
func (b *Backend) QueryStatus(ctx context.Context, handles []scheduler.JobHandle) (map[scheduler.JobHandle]scheduler.RawStatus, error) {
	statuses := make(map[scheduler.JobHandle]scheduler.RawStatus, len(handles))
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range handles {
		j, ok := b.jobs[h]
		if !ok {
			continue
		}
		switch {
		case !j.done:
			statuses[h] = scheduler.StatusRunning
		case j.exitCode == 0:
			statuses[h] = scheduler.StatusCompleted
		default:
			statuses[h] = scheduler.StatusFailed
		}
	}
	return statuses, nil
}

// Cancel kills the container. The collector then observes the exit and
// cleans up as usual.
func (b *Backend) Cancel(ctx context.Context, handle scheduler.JobHandle) error {
	if _, err := b.cli.ContainerKill(ctx, string(handle), client.ContainerKillOptions{Signal: "SIGKILL"}); err != nil {
		return fmt.Errorf("killing container %s: %w", short(string(handle)), err)
	}
	return nil
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// artifactDir derives the run's artifact directory from the submission
// paths and checks they all live in it. The whole directory is mounted
// into the container, so stray paths would silently write elsewhere.
func artifactDir(sub scheduler.Submission) (string, error) {
	if sub.StdoutPath == "" || sub.StderrPath == "" || sub.OutputDir == "" {
		return "", fmt.Errorf("docker backend needs stdout, stderr and output paths")
	}
	dir := filepath.Dir(sub.StdoutPath)
	if filepath.Dir(sub.StderrPath) != dir {
		return "", fmt.Errorf("stderr path %s is outside the run directory %s", sub.StderrPath, dir)
	}
	if filepath.Dir(sub.OutputDir) != dir {
		return "", fmt.Errorf("output dir %s is outside the run directory %s", sub.OutputDir, dir)
	}
	return dir, nil
}
