package dockerexec_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benchsweep/benchsweep/internal/scheduler"
	"github.com/benchsweep/benchsweep/internal/scheduler/dockerexec"
)

func TestSubmitRejectsScatteredPaths(t *testing.T) {
	b, err := dockerexec.New(dockerexec.Options{Image: "alpine:latest"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	dir := t.TempDir()
	sub := scheduler.Submission{
		Name:       "solo__base__r0",
		Script:     "#!/bin/sh\necho hi\n",
		WorkDir:    dir,
		StdoutPath: filepath.Join(dir, "run", "stdout.log"),
		StderrPath: filepath.Join(dir, "elsewhere", "stderr.log"),
		OutputDir:  filepath.Join(dir, "run", "outputs"),
	}
	_, err = b.Submit(context.Background(), sub)
	var serr *scheduler.SubmissionError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if serr.Backend != "docker" {
		t.Errorf("backend: got %q", serr.Backend)
	}
}

func TestNewNeedsImage(t *testing.T) {
	if _, err := dockerexec.New(dockerexec.Options{}); err == nil {
		t.Error("expected error for empty image")
	}
}

func TestContainerRoundTrip(t *testing.T) {
	if os.Getenv("BENCHSWEEP_DOCKER_TESTS") == "" {
		t.Skip("set BENCHSWEEP_DOCKER_TESTS=1 to run Docker tests")
	}
	b, err := dockerexec.New(dockerexec.Options{Image: "alpine:latest"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	workDir := t.TempDir()
	runDir := filepath.Join(t.TempDir(), "solo__base__r0")
	if err := os.MkdirAll(filepath.Join(runDir, "outputs"), 0o755); err != nil {
		t.Fatal(err)
	}

	script := "#!/bin/sh\n" +
		"echo from-stdout\n" +
		"echo from-stderr >&2\n" +
		"echo artifact > \"$BENCHSWEEP_OUTPUT_DIR/out.txt\"\n"
	handle, err := b.Submit(context.Background(), scheduler.Submission{
		Name:       "solo__base__r0",
		Script:     script,
		WorkDir:    workDir,
		StdoutPath: filepath.Join(runDir, "stdout.log"),
		StderrPath: filepath.Join(runDir, "stderr.log"),
		OutputDir:  filepath.Join(runDir, "outputs"),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	status := waitTerminal(t, b, handle)
	if status != scheduler.StatusCompleted {
		t.Fatalf("status: got %v, want completed", status)
	}

	stdout, err := os.ReadFile(filepath.Join(runDir, "stdout.log"))
	if err != nil {
		t.Fatalf("reading stdout: %v", err)
	}
	if string(stdout) != "from-stdout\n" {
		t.Errorf("stdout: got %q", stdout)
	}
	stderr, err := os.ReadFile(filepath.Join(runDir, "stderr.log"))
	if err != nil {
		t.Fatalf("reading stderr: %v", err)
	}
	if string(stderr) != "from-stderr\n" {
		t.Errorf("stderr: got %q", stderr)
	}
	artifact, err := os.ReadFile(filepath.Join(runDir, "outputs", "out.txt"))
	if err != nil {
		t.Fatalf("reading named output: %v", err)
	}
	if string(artifact) != "artifact\n" {
		t.Errorf("named output: got %q", artifact)
	}
}

func TestContainerFailure(t *testing.T) {
	if os.Getenv("BENCHSWEEP_DOCKER_TESTS") == "" {
		t.Skip("set BENCHSWEEP_DOCKER_TESTS=1 to run Docker tests")
	}
	b, err := dockerexec.New(dockerexec.Options{Image: "alpine:latest"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	runDir := filepath.Join(t.TempDir(), "solo__base__r0")
	if err := os.MkdirAll(filepath.Join(runDir, "outputs"), 0o755); err != nil {
		t.Fatal(err)
	}
	handle, err := b.Submit(context.Background(), scheduler.Submission{
		Name:       "solo__base__r0",
		Script:     "#!/bin/sh\nexit 3\n",
		WorkDir:    t.TempDir(),
		StdoutPath: filepath.Join(runDir, "stdout.log"),
		StderrPath: filepath.Join(runDir, "stderr.log"),
		OutputDir:  filepath.Join(runDir, "outputs"),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if status := waitTerminal(t, b, handle); status != scheduler.StatusFailed {
		t.Errorf("status: got %v, want failed", status)
	}
}

func TestCancelTerminatesRun(t *testing.T) {
	if os.Getenv("BENCHSWEEP_DOCKER_TESTS") == "" {
		t.Skip("set BENCHSWEEP_DOCKER_TESTS=1 to run Docker tests")
	}
	b, err := dockerexec.New(dockerexec.Options{Image: "alpine:latest"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	runDir := filepath.Join(t.TempDir(), "solo__base__r0")
	if err := os.MkdirAll(filepath.Join(runDir, "outputs"), 0o755); err != nil {
		t.Fatal(err)
	}
	handle, err := b.Submit(context.Background(), scheduler.Submission{
		Name:       "solo__base__r0",
		Script:     "#!/bin/sh\nsleep 300\n",
		WorkDir:    t.TempDir(),
		StdoutPath: filepath.Join(runDir, "stdout.log"),
		StderrPath: filepath.Join(runDir, "stderr.log"),
		OutputDir:  filepath.Join(runDir, "outputs"),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := b.Cancel(context.Background(), handle); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if status := waitTerminal(t, b, handle); status != scheduler.StatusFailed {
		t.Errorf("status after cancel: got %v, want failed", status)
	}
}

func waitTerminal(t *testing.T, b *dockerexec.Backend, handle scheduler.JobHandle) scheduler.RawStatus {
	t.Helper()
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		statuses, err := b.QueryStatus(context.Background(), []scheduler.JobHandle{handle})
		if err != nil {
			t.Fatalf("QueryStatus: %v", err)
		}
		switch statuses[handle] {
		case scheduler.StatusCompleted, scheduler.StatusFailed:
			return statuses[handle]
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatal("container did not reach a terminal state")
	return scheduler.StatusUnknown
}
