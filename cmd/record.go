package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/benchsweep/benchsweep/internal/config"
	"github.com/benchsweep/benchsweep/internal/dispatch"
	"github.com/benchsweep/benchsweep/internal/matrix"
	"github.com/benchsweep/benchsweep/internal/report"
	"github.com/benchsweep/benchsweep/internal/scheduler"
	"github.com/benchsweep/benchsweep/internal/scheduler/dockerexec"
	"github.com/benchsweep/benchsweep/internal/scheduler/slurm"
	"github.com/benchsweep/benchsweep/internal/store"
	"github.com/benchsweep/benchsweep/internal/track"
	"github.com/docker/go-units"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	flagBench         string
	flagDryRun        bool
	flagClobber       bool
	flagWait          bool
	flagTimeout       time.Duration
	flagParallel      int
	flagScheduler     string
	flagImage         string
	flagDockerCPUs    float64
	flagDockerMemory  string
	flagEnvFile       string
	flagSubmitCommand string
	flagQueryCommand  string
	flagCancelCommand string
)

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record <plan.yaml>",
		Short: "Expand a plan and submit every run instance",
		Args:  cobra.ExactArgs(1),
		RunE:  runRecord,
	}
	cmd.Flags().StringVar(&flagBench, "bench", "", "record a single bench")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "print rendered job scripts without submitting")
	cmd.Flags().BoolVar(&flagClobber, "clobber", false, "discard previously recorded results and resubmit")
	cmd.Flags().BoolVar(&flagWait, "wait", false, "block until every submitted run is terminal")
	cmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "cap on --wait (default 48h)")
	cmd.Flags().IntVar(&flagParallel, "parallel", 1, "max concurrent submissions")
	cmd.Flags().StringVar(&flagScheduler, "scheduler", "slurm", "scheduler backend (slurm, docker)")
	cmd.Flags().StringVar(&flagImage, "image", "", "container image for the docker backend")
	cmd.Flags().Float64Var(&flagDockerCPUs, "docker-cpus", 0, "cpu limit for docker runs")
	cmd.Flags().StringVar(&flagDockerMemory, "docker-memory", "", "memory limit for docker runs, e.g. 2g")
	cmd.Flags().StringVar(&flagEnvFile, "env-file", "", "env file exported into every job script")
	cmd.Flags().StringVar(&flagSubmitCommand, "submit-command", "", "override the slurm submit command")
	cmd.Flags().StringVar(&flagQueryCommand, "query-command", "", "override the slurm queue query command")
	cmd.Flags().StringVar(&flagCancelCommand, "cancel-command", "", "override the slurm cancel command")
	return cmd
}

func runRecord(cmd *cobra.Command, args []string) error {
	plan, err := config.Load(args[0])
	if err != nil {
		return err
	}
	benches := filterBenches(plan.Benches, flagBench)
	if len(benches) == 0 {
		return fmt.Errorf("no bench named %q", flagBench)
	}

	extraEnv, err := loadEnvPairs(flagEnvFile)
	if err != nil {
		return err
	}

	instances, expandFailures := expandBenches(plan, benches)
	if len(instances) == 0 {
		if expandFailures > 0 {
			return fmt.Errorf("no bench expanded cleanly")
		}
		fmt.Println("nothing to record")
		return nil
	}

	wait := flagWait
	var sched scheduler.Scheduler
	switch flagScheduler {
	case "slurm":
		sched, err = slurm.New(slurm.Options{
			SubmitCommand: flagSubmitCommand,
			QueryCommand:  flagQueryCommand,
			CancelCommand: flagCancelCommand,
		})
		if err != nil {
			return err
		}
	case "docker":
		mem, err := dockerMemoryBytes(flagDockerMemory)
		if err != nil {
			return err
		}
		backend, err := dockerexec.New(dockerexec.Options{
			Image:       flagImage,
			CPULimit:    flagDockerCPUs,
			MemoryLimit: mem,
		})
		if err != nil {
			return err
		}
		defer backend.Close()
		if !wait && !flagDryRun {
			// Container state lives in the backend, so the process has
			// to stay alive until every run is terminal.
			slog.Warn("docker runs cannot be tracked across invocations, forcing --wait")
			wait = true
		}
		sched = backend
	default:
		return fmt.Errorf("unknown scheduler %q", flagScheduler)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	st := store.New(flagResults)
	d := dispatch.New(sched, st, dispatch.Options{
		DryRun:     flagDryRun,
		Clobber:    flagClobber,
		Workers:    flagParallel,
		Directives: flagScheduler == "slurm",
		WorkDir:    workDir,
		ExtraEnv:   extraEnv,
	})

	if !flagDryRun {
		fmt.Printf("Recording %d runs into %s\n", len(instances), st.Root())
	}
	summary := d.Dispatch(ctx, instances)
	for _, err := range summary.Failed {
		fmt.Printf("  ERROR: %v\n", err)
	}
	if flagDryRun {
		return nil
	}
	fmt.Printf("submitted %d, skipped %d, failed %d\n",
		len(summary.Submitted), len(summary.Skipped), len(summary.Failed))

	if !wait {
		if len(summary.Submitted) == 0 && len(summary.Skipped) == 0 {
			return fmt.Errorf("every submission failed")
		}
		return nil
	}

	tracker := track.New(sched, st, st)
	for _, sub := range summary.Submitted {
		tracker.Add(sub.Instance, sub.Handle)
	}
	stragglers := tracker.Wait(ctx, flagTimeout)
	if ctx.Err() != nil {
		if n := tracker.CancelRemaining(context.Background()); n > 0 {
			slog.Info("cancelled remaining runs", "count", n)
		}
		return fmt.Errorf("interrupted")
	}
	if len(stragglers) > 0 {
		slog.Warn("wait timed out", "remaining", len(stragglers))
	}

	runs := tracker.Runs()
	fmt.Printf("\n%s\n", stateSummary(runs))
	if len(stragglers) == 0 {
		fmt.Println("\n--- Results ---")
		if err := report.Generate(plan, st, "table", flagBench, os.Stdout); err != nil {
			slog.Warn("rendering results", "error", err)
		}
	}
	if len(stragglers) == 0 && len(summary.Skipped) == 0 && !anyCompleted(runs) {
		return fmt.Errorf("every run failed")
	}
	return nil
}

func filterBenches(benches []*config.Bench, name string) []*config.Bench {
	if name == "" {
		return benches
	}
	var filtered []*config.Bench
	for _, b := range benches {
		if b.Name == name {
			filtered = append(filtered, b)
		}
	}
	return filtered
}

// expandBenches expands every active bench. A bench whose templates do
// not resolve is reported and skipped; its siblings still run.
func expandBenches(plan *config.Plan, benches []*config.Bench) ([]*matrix.RunInstance, int) {
	var instances []*matrix.RunInstance
	failures := 0
	for _, b := range benches {
		if !b.Active() {
			slog.Info("bench disabled, skipping", "bench", b.Name)
			continue
		}
		insts, err := matrix.Expand(b, plan.RunConfigurations[b.RunConfiguration])
		if err != nil {
			slog.Error("expanding bench", "bench", b.Name, "error", err)
			failures++
			continue
		}
		instances = append(instances, insts...)
	}
	return instances, failures
}

// loadEnvPairs reads an env file into deterministically ordered pairs.
func loadEnvPairs(path string) (config.Pairs, error) {
	if path == "" {
		return nil, nil
	}
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading env file: %w", err)
	}
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make(config.Pairs, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, config.Pair{Name: name, Value: env[name]})
	}
	return pairs, nil
}

func dockerMemoryBytes(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("bad memory limit %q: %w", s, err)
	}
	return n, nil
}

func stateSummary(runs []track.Run) string {
	counts := make(map[track.State]int)
	for _, r := range runs {
		counts[r.State]++
	}
	var parts []string
	for _, s := range []track.State{track.Completed, track.Failed, track.Cancelled, track.Running, track.Submitted, track.Pending} {
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[s], s))
		}
	}
	if len(parts) == 0 {
		return "no runs tracked"
	}
	return strings.Join(parts, ", ")
}

func anyCompleted(runs []track.Run) bool {
	for _, r := range runs {
		if r.State == track.Completed {
			return true
		}
	}
	return false
}
