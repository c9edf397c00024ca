package dispatch

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/benchsweep/benchsweep/internal/config"
	"github.com/benchsweep/benchsweep/internal/matrix"
)

const timePrefix = "time -p "

// RenderOptions carry the per-submission facts the job script needs
// beyond the instance's resolved run configuration.
type RenderOptions struct {
	// Directives controls the #SBATCH preamble and the scontrol section.
	// Backends that never read them get a plain script.
	Directives bool
	StdoutPath string
	StderrPath string
	OutputDir  string
	// ExtraEnv is exported after the configuration's own variables.
	ExtraEnv config.Pairs
}

// Render builds the POSIX shell job script for one run instance: the
// scheduler preamble, a configuration report, the build steps and the
// timed run, each under its own banner so captured output stays
// greppable.
func Render(inst *matrix.RunInstance, opts RenderOptions) string {
	rc := inst.Resolved
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	if opts.Directives {
		for _, p := range rc.SbatchConfig {
			fmt.Fprintf(&b, "#SBATCH --%s=%s\n", p.Name, p.Value)
		}
		fmt.Fprintf(&b, "#SBATCH --output=%s\n", opts.StdoutPath)
		fmt.Fprintf(&b, "#SBATCH --error=%s\n", opts.StderrPath)
		fmt.Fprintf(&b, "#SBATCH --job-name=%s\n", inst.ID)
	}

	b.WriteString("\necho '===== CONFIGURATION ====='\n")
	if len(rc.ModuleLoads) > 0 {
		b.WriteString("echo '=== MODULE LOADS ==='\n")
		b.WriteString("module purge\n")
		b.WriteString("module load " + strings.Join(rc.ModuleLoads, " ") + "\n")
	}
	env := make(config.Pairs, 0, len(rc.EnvironmentVariables)+len(opts.ExtraEnv))
	env = append(env, rc.EnvironmentVariables...)
	env = append(env, opts.ExtraEnv...)
	if len(env) > 0 || opts.OutputDir != "" {
		b.WriteString("echo '=== ENVIRONMENT VARIABLES ==='\n")
	}
	for _, p := range env {
		b.WriteString("export " + p.Name + "=" + shellquote.Join(p.Value) + "\n")
		b.WriteString("echo " + shellquote.Join(p.Name+"="+p.Value) + "\n")
	}
	if opts.OutputDir != "" {
		// Backends may pre-set the variable to relocate named outputs;
		// the store's directory is only the default.
		b.WriteString(`export BENCHSWEEP_OUTPUT_DIR="${BENCHSWEEP_OUTPUT_DIR:-` + opts.OutputDir + `}"` + "\n")
		b.WriteString("echo \"BENCHSWEEP_OUTPUT_DIR=$BENCHSWEEP_OUTPUT_DIR\"\n")
	}
	b.WriteString("echo '=== CPU ARCHITECTURE ==='\n")
	b.WriteString("lscpu\n")
	if opts.Directives {
		b.WriteString("echo '=== SLURM CONFIG ==='\n")
		b.WriteString("scontrol show job $SLURM_JOB_ID\n")
	}
	if len(inst.Values) > 0 {
		b.WriteString("echo '=== RUN INSTANTIATION ==='\n")
		b.WriteString("echo " + shellquote.Join(inst.Combo()) + "\n")
	}
	b.WriteString("echo\n")

	b.WriteString("\necho '===== BUILD ====='\n")
	if rc.Directory != "" {
		b.WriteString("cd " + shellquote.Join(rc.Directory) + "\n")
	}
	if rc.PreBuilt {
		b.WriteString("echo 'run configuration was pre-built'\n")
	} else {
		for _, cmd := range rc.BuildCommands {
			b.WriteString(cmd + "\n")
		}
	}
	b.WriteString("echo\n")

	b.WriteString("\necho '===== RUN ====='\n")
	b.WriteString(timePrefix + rc.CommandLine() + "\n")

	if len(rc.PostCommands) > 0 {
		b.WriteString("\necho '===== POST RUN ====='\n")
		for _, cmd := range rc.PostCommands {
			b.WriteString(cmd + "\n")
		}
	}
	return b.String()
}
