package cmd

import (
	"fmt"
	"strings"

	"github.com/benchsweep/benchsweep/internal/config"
	"github.com/benchsweep/benchsweep/internal/matrix"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <plan.yaml>",
		Short: "List benches and their expansion sizes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Plan: %s\n\nBenches:\n", plan.Name)
			total := 0
			for _, b := range plan.Benches {
				instances, err := matrix.Expand(b, plan.RunConfigurations[b.RunConfiguration])
				if err != nil {
					fmt.Printf("  - %s: %v\n", b.Name, err)
					continue
				}
				note := ""
				if !b.Active() {
					note = " (disabled)"
				} else {
					total += len(instances)
				}
				fmt.Printf("  - %s%s: %s, %s, %d reruns, %d runs\n",
					b.Name, note, b.RunConfiguration, axisSummary(b.Matrix), b.RerunCount(), len(instances))
			}
			fmt.Printf("\nTotal: %d runs\n", total)
			return nil
		},
	}
}

func axisSummary(axes []config.Axis) string {
	if len(axes) == 0 {
		return "no axes"
	}
	parts := make([]string, len(axes))
	for i, a := range axes {
		parts[i] = fmt.Sprintf("%s×%d", a.Name, len(a.Values))
	}
	return strings.Join(parts, " ")
}
