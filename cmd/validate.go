package cmd

import (
	"fmt"

	"github.com/benchsweep/benchsweep/internal/config"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan.yaml>",
		Short: "Check a plan without running anything",
		Long:  "Parse and validate a test plan, reporting every problem found. Exits non-zero if the plan has any.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := config.Load(args[0])
			if err != nil {
				return err
			}
			active := 0
			for _, b := range plan.Benches {
				if b.Active() {
					active++
				}
			}
			fmt.Printf("%s: ok (%d run configurations, %d active benches)\n",
				args[0], len(plan.RunConfigurations), active)
			return nil
		},
	}
}
