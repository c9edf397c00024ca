package cmd

import (
	"github.com/benchsweep/benchsweep/internal/config"
	"github.com/benchsweep/benchsweep/internal/store"
	"github.com/benchsweep/benchsweep/internal/tui"
	"github.com/spf13/cobra"
)

func newInteractiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interactive <plan.yaml>",
		Short: "Browse recorded results in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := config.Load(args[0])
			if err != nil {
				return err
			}
			return tui.Run(plan, store.New(flagResults))
		},
	}
}
