package cmd

import (
	"os"

	"github.com/benchsweep/benchsweep/internal/config"
	"github.com/benchsweep/benchsweep/internal/report"
	"github.com/benchsweep/benchsweep/internal/store"
	"github.com/spf13/cobra"
)

var (
	flagFormat      string
	flagReportBench string
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <plan.yaml>",
		Short: "Summarize recorded results per bench and combination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := config.Load(args[0])
			if err != nil {
				return err
			}
			st := store.New(flagResults)
			return report.Generate(plan, st, flagFormat, flagReportBench, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", "table", "output format (table, markdown, json)")
	cmd.Flags().StringVar(&flagReportBench, "bench", "", "report a single bench")
	return cmd
}
