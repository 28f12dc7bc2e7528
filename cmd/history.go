package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"roadsafe/pipeline"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List staged sources and saved evaluation runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		storage, err := pipeline.NewStorage(cfg.StorageConfig(), logger)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer storage.Close()

		runs, err := storage.ListEvaluations(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("list evaluations: %w", err)
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}
		sources, err := storage.Sources(cmd.Context())
		if err != nil {
			return fmt.Errorf("list sources: %w", err)
		}
		if len(sources) > 0 {
			names := make([]string, 0, len(sources))
			for name := range sources {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Fprintln(out, "Staged sources:")
			for _, name := range names {
				fmt.Fprintf(out, "  %s (%d records)\n", name, sources[name])
			}
			fmt.Fprintln(out)
		}

		if len(runs) == 0 {
			fmt.Fprintln(out, "No evaluation runs recorded")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCREATED\tSOURCE\tMODEL\tTRAIN\tTEST\tSHUFFLED\tACCURACY")
		for _, run := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%t\t%.4f\n",
				shortID(run.ID), run.CreatedAt.Format("2006-01-02 15:04:05"), run.Source, run.ModelName,
				run.TrainSize, run.TestSize, run.Shuffled, run.Accuracy)
		}
		return tw.Flush()
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Maximum number of runs to show")
	historyCmd.Flags().Bool("json", false, "Print runs as JSON")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
