package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"roadsafe/ml"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Train on the whole dataset and classify a single accident",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		asJSON, _ := cmd.Flags().GetBool("json")

		var record ml.Record
		record.JunctionControl, _ = cmd.Flags().GetString("junction-control")
		record.JunctionDetail, _ = cmd.Flags().GetString("junction-detail")
		record.LightConditions, _ = cmd.Flags().GetString("light-conditions")
		record.RoadSurfaceConditions, _ = cmd.Flags().GetString("road-surface")
		record.WeatherConditions, _ = cmd.Flags().GetString("weather")
		record.VehicleType, _ = cmd.Flags().GetString("vehicle-type")

		records, _, err := loadDataset(cmd.Context(), source)
		if err != nil {
			return err
		}
		model := ml.Train(records)

		prediction, err := model.Classify(record.Fill())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(prediction)
		}

		fmt.Fprintf(out, "Predicted severity: %s (%.4f)\n\n", prediction.Label, prediction.Confidence)
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "LABEL\tPROBABILITY\tLOG SCORE")
		for _, s := range prediction.Scores {
			fmt.Fprintf(tw, "%s\t%.4f\t%.4f\n", s.Label, s.Probability, s.LogScore)
		}
		return tw.Flush()
	},
}

func init() {
	predictCmd.Flags().String("source", "", "Train from this database source instead of the CSV")
	predictCmd.Flags().Bool("json", false, "Print the prediction as JSON")
	predictCmd.Flags().String("junction-control", "", "Junction control")
	predictCmd.Flags().String("junction-detail", "", "Junction detail")
	predictCmd.Flags().String("light-conditions", "", "Light conditions")
	predictCmd.Flags().String("road-surface", "", "Road surface conditions")
	predictCmd.Flags().String("weather", "", "Weather conditions")
	predictCmd.Flags().String("vehicle-type", "", "Vehicle type")
}
