package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"roadsafe/ml"
	"roadsafe/pipeline"
)

const modelName = "naive_bayes"

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Train on a split of the dataset and report accuracy on the rest",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("train-fraction") {
			cfg.Training.TrainFraction, _ = cmd.Flags().GetFloat64("train-fraction")
		}
		if cmd.Flags().Changed("shuffle") {
			cfg.Training.Shuffle, _ = cmd.Flags().GetBool("shuffle")
		}
		if cmd.Flags().Changed("seed") {
			cfg.Training.Seed, _ = cmd.Flags().GetInt64("seed")
		}
		if cmd.Flags().Changed("workers") {
			cfg.Evaluation.Workers, _ = cmd.Flags().GetInt("workers")
		}
		source, _ := cmd.Flags().GetString("source")
		save, _ := cmd.Flags().GetBool("save")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx := cmd.Context()
		run, eval, err := evaluate(ctx, source)
		if err != nil {
			return err
		}

		if save {
			storage, err := pipeline.NewStorage(cfg.StorageConfig(), logger)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer storage.Close()
			if err := storage.SaveEvaluation(ctx, run); err != nil {
				return fmt.Errorf("save evaluation: %w", err)
			}
			logger.Info("evaluation saved", zap.String("run_id", run.ID))
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Run        *pipeline.EvaluationRun `json:"run"`
				Evaluation *ml.Evaluation          `json:"evaluation"`
			}{run, eval})
		}
		printEvaluation(cmd.OutOrStdout(), run, eval)
		return nil
	},
}

func init() {
	evaluateCmd.Flags().Float64("train-fraction", 0.8, "Fraction of records used for training")
	evaluateCmd.Flags().Bool("shuffle", false, "Shuffle records before splitting")
	evaluateCmd.Flags().Int64("seed", 1, "Shuffle seed")
	evaluateCmd.Flags().Int("workers", 4, "Concurrent prediction workers")
	evaluateCmd.Flags().String("source", "", "Read records from this database source instead of the CSV")
	evaluateCmd.Flags().Bool("save", false, "Record the run in the database")
	evaluateCmd.Flags().Bool("json", false, "Print the report as JSON")
}

func evaluate(ctx context.Context, source string) (*pipeline.EvaluationRun, *ml.Evaluation, error) {
	records, name, err := loadDataset(ctx, source)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Training.Shuffle {
		records = ml.Shuffle(records, cfg.Training.Seed)
	}
	train, test, err := ml.SplitTrainTest(records, cfg.Training.TrainFraction)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("dataset split",
		zap.Int("train", len(train)),
		zap.Int("test", len(test)),
		zap.Float64("train_fraction", cfg.Training.TrainFraction),
	)

	model := ml.Train(train)
	eval, err := ml.Evaluate(ctx, model, test, cfg.Evaluation.Workers)
	if err != nil {
		return nil, nil, fmt.Errorf("evaluate: %w", err)
	}
	logger.Info("evaluation finished",
		zap.Float64("accuracy", eval.Accuracy),
		zap.Int("correct", eval.Correct),
		zap.Int("total", eval.Total),
	)

	run := &pipeline.EvaluationRun{
		Source:        name,
		ModelName:     modelName,
		TrainFraction: cfg.Training.TrainFraction,
		Shuffled:      cfg.Training.Shuffle,
		Seed:          cfg.Training.Seed,
		TrainSize:     len(train),
		TestSize:      len(test),
		Accuracy:      eval.Accuracy,
		Classes:       eval.Classes,
	}
	return run, eval, nil
}

func printEvaluation(out io.Writer, run *pipeline.EvaluationRun, eval *ml.Evaluation) {
	fmt.Fprintf(out, "Source:   %s\n", run.Source)
	fmt.Fprintf(out, "Train:    %d records\n", run.TrainSize)
	fmt.Fprintf(out, "Test:     %d records\n", run.TestSize)
	fmt.Fprintf(out, "Accuracy: %.4f (%d/%d)\n\n", eval.Accuracy, eval.Correct, eval.Total)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tSUPPORT\tPREDICTED\tPRECISION\tRECALL\tF1")
	for _, c := range eval.Classes {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.4f\t%.4f\t%.4f\n", c.Label, c.Support, c.Predicted, c.Precision, c.Recall, c.F1)
	}
	tw.Flush()

	labels := make([]string, 0, len(eval.Classes))
	for _, c := range eval.Classes {
		labels = append(labels, c.Label)
	}

	fmt.Fprintln(out, "\nConfusion (rows actual, columns predicted)")
	tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprint(tw, "\t")
	for _, l := range labels {
		fmt.Fprintf(tw, "%s\t", l)
	}
	fmt.Fprintln(tw)
	for _, actual := range labels {
		fmt.Fprintf(tw, "%s\t", actual)
		for _, predicted := range labels {
			fmt.Fprintf(tw, "%d\t", eval.Confusion[actual][predicted])
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()
}
