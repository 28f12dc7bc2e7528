package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"roadsafe/pipeline"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load the accident CSV into the SQLite database",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		if source == "" {
			source = defaultSourceName(cfg.Data.Path)
		}
		replace, _ := cmd.Flags().GetBool("replace")
		batchSize := cfg.Database.BatchSize
		if cmd.Flags().Changed("batch-size") {
			batchSize, _ = cmd.Flags().GetInt("batch-size")
		}

		ctx := cmd.Context()
		records, _, err := loadDataset(ctx, "")
		if err != nil {
			return err
		}

		storage, err := pipeline.NewStorage(cfg.StorageConfig(), logger)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer storage.Close()

		ingester := pipeline.NewIngester(pipeline.IngestionConfig{
			BatchSize: batchSize,
			Replace:   replace,
		}, storage, logger)

		stats, err := ingester.Ingest(ctx, source, records)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", source, err)
		}
		if stats.Replaced > 0 {
			logger.Info("previous records replaced", zap.String("source", source), zap.Int64("deleted", stats.Replaced))
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d records into source %q in %d batches\n",
			stats.TotalRecords, source, stats.BatchesProcessed)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("source", "", "Source name to store records under (default: CSV file name)")
	ingestCmd.Flags().Bool("replace", false, "Delete existing records for the source first")
	ingestCmd.Flags().Int("batch-size", 1000, "Records per insert transaction")
}
