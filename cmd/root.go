package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"roadsafe/config"
	"roadsafe/logging"
	"roadsafe/ml"
	"roadsafe/pipeline"
)

const defaultConfigPath = "config.yaml"

var (
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:           "roadsafe",
	Short:         "Predict accident severity with a categorical Naive Bayes model",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		logger.Error("command failed", zap.Error(err))
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().String("config", defaultConfigPath, "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("data", "", "Path to accident CSV (overrides data.path)")
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite database (overrides database.path)")

	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
}

// setup loads config, applies flag overrides and builds the logger.
func setup(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	required := cmd.Flags().Changed("config")

	c, err := config.Load(path, required)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		c.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("data"); v != "" {
		c.Data.Path = v
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		c.Database.Path = v
	}

	l, err := logging.New(c.Log)
	if err != nil {
		return err
	}

	cfg, logger = c, l
	return nil
}

// loadDataset reads records from the CSV at data.path, or from the SQLite
// source when one is named.
func loadDataset(ctx context.Context, source string) ([]ml.Record, string, error) {
	if source != "" {
		storage, err := pipeline.NewStorage(cfg.StorageConfig(), logger)
		if err != nil {
			return nil, "", fmt.Errorf("open database: %w", err)
		}
		defer storage.Close()

		records, err := storage.LoadRecords(ctx, source)
		if err != nil {
			return nil, "", fmt.Errorf("load source %s: %w", source, err)
		}
		logger.Info("dataset loaded from database", zap.String("source", source), zap.Int("records", len(records)))
		return records, source, nil
	}

	records, err := pipeline.LoadRecords(cfg.Data.Path, cfg.LoaderConfig(), logger)
	if err != nil {
		var partial *pipeline.PartialLoadError
		if !errors.As(err, &partial) || !cfg.Data.AllowPartial {
			return nil, "", err
		}
		logger.Warn("continuing with partial dataset",
			zap.Int("records", len(records)),
			zap.Error(err),
		)
	}
	return records, cfg.Data.Path, nil
}

func defaultSourceName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
