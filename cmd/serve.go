package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	qhttp "roadsafe/http"
	"roadsafe/ml"
	"roadsafe/monitoring"
	"roadsafe/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Train a model and serve predictions over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.HTTP.Port, _ = cmd.Flags().GetInt("port")
		}
		source, _ := cmd.Flags().GetString("source")

		predictor, err := qhttp.NewPredictor(cfg.HTTP.CacheSize)
		if err != nil {
			return err
		}
		metrics := monitoring.NewServiceMetrics()
		if err := retrain(cmd.Context(), predictor, metrics, source); err != nil {
			return err
		}

		server := qhttp.NewServer(qhttp.ServerConfig{
			Port:    cfg.HTTP.Port,
			Timeout: cfg.HTTP.Timeout,
		}, predictor, metrics, logger)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			defer cancel()
			return server.Start()
		})
		g.Go(func() error {
			metrics.Run(ctx, cfg.HTTP.MetricsInterval)
			return nil
		})

		if cfg.HTTP.WatchData && source == "" {
			g.Go(func() error {
				return pipeline.WatchFile(ctx, cfg.Data.Path, cfg.HTTP.WatchDebounce, logger, func() {
					reloadDataset(ctx, predictor, metrics)
				})
			})
		}

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case <-quit:
			logger.Info("shutting down")
		case <-ctx.Done():
		}

		cancel()
		if err := server.Stop(); err != nil {
			logger.Warn("server forced to shutdown", zap.Error(err))
		}
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().Int("port", 8080, "HTTP listen port")
	serveCmd.Flags().String("source", "", "Train from this database source instead of the CSV")
}

// retrain 加载数据集, 训练新模型并替换当前模型
func retrain(ctx context.Context, predictor *qhttp.Predictor, metrics *monitoring.ServiceMetrics, source string) error {
	records, name, err := loadDataset(ctx, source)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("dataset %s has no records", name)
	}

	predictor.SetModel(ml.Train(records))
	metrics.RecordRetrain(predictor.Version(), len(records))
	logger.Info("model trained",
		zap.String("source", name),
		zap.Int("records", len(records)),
		zap.Uint64("version", predictor.Version()),
	)
	return nil
}

// reloadDataset 数据文件变化后重新训练. 失败时保留当前模型
func reloadDataset(ctx context.Context, predictor *qhttp.Predictor, metrics *monitoring.ServiceMetrics) {
	if err := retrain(ctx, predictor, metrics, ""); err != nil {
		metrics.RecordRetrainFailure()
		logger.Error("retrain failed, keeping previous model",
			zap.Uint64("version", predictor.Version()),
			zap.Error(err),
		)
	}
}
