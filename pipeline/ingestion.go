package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"roadsafe/ml"
)

// IngestionConfig 数据摄取配置
type IngestionConfig struct {
	BatchSize  int  `json:"batch_size"`
	MaxRetries int  `json:"max_retries"`
	Replace    bool `json:"replace"`
}

// RecordStorage 记录存储接口
type RecordStorage interface {
	SaveBatch(ctx context.Context, source string, records []ml.Record) error
	ReplaceSource(ctx context.Context, source string, records []ml.Record) (int64, error)
}

// IngestionStats 摄取统计
type IngestionStats struct {
	TotalRecords     int64         `json:"total_records"`
	FailedRecords    int64         `json:"failed_records"`
	BatchesProcessed int64         `json:"batches_processed"`
	Replaced         int64         `json:"replaced"`
	Duration         time.Duration `json:"duration"`
}

// Ingester 将记录分批写入存储
type Ingester struct {
	config  IngestionConfig
	storage RecordStorage
	logger  *zap.Logger

	stats     IngestionStats
	statsLock sync.RWMutex
}

// NewIngester 创建摄取器
func NewIngester(config IngestionConfig, storage RecordStorage, logger *zap.Logger) *Ingester {
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Ingester{
		config:  config,
		storage: storage,
		logger:  logger,
	}
}

// Ingest 写入某来源的全部记录
func (in *Ingester) Ingest(ctx context.Context, source string, records []ml.Record) (IngestionStats, error) {
	start := time.Now()
	in.resetStats()

	if in.config.Replace {
		return in.replace(ctx, source, records, start)
	}

	for offset := 0; offset < len(records); offset += in.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return in.finish(start), err
		}
		end := min(offset+in.config.BatchSize, len(records))
		batch := records[offset:end]

		if err := in.saveWithRetry(ctx, source, batch); err != nil {
			in.statsLock.Lock()
			in.stats.FailedRecords += int64(len(records) - offset)
			in.statsLock.Unlock()
			return in.finish(start), fmt.Errorf("save batch at offset %d: %w", offset, err)
		}

		in.statsLock.Lock()
		in.stats.TotalRecords += int64(len(batch))
		in.stats.BatchesProcessed++
		in.statsLock.Unlock()

		in.logger.Debug("batch saved",
			zap.String("source", source),
			zap.Int("offset", offset),
			zap.Int("size", len(batch)),
		)
	}

	stats := in.finish(start)
	in.logger.Info("ingestion finished",
		zap.String("source", source),
		zap.Int64("records", stats.TotalRecords),
		zap.Int64("batches", stats.BatchesProcessed),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}

// replace 整体替换某来源的记录, 任何失败都不会留下部分写入
func (in *Ingester) replace(ctx context.Context, source string, records []ml.Record, start time.Time) (IngestionStats, error) {
	var deleted int64
	err := in.retry(ctx, source, func() error {
		n, err := in.storage.ReplaceSource(ctx, source, records)
		deleted = n
		return err
	})
	if err != nil {
		in.statsLock.Lock()
		in.stats.FailedRecords = int64(len(records))
		in.statsLock.Unlock()
		return in.finish(start), fmt.Errorf("replace source %s: %w", source, err)
	}

	in.statsLock.Lock()
	in.stats.Replaced = deleted
	in.stats.TotalRecords = int64(len(records))
	in.stats.BatchesProcessed = 1
	in.statsLock.Unlock()

	stats := in.finish(start)
	in.logger.Info("source replaced",
		zap.String("source", source),
		zap.Int64("records", stats.TotalRecords),
		zap.Int64("deleted", stats.Replaced),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}

// saveWithRetry 失败时重试
func (in *Ingester) saveWithRetry(ctx context.Context, source string, batch []ml.Record) error {
	return in.retry(ctx, source, func() error {
		return in.storage.SaveBatch(ctx, source, batch)
	})
}

func (in *Ingester) retry(ctx context.Context, source string, op func() error) error {
	var err error
	for attempt := 1; attempt <= in.config.MaxRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		in.logger.Warn("write failed",
			zap.String("source", source),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func (in *Ingester) resetStats() {
	in.statsLock.Lock()
	in.stats = IngestionStats{}
	in.statsLock.Unlock()
}

func (in *Ingester) finish(start time.Time) IngestionStats {
	in.statsLock.Lock()
	in.stats.Duration = time.Since(start)
	in.statsLock.Unlock()
	return in.GetStats()
}

// GetStats 获取统计信息
func (in *Ingester) GetStats() IngestionStats {
	in.statsLock.RLock()
	defer in.statsLock.RUnlock()

	return in.stats
}
