package http

import (
	"errors"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"roadsafe/ml"
)

// ErrNoModel 尚未发布模型
var ErrNoModel = errors.New("no model loaded")

type snapshot struct {
	model     *ml.NaiveBayes
	version   uint64
	trainedAt time.Time
}

type cacheKey struct {
	version uint64
	record  ml.Record
}

// Predictor 持有当前模型. 重新训练时整体替换模型, 已发布的模型不会被修改
type Predictor struct {
	current  atomic.Pointer[snapshot]
	versions atomic.Uint64
	cache    *lru.Cache[cacheKey, ml.Prediction]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewPredictor 创建预测器. cacheSize<=0 时不缓存
func NewPredictor(cacheSize int) (*Predictor, error) {
	p := &Predictor{}
	if cacheSize > 0 {
		cache, err := lru.New[cacheKey, ml.Prediction](cacheSize)
		if err != nil {
			return nil, err
		}
		p.cache = cache
	}
	return p, nil
}

// SetModel 发布新模型
func (p *Predictor) SetModel(model *ml.NaiveBayes) {
	version := p.versions.Add(1)
	p.current.Store(&snapshot{model: model, version: version, trainedAt: time.Now()})
	if p.cache != nil {
		p.cache.Purge()
	}
}

// Model 当前模型, 未发布时为nil
func (p *Predictor) Model() *ml.NaiveBayes {
	if s := p.current.Load(); s != nil {
		return s.model
	}
	return nil
}

// Version 当前模型版本, 每次SetModel递增
func (p *Predictor) Version() uint64 {
	if s := p.current.Load(); s != nil {
		return s.version
	}
	return 0
}

// TrainedAt 当前模型发布时间
func (p *Predictor) TrainedAt() time.Time {
	if s := p.current.Load(); s != nil {
		return s.trainedAt
	}
	return time.Time{}
}

// Classify 预测单条记录
func (p *Predictor) Classify(record ml.Record) (ml.Prediction, error) {
	s := p.current.Load()
	if s == nil {
		return ml.Prediction{}, ErrNoModel
	}

	record = record.Unlabeled().Fill()
	key := cacheKey{version: s.version, record: record}
	if p.cache != nil {
		if pred, ok := p.cache.Get(key); ok {
			p.hits.Add(1)
			return pred, nil
		}
	}
	p.misses.Add(1)

	pred, err := s.model.Classify(record)
	if err != nil {
		return ml.Prediction{}, err
	}
	if p.cache != nil {
		p.cache.Add(key, pred)
	}
	return pred, nil
}

// CacheStats 缓存命中统计
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

func (p *Predictor) CacheStats() CacheStats {
	stats := CacheStats{Hits: p.hits.Load(), Misses: p.misses.Load()}
	if p.cache != nil {
		stats.Size = p.cache.Len()
	}
	return stats
}
