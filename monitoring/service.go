package monitoring

import (
	"strconv"
	"time"
)

const (
	requestsTotal    = "roadsafe_http_requests_total"
	requestDuration  = "roadsafe_http_request_duration_seconds"
	predictionsTotal = "roadsafe_predictions_total"
	retrainsTotal    = "roadsafe_model_retrains_total"
	retrainFailures  = "roadsafe_model_retrain_failures_total"
	modelVersion     = "roadsafe_model_version"
	modelRecords     = "roadsafe_model_training_records"
	cacheHits        = "roadsafe_prediction_cache_hits"
	cacheMisses      = "roadsafe_prediction_cache_misses"
	cacheEntries     = "roadsafe_prediction_cache_entries"
)

// ServiceMetrics 预测服务的业务指标
type ServiceMetrics struct {
	*MetricsCollector
}

// NewServiceMetrics 创建业务指标并登记说明
func NewServiceMetrics() *ServiceMetrics {
	mc := NewMetricsCollector()
	mc.Describe(requestsTotal, "HTTP requests by method and status code")
	mc.Describe(requestDuration, "HTTP request latency in seconds")
	mc.Describe(predictionsTotal, "Predictions served by predicted severity")
	mc.Describe(retrainsTotal, "Models trained and published")
	mc.Describe(retrainFailures, "Retraining attempts that kept the previous model")
	mc.Describe(modelVersion, "Version of the published model")
	mc.Describe(modelRecords, "Records the published model was trained on")
	mc.Describe(cacheHits, "Prediction cache hits")
	mc.Describe(cacheMisses, "Prediction cache misses")
	mc.Describe(cacheEntries, "Prediction cache entries")
	return &ServiceMetrics{MetricsCollector: mc}
}

// RecordRequest 记录一次HTTP请求
func (sm *ServiceMetrics) RecordRequest(method string, status int, d time.Duration) {
	labels := map[string]string{"method": method, "code": strconv.Itoa(status)}
	sm.IncrCounter(requestsTotal, 1, labels)
	sm.ObserveDuration(requestDuration, d, map[string]string{"method": method})
}

// RecordPrediction 记录一次预测结果
func (sm *ServiceMetrics) RecordPrediction(label string) {
	sm.IncrCounter(predictionsTotal, 1, map[string]string{"label": label})
}

// RecordRetrain 记录模型发布
func (sm *ServiceMetrics) RecordRetrain(version uint64, records int) {
	sm.IncrCounter(retrainsTotal, 1, nil)
	sm.SetGauge(modelVersion, float64(version), nil)
	sm.SetGauge(modelRecords, float64(records), nil)
}

// RecordRetrainFailure 记录重新训练失败
func (sm *ServiceMetrics) RecordRetrainFailure() {
	sm.IncrCounter(retrainFailures, 1, nil)
}

// SetCacheStats 更新缓存指标
func (sm *ServiceMetrics) SetCacheStats(hits, misses int64, entries int) {
	sm.SetGauge(cacheHits, float64(hits), nil)
	sm.SetGauge(cacheMisses, float64(misses), nil)
	sm.SetGauge(cacheEntries, float64(entries), nil)
}
