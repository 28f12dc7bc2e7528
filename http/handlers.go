package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"roadsafe/ml"
	"roadsafe/monitoring"
)

// maxBatchSize 批量预测的最大记录数
const maxBatchSize = 1000

// RegisterHandlers 注册路由
func RegisterHandlers(mux *http.ServeMux, predictor *Predictor, metrics *monitoring.ServiceMetrics) {
	if metrics == nil {
		metrics = monitoring.NewServiceMetrics()
	}
	h := &handlers{predictor: predictor, metrics: metrics}
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/model", h.handleModel)
	mux.HandleFunc("POST /api/predict", h.handlePredict)
	mux.HandleFunc("POST /api/predict/batch", h.handlePredictBatch)
	mux.HandleFunc("GET /api/metrics", h.handleMetrics)
}

type handlers struct {
	predictor *Predictor
	metrics   *monitoring.ServiceMetrics
}

type modelResponse struct {
	Version   uint64          `json:"version"`
	TrainedAt time.Time       `json:"trained_at"`
	Summary   ml.ModelSummary `json:"summary"`
	Cache     CacheStats      `json:"cache"`
}

type batchRequest struct {
	Records []ml.Record `json:"records"`
}

type batchResponse struct {
	Predictions []ml.Prediction `json:"predictions"`
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if h.predictor.Model() == nil {
		status = "loading"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *handlers) handleModel(w http.ResponseWriter, r *http.Request) {
	model := h.predictor.Model()
	if model == nil {
		writeError(w, http.StatusServiceUnavailable, ErrNoModel.Error())
		return
	}
	writeJSON(w, http.StatusOK, modelResponse{
		Version:   h.predictor.Version(),
		TrainedAt: h.predictor.TrainedAt(),
		Summary:   model.Summary(),
		Cache:     h.predictor.CacheStats(),
	})
}

func (h *handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	var record ml.Record
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		writeError(w, http.StatusBadRequest, "invalid record: "+err.Error())
		return
	}

	pred, err := h.predictor.Classify(record)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	h.metrics.RecordPrediction(pred.Label)
	writeJSON(w, http.StatusOK, pred)
}

func (h *handlers) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch: "+err.Error())
		return
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "records is empty")
		return
	}
	if len(req.Records) > maxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge, "too many records")
		return
	}

	resp := batchResponse{Predictions: make([]ml.Prediction, len(req.Records))}
	for i, record := range req.Records {
		pred, err := h.predictor.Classify(record)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		resp.Predictions[i] = pred
	}
	for _, pred := range resp.Predictions {
		h.metrics.RecordPrediction(pred.Label)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMetrics 默认输出Prometheus文本, format=json 时输出JSON
func (h *handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats := h.predictor.CacheStats()
	h.metrics.SetCacheStats(stats.Hits, stats.Misses, stats.Size)
	h.metrics.CollectSystemMetrics()

	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, h.metrics.GetAllMetrics())
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = h.metrics.ExportPrometheus(w)
}

func statusFor(err error) int {
	if errors.Is(err, ErrNoModel) || errors.Is(err, ml.ErrEmptyModel) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
