package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"newsrag-gateway/internal/pipeline"
	"newsrag-gateway/pkg/logging/logging"
)

const (
	defaultTopK      = 5
	defaultThreshold = 0.2
)

// Answerer is the slice of the pipeline the search endpoint needs.
type Answerer interface {
	Answer(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// SearchHandler serves GET /search.
type SearchHandler struct {
	Pipeline Answerer
}

func NewSearchHandler(p Answerer) *SearchHandler {
	return &SearchHandler{Pipeline: p}
}

// searchResponse is the stable 200 shape. Status distinguishes a cached
// from a fresh answer so callers can branch without parsing free text.
type searchResponse struct {
	Status        string   `json:"status"`
	Cached        bool     `json:"cached"`
	Answer        string   `json:"answer"`
	Sources       []string `json:"sources"`
	InferenceTime float64  `json:"inference_time"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Search handles GET /search?user_id=&text=&top_k=&threshold=.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	q := r.URL.Query()

	callerID := q.Get("user_id")
	if callerID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Detail: "user_id is required"})
		return
	}

	topK := defaultTopK
	if raw := q.Get("top_k"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Detail: "top_k must be an integer"})
			return
		}
		topK = v
	}

	threshold := defaultThreshold
	if raw := q.Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Detail: "threshold must be a number"})
			return
		}
		threshold = v
	}

	req := pipeline.Request{
		Query:     q.Get("text"),
		TopK:      topK,
		Threshold: threshold,
		CallerID:  callerID,
	}

	res, err := h.Pipeline.Answer(ctx, req)

	switch {
	case errors.Is(err, pipeline.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Detail: err.Error()})
		return
	case errors.Is(err, pipeline.ErrUpstream):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "upstream_unavailable"})
		return
	case errors.Is(err, pipeline.ErrInternal):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	case err != nil:
		logger.Error("unclassified pipeline error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}

	if res.Status == pipeline.StatusRejectedQuota {
		logger.Warn("too many requests",
			zap.String("user_id", callerID),
			zap.Int64("call_count", res.CallCount),
		)
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too_many_requests"})
		return
	}

	total := time.Since(start)
	logger.Info("search completed",
		zap.String("user_id", callerID),
		zap.String("status", string(res.Status)),
		zap.Duration("total_latency_ms", total),
	)

	sources := res.Sources
	if sources == nil {
		sources = []string{}
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Status:        string(res.Status),
		Cached:        res.Status == pipeline.StatusServedCached,
		Answer:        res.Answer,
		Sources:       sources,
		InferenceTime: res.Latency.Seconds(),
	})
}

// writeJSON sends JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
