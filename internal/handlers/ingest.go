package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"newsrag-gateway/pkg/logging/logging"
)

// Runner is the slice of the ingestor the trigger endpoint needs.
type Runner interface {
	RunOnce(ctx context.Context) error
}

// IngestHandler serves POST /ingest: kick off one ingestion run and
// return immediately. The run is detached from the request context;
// failures are logged, never surfaced to the caller.
type IngestHandler struct {
	Ingestor Runner
}

func NewIngestHandler(g Runner) *IngestHandler {
	return &IngestHandler{Ingestor: g}
}

func (h *IngestHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	logger := logging.L(r.Context())

	go func() {
		if err := h.Ingestor.RunOnce(context.Background()); err != nil {
			logger.Error("triggered ingestion run failed", zap.Error(err))
		}
	}()

	logger.Info("ingestion run triggered")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ingestion_started"})
}
