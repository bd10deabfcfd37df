package handlers

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/Agent-Artificial/llama3/engine"
	"github.com/Agent-Artificial/llama3/utils"
)

const heartbeatTimeout = 5 * time.Second

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Engine string `json:"engine,omitempty"`
	Error  string `json:"error,omitempty"`
}

// HealthHandler handles health check requests
type HealthHandler struct {
	logger   *zap.Logger
	reporter engine.HealthReporter
}

// NewHealthHandler creates a new health handler. reporter may be nil, in
// which case the server only reports its own liveness.
func NewHealthHandler(logger *zap.Logger, reporter engine.HealthReporter) *HealthHandler {
	return &HealthHandler{
		logger:   logger,
		reporter: reporter,
	}
}

// Check handles GET /health
func (h *HealthHandler) Check(ctx *fasthttp.RequestCtx) {
	if h.reporter == nil {
		utils.WriteJSON(ctx, fasthttp.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	hbCtx, cancel := context.WithTimeout(context.Background(), heartbeatTimeout)
	defer cancel()

	if err := h.reporter.Heartbeat(hbCtx); err != nil {
		h.logger.Warn("Engine heartbeat failed", zap.Error(err))
		utils.WriteJSON(ctx, fasthttp.StatusServiceUnavailable, HealthResponse{
			Status: "unavailable",
			Engine: "down",
			Error:  err.Error(),
		})
		return
	}
	utils.WriteJSON(ctx, fasthttp.StatusOK, HealthResponse{Status: "ok", Engine: "up"})
}
