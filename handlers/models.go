package handlers

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/Agent-Artificial/llama3/engine"
	"github.com/Agent-Artificial/llama3/models"
	"github.com/Agent-Artificial/llama3/utils"
)

const ownedBy = "llama3-server"

// ModelInfo is the body of GET /get_model_info.
type ModelInfo struct {
	ModelID      string   `json:"model_id"`
	Template     string   `json:"chat_template"`
	EngineModels []string `json:"engine_models,omitempty"`
}

// ModelsHandler handles model list requests
type ModelsHandler struct {
	logger   *zap.Logger
	modelID  string
	template string
	created  int64
	reporter engine.HealthReporter
}

// NewModelsHandler creates a new models handler for the served model.
// reporter may be nil.
func NewModelsHandler(logger *zap.Logger, modelID, template string, reporter engine.HealthReporter) *ModelsHandler {
	return &ModelsHandler{
		logger:   logger,
		modelID:  modelID,
		template: template,
		created:  time.Now().Unix(),
		reporter: reporter,
	}
}

// List handles GET /v1/models
func (h *ModelsHandler) List(ctx *fasthttp.RequestCtx) {
	utils.WriteJSON(ctx, fasthttp.StatusOK, models.ModelsResponse{
		Object: "list",
		Data: []models.ModelData{{
			ID:      h.modelID,
			Object:  "model",
			Created: h.created,
			OwnedBy: ownedBy,
		}},
	})
}

// GetModelInfo handles GET /get_model_info
func (h *ModelsHandler) GetModelInfo(ctx *fasthttp.RequestCtx) {
	info := ModelInfo{ModelID: h.modelID, Template: h.template}

	if h.reporter != nil {
		lctx, cancel := context.WithTimeout(context.Background(), heartbeatTimeout)
		defer cancel()
		names, err := h.reporter.ListModels(lctx)
		if err != nil {
			h.logger.Warn("Failed to list engine models", zap.Error(err))
		}
		info.EngineModels = names
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, info)
}
