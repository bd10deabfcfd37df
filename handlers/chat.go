package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/Agent-Artificial/llama3/models"
	"github.com/Agent-Artificial/llama3/service"
	"github.com/Agent-Artificial/llama3/utils"
)

// ChatPaths are the aliases served by the chat completion handler.
var ChatPaths = []string{"/text", "/chat/completions", "/v1/chat/completions", "/generate"}

// ChatHandler handles chat completion requests
type ChatHandler struct {
	logger      *zap.Logger
	service     *service.GenerationService
	fingerprint string
	timeout     time.Duration
}

// NewChatHandler creates a new chat handler. A positive timeout bounds each
// generation.
func NewChatHandler(logger *zap.Logger, svc *service.GenerationService, fingerprint string, timeout time.Duration) *ChatHandler {
	if fingerprint == "" {
		fingerprint = models.DefaultSystemFingerprint
	}
	return &ChatHandler{
		logger:      logger,
		service:     svc,
		fingerprint: fingerprint,
		timeout:     timeout,
	}
}

// HandleChatCompletion handles POST on every path in ChatPaths
func (h *ChatHandler) HandleChatCompletion(ctx *fasthttp.RequestCtx) {
	req, err := models.ParseChatRequest(ctx.PostBody())
	if err != nil {
		h.logger.Warn("Invalid chat completion request",
			zap.Error(err),
			zap.String("request_id", RequestID(ctx)),
		)
		utils.RespondError(ctx, fasthttp.StatusBadRequest, err.Error())
		return
	}

	if req.Stream {
		h.handleStreamingCompletion(ctx, req)
		return
	}
	h.handleNonStreamingCompletion(ctx, req)
}

func (h *ChatHandler) requestContext() (context.Context, context.CancelFunc) {
	if h.timeout > 0 {
		return context.WithTimeout(context.Background(), h.timeout)
	}
	return context.WithCancel(context.Background())
}

func (h *ChatHandler) handleNonStreamingCompletion(ctx *fasthttp.RequestCtx, req *models.ChatRequest) {
	requestCtx, cancel := h.requestContext()
	defer cancel()

	res, err := h.service.Generate(requestCtx, req)
	if err != nil {
		h.logger.Error("Failed to create chat completion",
			zap.Error(err),
			zap.String("model", req.Model),
			zap.String("request_id", RequestID(ctx)),
		)
		utils.RespondError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}

	resp := models.NewChatCompletionResponse(res.Message,
		models.WithID(newCompletionID()),
		models.WithCreated(time.Now().Unix()),
		models.WithModel(res.Model),
		models.WithSystemFingerprint(h.fingerprint),
		models.WithUsage(res.Usage),
	)
	utils.WriteJSON(ctx, fasthttp.StatusOK, resp)
}

// errStreamClosed aborts generation once the client side of a stream is gone.
var errStreamClosed = errors.New("stream closed")

// unexpectedErrorMessage is reported for recovered panics.
const unexpectedErrorMessage = "an unexpected error occurred"

// streamRun is one generation running on its own goroutine. deltas is
// closed after the outcome has been sent on result.
type streamRun struct {
	deltas <-chan string
	result <-chan error
	// stop is closed by the consumer when it no longer reads deltas.
	stop chan struct{}
}

// startStream runs the generation on its own goroutine. Panics in the
// engine or service are recovered there and reported as the result.
func (h *ChatHandler) startStream(ctx context.Context, req *models.ChatRequest, requestID string) *streamRun {
	deltas := make(chan string)
	result := make(chan error, 1)
	stop := make(chan struct{})

	go func() {
		defer close(deltas)
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered in stream",
					zap.Any("panic", rec),
					zap.String("request_id", requestID),
				)
				result <- errors.New(unexpectedErrorMessage)
			}
		}()

		_, err := h.service.Stream(ctx, req, func(delta string) error {
			select {
			case deltas <- delta:
				return nil
			case <-stop:
				return errStreamClosed
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		result <- err
	}()

	return &streamRun{deltas: deltas, result: result, stop: stop}
}

func (h *ChatHandler) handleStreamingCompletion(ctx *fasthttp.RequestCtx, req *models.ChatRequest) {
	requestCtx, cancel := h.requestContext()
	requestID := RequestID(ctx)
	run := h.startStream(requestCtx, req, requestID)

	// Nothing is committed until the engine produced output or failed, so
	// failures before the first token get a regular error response.
	first, started := <-run.deltas
	if !started {
		// The generation already finished; result holds its outcome.
		if err := <-run.result; err != nil {
			close(run.stop)
			cancel()
			h.logger.Error("Stream error",
				zap.Error(err),
				zap.String("model", req.Model),
				zap.String("request_id", requestID),
			)
			utils.RespondError(ctx, fasthttp.StatusInternalServerError, err.Error())
			return
		}
	}
	outcome := func() error {
		if !started {
			return nil
		}
		return <-run.result
	}

	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")
	ctx.SetStatusCode(fasthttp.StatusOK)

	id := newCompletionID()
	created := time.Now().Unix()
	model := h.service.ModelID()

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer close(run.stop)
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered in stream writer",
					zap.Any("panic", rec),
					zap.String("request_id", requestID),
				)
				if err := writeSSE(w, utils.ErrorResponse{Error: unexpectedErrorMessage}); err != nil {
					h.logStreamWriteError(err, requestID)
				}
			}
		}()

		send := func(delta models.MessageDelta, finishReason *string) error {
			chunk := models.NewChatCompletionChunk(id, created, model, h.fingerprint, delta, finishReason)
			return writeSSE(w, chunk)
		}

		if err := send(models.MessageDelta{Role: models.RoleAssistant}, nil); err != nil {
			h.logStreamWriteError(err, requestID)
			return
		}
		if started {
			if err := send(models.MessageDelta{Content: first}, nil); err != nil {
				h.logStreamWriteError(err, requestID)
				return
			}
			for delta := range run.deltas {
				if err := send(models.MessageDelta{Content: delta}, nil); err != nil {
					h.logStreamWriteError(err, requestID)
					return
				}
			}
		}

		if err := outcome(); err != nil {
			h.logger.Error("Stream error",
				zap.Error(err),
				zap.String("model", req.Model),
				zap.String("request_id", requestID),
			)
			if sendErr := writeSSE(w, utils.ErrorResponse{Error: err.Error()}); sendErr != nil {
				h.logStreamWriteError(sendErr, requestID)
			}
			return
		}

		stop := models.FinishReasonStop
		if err := send(models.MessageDelta{}, &stop); err != nil {
			h.logStreamWriteError(err, requestID)
			return
		}
		w.WriteString("data: [DONE]\n\n")
		if err := w.Flush(); err != nil {
			h.logStreamWriteError(err, requestID)
		}
	})
}

func (h *ChatHandler) logStreamWriteError(err error, requestID string) {
	if utils.IsBrokenPipeError(err) {
		h.logger.Debug("Client disconnected during stream", zap.String("request_id", requestID))
		return
	}
	h.logger.Warn("Flush error", zap.Error(err), zap.String("request_id", requestID))
}

// writeSSE writes v as one "data:" event and flushes it.
func writeSSE(w *bufio.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.WriteString("data: ")
	w.Write(payload)
	w.WriteString("\n\n")
	return w.Flush()
}

func newCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}
