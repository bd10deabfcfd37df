package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Agent-Artificial/llama3/engine"
	"github.com/Agent-Artificial/llama3/internal/prompt"
	"github.com/Agent-Artificial/llama3/models"
)

// Prometheus generation metrics.
var (
	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llama3_generation_duration_seconds",
			Help:    "Engine generation latency in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"mode", "outcome"},
	)
	generationTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llama3_generation_tokens_total",
			Help: "Tokens processed by the engine, by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(generationDuration)
	prometheus.MustRegister(generationTokens)
}

// Config holds the immutable settings of a GenerationService.
type Config struct {
	// Template renders messages. Nil selects one from ModelID.
	Template prompt.Template
	// Defaults apply to every request field the client leaves unset.
	Defaults engine.SamplingParams
	// ModelID is the model name reported in responses.
	ModelID string
	// EngineModel is passed to the engine; empty lets the engine decide.
	EngineModel string
}

// Result is the outcome of one chat completion.
type Result struct {
	Message models.Message
	Usage   models.Usage
	Model   string
}

// GenerationService turns chat requests into engine calls.
//
// Thread-safe: it holds no per-request state.
type GenerationService struct {
	engine    engine.Engine
	tokenizer engine.Tokenizer
	cfg       Config
	logger    *zap.Logger
}

// NewGenerationService creates a service over eng.
func NewGenerationService(eng engine.Engine, cfg Config, logger *zap.Logger) (*GenerationService, error) {
	if eng == nil {
		return nil, errors.New("engine is required")
	}
	if cfg.Template == nil {
		cfg.Template = prompt.ForModel(cfg.ModelID)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tok, _ := engine.AsTokenizer(eng)
	return &GenerationService{
		engine:    eng,
		tokenizer: tok,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Template returns the chat template in use.
func (s *GenerationService) Template() prompt.Template {
	return s.cfg.Template
}

// ModelID returns the model name reported in responses.
func (s *GenerationService) ModelID() string {
	return s.cfg.ModelID
}

// Engine returns the underlying engine.
func (s *GenerationService) Engine() engine.Engine {
	return s.engine
}

// Generate renders req, calls the engine once and returns the assistant
// reply. Engine errors are wrapped and stay reachable through errors.As.
func (s *GenerationService) Generate(ctx context.Context, req *models.ChatRequest) (*Result, error) {
	rendered := s.cfg.Template.Render(req.Messages)
	engReq := s.buildRequest(req, rendered)

	start := time.Now()
	out, err := s.engine.Generate(ctx, engReq)
	if err != nil {
		generationDuration.WithLabelValues("generate", "error").Observe(time.Since(start).Seconds())
		s.logger.Error("Generation failed",
			zap.Error(err),
			zap.String("code", engine.Code(err)),
			zap.Int("messages", len(req.Messages)),
		)
		return nil, fmt.Errorf("generate: %w", err)
	}
	generationDuration.WithLabelValues("generate", "ok").Observe(time.Since(start).Seconds())

	content := extractCompletion(out.Text, rendered.Prompt, engReq.Stop)
	usage := s.usage(ctx, rendered.Prompt, content, out)

	s.logger.Debug("Generation complete",
		zap.Duration("duration", time.Since(start)),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
	)

	return &Result{
		Message: models.NewMessage(content, models.RoleAssistant),
		Usage:   usage,
		Model:   s.cfg.ModelID,
	}, nil
}

// Stream is like Generate but delivers the reply incrementally to fn.
// Engines without streaming support produce the whole reply as one delta.
// Deltas never contain the prompt or terminator markup.
func (s *GenerationService) Stream(ctx context.Context, req *models.ChatRequest, fn func(delta string) error) (*Result, error) {
	streamer, ok := engine.AsStreamer(s.engine)
	if !ok {
		res, err := s.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		if res.Message.Content != "" {
			if err := fn(res.Message.Content); err != nil {
				return nil, err
			}
		}
		return res, nil
	}

	rendered := s.cfg.Template.Render(req.Messages)
	engReq := s.buildRequest(req, rendered)

	// stopReached ends the engine stream early once a terminator shows up.
	stopReached := errors.New("stop sequence reached")
	filter := newStopFilter(engReq.Stop)
	var content strings.Builder
	emit := func(text string) error {
		if text == "" {
			return nil
		}
		content.WriteString(text)
		return fn(text)
	}

	start := time.Now()
	out, err := streamer.GenerateStream(ctx, engReq, func(delta string) error {
		text, stopped := filter.push(delta)
		if err := emit(text); err != nil {
			return err
		}
		if stopped {
			return stopReached
		}
		return nil
	})
	switch {
	case errors.Is(err, stopReached):
		out = &engine.Output{}
	case err != nil:
		generationDuration.WithLabelValues("stream", "error").Observe(time.Since(start).Seconds())
		s.logger.Error("Streaming generation failed",
			zap.Error(err),
			zap.String("code", engine.Code(err)),
		)
		return nil, fmt.Errorf("generate stream: %w", err)
	default:
		if err := emit(filter.flush()); err != nil {
			return nil, err
		}
	}
	generationDuration.WithLabelValues("stream", "ok").Observe(time.Since(start).Seconds())

	usage := s.usage(ctx, rendered.Prompt, content.String(), out)
	return &Result{
		Message: models.NewMessage(content.String(), models.RoleAssistant),
		Usage:   usage,
		Model:   s.cfg.ModelID,
	}, nil
}

func (s *GenerationService) buildRequest(req *models.ChatRequest, rendered prompt.Rendered) engine.Request {
	stops := rendered.StopStrings()
	for _, st := range req.Stop {
		if st != "" && !contains(stops, st) {
			stops = append(stops, st)
		}
	}

	return engine.Request{
		Model:        s.cfg.EngineModel,
		Prompt:       rendered.Prompt,
		Params:       s.resolveParams(req),
		StopTokenIDs: rendered.TerminatorIDs(),
		Stop:         stops,
	}
}

// resolveParams overlays request sampling fields on the configured defaults.
func (s *GenerationService) resolveParams(req *models.ChatRequest) engine.SamplingParams {
	p := s.cfg.Defaults
	p.Seed = nil

	if req.DoSample != nil {
		p.DoSample = *req.DoSample
	}
	if req.Temperature != nil {
		p.Temperature = *req.Temperature
		// Temperature 0 means deterministic output.
		if p.Temperature == 0 {
			p.DoSample = false
		}
	}
	if req.TopP != nil {
		p.TopP = *req.TopP
	}
	switch {
	case req.MaxNewTokens != nil:
		p.MaxNewTokens = *req.MaxNewTokens
	case req.MaxTokens != nil:
		p.MaxNewTokens = *req.MaxTokens
	}
	if req.Seed != nil {
		seed := *req.Seed
		p.Seed = &seed
	}
	return p
}

// usage prefers engine-reported counts and falls back to the tokenizer.
func (s *GenerationService) usage(ctx context.Context, promptText, completion string, out *engine.Output) models.Usage {
	promptTokens := out.PromptTokens
	if promptTokens == 0 {
		promptTokens = s.countTokens(ctx, promptText)
	}
	completionTokens := out.CompletionTokens
	if completionTokens == 0 && completion != "" {
		completionTokens = s.countTokens(ctx, completion)
	}

	generationTokens.WithLabelValues("prompt").Add(float64(promptTokens))
	generationTokens.WithLabelValues("completion").Add(float64(completionTokens))
	return models.NewUsage(promptTokens, completionTokens)
}

func (s *GenerationService) countTokens(ctx context.Context, text string) int {
	if s.tokenizer == nil || text == "" {
		return 0
	}
	ids, err := s.tokenizer.Encode(ctx, text)
	if err != nil {
		s.logger.Warn("Token counting failed", zap.Error(err))
		return 0
	}
	return len(ids)
}

// extractCompletion removes the echoed prompt and cuts the text at the
// first terminator or stop string.
func extractCompletion(text, promptText string, stops []string) string {
	text = strings.TrimPrefix(text, promptText)
	return prompt.TruncateAtTerminator(text, stops)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
