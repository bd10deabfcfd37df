// Package ollama is an engine adapter for a local Ollama daemon.
//
// Prompts are sent in raw mode so Ollama applies no template of its own;
// the server renders the chat template itself.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"github.com/Agent-Artificial/llama3/engine"
)

// Compile-time interface guards.
var (
	_ engine.Engine         = (*Engine)(nil)
	_ engine.Streamer       = (*Engine)(nil)
	_ engine.HealthReporter = (*Engine)(nil)
)

// Engine implements engine.Engine over the Ollama generate API.
type Engine struct {
	client     *api.Client
	httpClient *http.Client
	cfg        Config
	logger     *zap.Logger
}

// New creates an Ollama engine. It does not verify connectivity;
// call Heartbeat explicitly if you need an early health check.
func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url %q: %w", cfg.URL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("ollama url %q must include scheme and host", cfg.URL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Engine{
		client:     api.NewClient(base, httpClient),
		httpClient: httpClient,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Generate implements engine.Engine. The returned text starts with the
// prompt, matching engines that echo their input.
func (e *Engine) Generate(ctx context.Context, req engine.Request) (*engine.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapError(err)
	}

	noStream := false
	genReq := e.buildRequest(req)
	genReq.Stream = &noStream

	var content strings.Builder
	out := &engine.Output{}
	err := e.client.Generate(ctx, genReq, func(resp api.GenerateResponse) error {
		content.WriteString(resp.Response)
		if resp.Done {
			out.PromptTokens = resp.PromptEvalCount
			out.CompletionTokens = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}

	out.Text = req.Prompt + content.String()
	return out, nil
}

// GenerateStream implements engine.Streamer.
func (e *Engine) GenerateStream(ctx context.Context, req engine.Request, fn func(delta string) error) (*engine.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapError(err)
	}

	var content strings.Builder
	out := &engine.Output{}
	var cbErr error
	err := e.client.Generate(ctx, e.buildRequest(req), func(resp api.GenerateResponse) error {
		if resp.Response != "" {
			content.WriteString(resp.Response)
			if err := fn(resp.Response); err != nil {
				cbErr = err
				return err
			}
		}
		if resp.Done {
			out.PromptTokens = resp.PromptEvalCount
			out.CompletionTokens = resp.EvalCount
		}
		return nil
	})
	if cbErr != nil {
		return nil, cbErr
	}
	if err != nil {
		return nil, mapError(err)
	}

	out.Text = content.String()
	return out, nil
}

// Heartbeat checks whether the Ollama server is reachable.
func (e *Engine) Heartbeat(ctx context.Context) error {
	return mapError(e.client.Heartbeat(ctx))
}

// ListModels returns the names of locally available models.
func (e *Engine) ListModels(ctx context.Context) ([]string, error) {
	resp, err := e.client.List(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	names := make([]string, len(resp.Models))
	for i := range resp.Models {
		names[i] = resp.Models[i].Name
	}
	return names, nil
}

// Close releases idle connections.
func (e *Engine) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}

func (e *Engine) buildRequest(req engine.Request) *api.GenerateRequest {
	model := req.Model
	if model == "" {
		model = e.cfg.Model
	}

	return &api.GenerateRequest{
		Model:   model,
		Prompt:  req.Prompt,
		Raw:     true,
		Options: buildOptions(req),
	}
}

// buildOptions converts sampling parameters into Ollama's Options map.
func buildOptions(req engine.Request) map[string]any {
	opts := make(map[string]any)
	if req.Params.DoSample {
		if req.Params.Temperature > 0 {
			opts["temperature"] = req.Params.Temperature
		}
		if req.Params.TopP > 0 {
			opts["top_p"] = req.Params.TopP
		}
	} else {
		// Greedy decoding.
		opts["temperature"] = 0
		opts["top_k"] = 1
	}
	if req.Params.MaxNewTokens > 0 {
		opts["num_predict"] = req.Params.MaxNewTokens
	}
	if req.Params.Seed != nil {
		opts["seed"] = *req.Params.Seed
	}
	if len(req.Stop) > 0 {
		opts["stop"] = req.Stop
	}
	return opts
}
