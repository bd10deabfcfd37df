// Package tgi is an engine adapter for HuggingFace text-generation-inference.
//
// Generate calls POST /generate with return_full_text enabled, so the output
// carries the echoed prompt exactly as a transformers pipeline would.
// GenerateStream reads the server-sent events of POST /generate_stream.
// Token accounting uses POST /tokenize.
package tgi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/Agent-Artificial/llama3/engine"
)

// TGI rejects requests with more stop sequences than its
// --max-stop-sequences flag, which defaults to 4.
const maxStopSequences = 4

// Compile-time interface guards.
var (
	_ engine.Engine         = (*Client)(nil)
	_ engine.Streamer       = (*Client)(nil)
	_ engine.Tokenizer      = (*Client)(nil)
	_ engine.HealthReporter = (*Client)(nil)
)

// Client talks to a text-generation-inference server.
//
// Thread-safe: all methods are safe for concurrent use.
type Client struct {
	baseURL      string
	cfg          Config
	client       *fasthttp.Client
	streamClient *fasthttp.Client
	logger       *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// New creates a TGI client. It does not verify connectivity; call
// Heartbeat for an early health check.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse tgi url %q: %w", cfg.URL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("tgi url %q must include scheme and host", cfg.URL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		cfg:     cfg,
		client: &fasthttp.Client{
			Name:            "llama3-server",
			MaxConnsPerHost: cfg.MaxConns,
		},
		streamClient: &fasthttp.Client{
			Name:               "llama3-server",
			MaxConnsPerHost:    cfg.MaxConns,
			StreamResponseBody: true,
		},
		logger: logger,
	}, nil
}

// Close releases idle connections. After Close the client rejects calls.
// Calling Close multiple times is safe.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.client.CloseIdleConnections()
		c.streamClient.CloseIdleConnections()
		c.closed = true
	}
	return nil
}

// Generate implements engine.Engine.
func (c *Client) Generate(ctx context.Context, req engine.Request) (*engine.Output, error) {
	body := generateRequest{
		Inputs:     req.Prompt,
		Parameters: c.buildParameters(req, true),
	}

	var resp generateResponse
	if err := c.postJSON(ctx, "/generate", body, &resp); err != nil {
		return nil, mapError(err)
	}

	out := &engine.Output{Text: resp.GeneratedText}
	if resp.Details != nil {
		out.CompletionTokens = resp.Details.GeneratedTokens
	}
	return out, nil
}

// GenerateStream implements engine.Streamer. Special tokens (terminators)
// are not forwarded to fn.
func (c *Client) GenerateStream(ctx context.Context, req engine.Request, fn func(delta string) error) (*engine.Output, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(generateRequest{
		Inputs:     req.Prompt,
		Parameters: c.buildParameters(req, false),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate_stream request: %w", err)
	}

	httpReq := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(httpReq)
	httpResp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(httpResp)

	c.prepare(httpReq, fasthttp.MethodPost, "/generate_stream", payload)
	httpReq.Header.Set("Accept", "text/event-stream")

	if err := c.do(ctx, c.streamClient, httpReq, httpResp); err != nil {
		return nil, mapError(err)
	}
	defer httpResp.CloseBodyStream()

	if httpResp.StatusCode() >= 300 {
		return nil, mapError(parseStatusError(httpResp.StatusCode(), httpResp.Body()))
	}

	var text strings.Builder
	out := &engine.Output{}
	reader := bufio.NewReader(httpResp.BodyStream())
	for {
		if err := ctx.Err(); err != nil {
			return nil, mapError(err)
		}

		line, readErr := reader.ReadString('\n')
		if ev, ok := parseEvent(line); ok {
			if ev.Error != "" {
				return nil, mapError(&statusError{StatusCode: 500, Message: ev.Error, Type: ev.ErrorType})
			}
			if ev.Token != nil && !ev.Token.Special && ev.Token.Text != "" {
				text.WriteString(ev.Token.Text)
				if err := fn(ev.Token.Text); err != nil {
					return nil, err
				}
			}
			if ev.Details != nil {
				out.CompletionTokens = ev.Details.GeneratedTokens
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, mapError(readErr)
		}
	}

	out.Text = text.String()
	return out, nil
}

// Encode implements engine.Tokenizer using POST /tokenize.
func (c *Client) Encode(ctx context.Context, text string) ([]int, error) {
	var tokens []tokenInfo
	if err := c.postJSON(ctx, "/tokenize", tokenizeRequest{Inputs: text}, &tokens); err != nil {
		return nil, mapError(err)
	}
	ids := make([]int, len(tokens))
	for i, t := range tokens {
		ids[i] = t.ID
	}
	return ids, nil
}

// Decode implements engine.Tokenizer. The TGI router exposes no detokenize
// route, so this always fails.
func (c *Client) Decode(_ context.Context, _ []int) (string, error) {
	return "", engine.NewError(engine.ErrCodeInvalidRequest, "decode is not supported by text-generation-inference", nil)
}

// Heartbeat implements engine.HealthReporter using GET /health.
func (c *Client) Heartbeat(ctx context.Context) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	c.prepare(req, fasthttp.MethodGet, "/health", nil)
	if err := c.do(ctx, c.client, req, resp); err != nil {
		return mapError(err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return mapError(parseStatusError(resp.StatusCode(), resp.Body()))
	}
	return nil
}

// ListModels implements engine.HealthReporter using GET /info. TGI serves a
// single model.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	c.prepare(req, fasthttp.MethodGet, "/info", nil)
	if err := c.do(ctx, c.client, req, resp); err != nil {
		return nil, mapError(err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, mapError(parseStatusError(resp.StatusCode(), resp.Body()))
	}

	var info infoResponse
	if err := json.Unmarshal(resp.Body(), &info); err != nil {
		return nil, fmt.Errorf("decode info response: %w", err)
	}
	if info.ModelID == "" {
		return nil, nil
	}
	return []string{info.ModelID}, nil
}

func (c *Client) buildParameters(req engine.Request, fullText bool) parameters {
	p := parameters{
		DoSample:       req.Params.DoSample,
		MaxNewTokens:   req.Params.MaxNewTokens,
		Seed:           req.Params.Seed,
		ReturnFullText: fullText,
		Details:        true,
	}
	// TGI requires temperature > 0 and 0 < top_p < 1 when set.
	if req.Params.DoSample {
		if req.Params.Temperature > 0 {
			t := req.Params.Temperature
			p.Temperature = &t
		}
		if req.Params.TopP > 0 && req.Params.TopP < 1 {
			tp := req.Params.TopP
			p.TopP = &tp
		}
	}

	p.Stop = req.Stop
	if len(p.Stop) > maxStopSequences {
		c.logger.Debug("dropping stop sequences beyond tgi limit",
			zap.Int("requested", len(p.Stop)),
			zap.Int("limit", maxStopSequences),
		)
		p.Stop = p.Stop[:maxStopSequences]
	}
	return p
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	c.prepare(req, fasthttp.MethodPost, path, payload)
	if err := c.do(ctx, c.client, req, resp); err != nil {
		return err
	}
	if resp.StatusCode() >= 300 {
		return parseStatusError(resp.StatusCode(), resp.Body())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) prepare(req *fasthttp.Request, method, path string, body []byte) {
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}
}

// do executes req, bounded by the context deadline or the configured timeout.
func (c *Client) do(ctx context.Context, client *fasthttp.Client, req *fasthttp.Request, resp *fasthttp.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		return client.DoDeadline(req, resp, deadline)
	}
	if c.cfg.Timeout > 0 {
		return client.DoTimeout(req, resp, c.cfg.Timeout)
	}
	return client.Do(req, resp)
}

func (c *Client) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("client is closed")
	}
	return nil
}

// parseStatusError reads a TGI error body ({"error": ..., "error_type": ...}).
func parseStatusError(status int, body []byte) *statusError {
	var errResp struct {
		Error     string `json:"error"`
		ErrorType string `json:"error_type"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fasthttp.StatusMessage(status)
		}
		return &statusError{StatusCode: status, Message: msg}
	}
	return &statusError{StatusCode: status, Message: errResp.Error, Type: errResp.ErrorType}
}

// parseEvent decodes one "data:" line of the event stream.
func parseEvent(line string) (streamEvent, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return streamEvent{}, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" || payload == "[DONE]" {
		return streamEvent{}, false
	}
	var ev streamEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return streamEvent{}, false
	}
	return ev, true
}

// --- TGI REST API types (internal) ---

type generateRequest struct {
	Inputs     string     `json:"inputs"`
	Parameters parameters `json:"parameters"`
}

type parameters struct {
	DoSample       bool     `json:"do_sample"`
	Temperature    *float64 `json:"temperature,omitempty"`
	TopP           *float64 `json:"top_p,omitempty"`
	MaxNewTokens   int      `json:"max_new_tokens,omitempty"`
	Stop           []string `json:"stop,omitempty"`
	Seed           *int     `json:"seed,omitempty"`
	ReturnFullText bool     `json:"return_full_text"`
	Details        bool     `json:"details"`
}

type details struct {
	FinishReason    string `json:"finish_reason"`
	GeneratedTokens int    `json:"generated_tokens"`
}

type generateResponse struct {
	GeneratedText string   `json:"generated_text"`
	Details       *details `json:"details"`
}

type streamToken struct {
	ID      int    `json:"id"`
	Text    string `json:"text"`
	Special bool   `json:"special"`
}

type streamEvent struct {
	Token         *streamToken `json:"token"`
	GeneratedText *string      `json:"generated_text"`
	Details       *details     `json:"details"`
	Error         string       `json:"error"`
	ErrorType     string       `json:"error_type"`
}

type tokenizeRequest struct {
	Inputs string `json:"inputs"`
}

type tokenInfo struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

type infoResponse struct {
	ModelID string `json:"model_id"`
}
