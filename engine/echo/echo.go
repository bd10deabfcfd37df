// Package echo provides a deterministic in-process engine.
//
// It behaves like a text-generation pipeline that always produces the same
// reply: the output repeats the prompt, then the reply, then the first stop
// sequence. Tokenization is byte-level, so token counts equal byte lengths.
// Useful for local development and for exercising the serving path without a
// model.
package echo

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/Agent-Artificial/llama3/engine"
)

// DefaultReply is produced when no reply is configured.
const DefaultReply = "Hello! I am a test engine. How can I help you today?"

// Compile-time interface guards.
var (
	_ engine.Engine         = (*Engine)(nil)
	_ engine.Streamer       = (*Engine)(nil)
	_ engine.Tokenizer      = (*Engine)(nil)
	_ engine.HealthReporter = (*Engine)(nil)
)

// Engine is a deterministic engine. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	model string
	reply string
}

// New creates an echo engine serving model with the given reply.
func New(model, reply string) *Engine {
	if reply == "" {
		reply = DefaultReply
	}
	return &Engine{model: model, reply: reply}
}

// Generate implements engine.Engine.
func (e *Engine) Generate(ctx context.Context, req engine.Request) (*engine.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, engine.NewError(engine.ErrCodeTimeout, "request cancelled", err)
	}

	reply := e.completion(req.Params.MaxNewTokens)

	var sb strings.Builder
	sb.WriteString(req.Prompt)
	sb.WriteString(reply)
	if len(req.Stop) > 0 {
		sb.WriteString(req.Stop[0])
	}

	return &engine.Output{
		Text:             sb.String(),
		PromptTokens:     len(req.Prompt),
		CompletionTokens: len(reply),
	}, nil
}

// GenerateStream implements engine.Streamer, emitting the reply word by word.
func (e *Engine) GenerateStream(ctx context.Context, req engine.Request, fn func(delta string) error) (*engine.Output, error) {
	reply := e.completion(req.Params.MaxNewTokens)
	for _, delta := range strings.SplitAfter(reply, " ") {
		if err := ctx.Err(); err != nil {
			return nil, engine.NewError(engine.ErrCodeTimeout, "request cancelled", err)
		}
		if delta == "" {
			continue
		}
		if err := fn(delta); err != nil {
			return nil, err
		}
	}
	return &engine.Output{
		Text:             reply,
		PromptTokens:     len(req.Prompt),
		CompletionTokens: len(reply),
	}, nil
}

// Encode implements engine.Tokenizer with one token per byte.
func (e *Engine) Encode(_ context.Context, text string) ([]int, error) {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i])
	}
	return ids, nil
}

// Decode implements engine.Tokenizer.
func (e *Engine) Decode(_ context.Context, ids []int) (string, error) {
	b := make([]byte, len(ids))
	for i, id := range ids {
		if id < 0 || id > 255 {
			return "", engine.NewError(engine.ErrCodeInvalidRequest, "token id out of range", nil)
		}
		b[i] = byte(id)
	}
	return string(b), nil
}

// Heartbeat implements engine.HealthReporter.
func (e *Engine) Heartbeat(ctx context.Context) error {
	return ctx.Err()
}

// ListModels implements engine.HealthReporter.
func (e *Engine) ListModels(_ context.Context) ([]string, error) {
	return []string{e.model}, nil
}

// completion returns the reply cut to at most maxTokens bytes without
// splitting a rune.
func (e *Engine) completion(maxTokens int) string {
	if maxTokens <= 0 || maxTokens >= len(e.reply) {
		return e.reply
	}
	cut := maxTokens
	for cut > 0 && !utf8.RuneStart(e.reply[cut]) {
		cut--
	}
	return e.reply[:cut]
}
