// Package engine defines the text-generation capability the server depends on.
//
// An Engine takes a fully rendered prompt plus sampling parameters and
// returns the raw generated text. Like a transformers text-generation
// pipeline, an engine may echo the prompt at the start of its output; callers
// strip it. Optional capabilities (tokenization, incremental streaming,
// health reporting) are discovered by type assertion through the As* helpers,
// which look through wrappers such as Limit.
//
// Adapters for concrete engines live in sub-packages:
//
//	engine/tgi     HuggingFace text-generation-inference
//	engine/ollama  Ollama raw prompt generation
//	engine/echo    deterministic local engine for development
package engine

import (
	"context"
	"io"
)

// SamplingParams controls decoding for a single call.
type SamplingParams struct {
	// DoSample enables sampling; false means greedy decoding and the
	// temperature/top_p values are ignored by the engine.
	DoSample     bool
	Temperature  float64
	TopP         float64
	MaxNewTokens int
	Seed         *int
}

// Request is one generation call.
type Request struct {
	// Model is the engine-side model name. Engines serving a single model
	// may ignore it.
	Model  string
	Prompt string
	Params SamplingParams
	// StopTokenIDs are terminator token ids (end-of-sequence, end-of-turn).
	StopTokenIDs []int
	// Stop holds the textual terminators plus any caller stop strings.
	Stop []string
}

// Output is the raw result of a generation call.
type Output struct {
	// Text is the generated text. It may start with the echoed prompt and
	// may end with terminator markup.
	Text string
	// PromptTokens and CompletionTokens are zero when the engine does not
	// report them.
	PromptTokens     int
	CompletionTokens int
}

// Engine generates text from a prompt. Implementations must be safe for
// concurrent use.
type Engine interface {
	Generate(ctx context.Context, req Request) (*Output, error)
}

// Streamer is optionally implemented by engines that can deliver generated
// text incrementally. Deltas never include the echoed prompt. Returning a
// non-nil error from fn aborts generation.
type Streamer interface {
	GenerateStream(ctx context.Context, req Request, fn func(delta string) error) (*Output, error)
}

// Tokenizer is optionally implemented by engines that expose their
// tokenizer. Used for token accounting.
type Tokenizer interface {
	Encode(ctx context.Context, text string) ([]int, error)
	Decode(ctx context.Context, ids []int) (string, error)
}

// HealthReporter is optionally implemented by engines that can report
// connection health and model availability.
type HealthReporter interface {
	Heartbeat(ctx context.Context) error
	ListModels(ctx context.Context) ([]string, error)
}

// Wrapper is implemented by engines that decorate another engine.
type Wrapper interface {
	Unwrap() Engine
}

// AsStreamer returns the Streamer behind e, looking through wrappers.
func AsStreamer(e Engine) (Streamer, bool) {
	for e != nil {
		if s, ok := e.(Streamer); ok {
			return s, true
		}
		e = unwrap(e)
	}
	return nil, false
}

// AsTokenizer returns the Tokenizer behind e, looking through wrappers.
func AsTokenizer(e Engine) (Tokenizer, bool) {
	for e != nil {
		if t, ok := e.(Tokenizer); ok {
			return t, true
		}
		e = unwrap(e)
	}
	return nil, false
}

// AsHealthReporter returns the HealthReporter behind e, looking through wrappers.
func AsHealthReporter(e Engine) (HealthReporter, bool) {
	for e != nil {
		if h, ok := e.(HealthReporter); ok {
			return h, true
		}
		e = unwrap(e)
	}
	return nil, false
}

// Close releases engine resources if the engine (or anything it wraps)
// implements io.Closer. Safe to call on any engine.
func Close(e Engine) error {
	for e != nil {
		if c, ok := e.(io.Closer); ok {
			return c.Close()
		}
		e = unwrap(e)
	}
	return nil
}

func unwrap(e Engine) Engine {
	if w, ok := e.(Wrapper); ok {
		return w.Unwrap()
	}
	return nil
}
