// Package enginetest provides a scripted fake engine and shared contract
// tests that any engine.Engine implementation should pass.
package enginetest

import (
	"context"
	"sync"

	"github.com/Agent-Artificial/llama3/engine"
)

var _ engine.Engine = (*Fake)(nil)

// Fake is a scripted engine that records every request it receives.
// The zero value returns an empty output.
type Fake struct {
	// Output is returned by Generate when GenerateFunc is nil.
	Output engine.Output
	// Err is returned by Generate when set.
	Err error
	// GenerateFunc, when set, computes the result instead of Output/Err.
	GenerateFunc func(ctx context.Context, req engine.Request) (*engine.Output, error)

	mu       sync.Mutex
	requests []engine.Request
}

// Generate implements engine.Engine.
func (f *Fake) Generate(ctx context.Context, req engine.Request) (*engine.Output, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.GenerateFunc != nil {
		return f.GenerateFunc(ctx, req)
	}
	if f.Err != nil {
		return nil, f.Err
	}
	out := f.Output
	return &out, nil
}

// Requests returns a copy of the requests received so far.
func (f *Fake) Requests() []engine.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]engine.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// LastRequest returns the most recent request, or false if none.
func (f *Fake) LastRequest() (engine.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return engine.Request{}, false
	}
	return f.requests[len(f.requests)-1], true
}

// PipelineOutput mimics a text-generation pipeline: the prompt echoed,
// followed by completion and terminator.
func PipelineOutput(prompt, completion, terminator string) engine.Output {
	return engine.Output{Text: prompt + completion + terminator}
}
