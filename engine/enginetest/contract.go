package enginetest

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/Agent-Artificial/llama3/engine"
)

// ContractPrompt is a Llama 3 formatted prompt used by the contract tests.
const ContractPrompt = "<|begin_of_text|><|start_header_id|>user<|end_header_id|>\n\nSay hello.<|eot_id|>" +
	"<|start_header_id|>assistant<|end_header_id|>\n\n"

// ContractRequest returns the request used by the contract tests.
func ContractRequest() engine.Request {
	return engine.Request{
		Prompt: ContractPrompt,
		Params: engine.SamplingParams{
			DoSample:     true,
			Temperature:  0.7,
			TopP:         0.9,
			MaxNewTokens: 64,
		},
		StopTokenIDs: []int{128001, 128009},
		Stop:         []string{"<|end_of_text|>", "<|eot_id|>"},
	}
}

// TestEngineContract runs behavioural checks against any engine. Call it
// from each adapter's _test.go:
//
//	func TestContract(t *testing.T) {
//	    enginetest.TestEngineContract(t, func() engine.Engine { return newTestEngine(t) })
//	}
func TestEngineContract(t *testing.T, factory func() engine.Engine) {
	t.Helper()

	t.Run("Generate_returns_text_beyond_prompt", func(t *testing.T) {
		e := factory()
		out, err := e.Generate(context.Background(), ContractRequest())
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if out == nil {
			t.Fatal("Generate() returned nil output")
		}
		completion := strings.TrimPrefix(out.Text, ContractPrompt)
		if strings.TrimSpace(completion) == "" {
			t.Errorf("Generate() produced no completion: %q", out.Text)
		}
	})

	t.Run("Generate_honours_cancelled_context", func(t *testing.T) {
		e := factory()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := e.Generate(ctx, ContractRequest()); err == nil {
			t.Error("Generate() with cancelled context should fail")
		}
	})

	t.Run("Generate_is_safe_for_concurrent_use", func(t *testing.T) {
		e := factory()
		const n = 8
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := e.Generate(context.Background(), ContractRequest()); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("concurrent Generate() error = %v", err)
		}
	})

	t.Run("Stream_deltas_exclude_prompt", func(t *testing.T) {
		s, ok := engine.AsStreamer(factory())
		if !ok {
			t.Skip("engine does not stream")
		}
		var sb strings.Builder
		_, err := s.GenerateStream(context.Background(), ContractRequest(), func(delta string) error {
			sb.WriteString(delta)
			return nil
		})
		if err != nil {
			t.Fatalf("GenerateStream() error = %v", err)
		}
		if sb.Len() == 0 {
			t.Error("GenerateStream() emitted no deltas")
		}
		if strings.Contains(sb.String(), "<|start_header_id|>") {
			t.Errorf("stream deltas contain prompt markup: %q", sb.String())
		}
	})

	t.Run("Tokenizer_encodes_text", func(t *testing.T) {
		tok, ok := engine.AsTokenizer(factory())
		if !ok {
			t.Skip("engine does not tokenize")
		}
		ids, err := tok.Encode(context.Background(), "hello world")
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		if len(ids) == 0 {
			t.Error("Encode() returned no tokens")
		}
	})
}
