package echo

import (
	"context"
	"strings"
	"testing"

	"github.com/Agent-Artificial/llama3/engine"
	"github.com/Agent-Artificial/llama3/engine/enginetest"
)

func TestContract(t *testing.T) {
	enginetest.TestEngineContract(t, func() engine.Engine { return New("test-model", "") })
}

func TestGenerateEchoesPromptAndTerminator(t *testing.T) {
	e := New("m", "forty-two")
	req := engine.Request{Prompt: "PROMPT", Stop: []string{"<|end_of_text|>", "<|eot_id|>"}}

	out, err := e.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if want := "PROMPTforty-two<|end_of_text|>"; out.Text != want {
		t.Errorf("Text = %q, want %q", out.Text, want)
	}
	if out.PromptTokens != len("PROMPT") || out.CompletionTokens != len("forty-two") {
		t.Errorf("token counts = %d/%d", out.PromptTokens, out.CompletionTokens)
	}
}

func TestGenerateRespectsMaxNewTokens(t *testing.T) {
	e := New("m", "héllo world")
	req := engine.Request{Params: engine.SamplingParams{MaxNewTokens: 2}}

	out, err := e.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	// "é" is two bytes; a cut at byte 2 would split it.
	if out.Text != "h" {
		t.Errorf("Text = %q, want %q", out.Text, "h")
	}
}

func TestStreamConcatenatesToReply(t *testing.T) {
	e := New("m", "one two three")
	var deltas []string
	out, err := e.GenerateStream(context.Background(), engine.Request{}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	if len(deltas) != 3 {
		t.Errorf("got %d deltas, want 3: %q", len(deltas), deltas)
	}
	if strings.Join(deltas, "") != out.Text {
		t.Errorf("deltas %q do not add up to %q", deltas, out.Text)
	}
}

func TestTokenizerRoundTrip(t *testing.T) {
	e := New("m", "")
	ctx := context.Background()
	text := "héllo <|eot_id|>"

	ids, err := e.Encode(ctx, text)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(ids) != len(text) {
		t.Errorf("Encode() returned %d ids, want %d", len(ids), len(text))
	}
	got, err := e.Decode(ctx, ids)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got != text {
		t.Errorf("Decode(Encode(x)) = %q, want %q", got, text)
	}

	if _, err := e.Decode(ctx, []int{300}); !engine.IsInvalidRequest(err) {
		t.Errorf("Decode() of out-of-range id error = %v, want invalid request", err)
	}
}

func TestListModels(t *testing.T) {
	models, err := New("llama3", "").ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 1 || models[0] != "llama3" {
		t.Errorf("ListModels() = %v", models)
	}
}
