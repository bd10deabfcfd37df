package prompt

import (
	"strings"
	"testing"

	"github.com/Agent-Artificial/llama3/models"
)

func TestLlama3Render(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "You are a helpful assistant."},
		{Role: models.RoleUser, Content: "hello"},
	}

	got := Llama3{}.Render(messages)

	want := "<|begin_of_text|>" +
		"<|start_header_id|>system<|end_header_id|>\n\nYou are a helpful assistant.<|eot_id|>" +
		"<|start_header_id|>user<|end_header_id|>\n\nhello<|eot_id|>" +
		"<|start_header_id|>assistant<|end_header_id|>\n\n"
	if got.Prompt != want {
		t.Errorf("Render() prompt =\n%q\nwant\n%q", got.Prompt, want)
	}

	ids := got.TerminatorIDs()
	if len(ids) != 2 || ids[0] != Llama3EndOfTextID || ids[1] != Llama3EndOfTurnID {
		t.Errorf("TerminatorIDs() = %v, want [%d %d]", ids, Llama3EndOfTextID, Llama3EndOfTurnID)
	}
	stops := got.StopStrings()
	if len(stops) != 2 || stops[0] != Llama3EndOfText || stops[1] != Llama3EndOfTurn {
		t.Errorf("StopStrings() = %v", stops)
	}
}

func TestLlama3RenderTrimsContent(t *testing.T) {
	got := Llama3{}.Render([]models.Message{{Role: models.RoleUser, Content: "  padded \n"}})
	if !strings.Contains(got.Prompt, "\n\npadded<|eot_id|>") {
		t.Errorf("expected trimmed content in %q", got.Prompt)
	}
}

func TestRenderEmptyMessages(t *testing.T) {
	tests := []struct {
		tmpl Template
		want string
	}{
		{Llama3{}, "<|begin_of_text|><|start_header_id|>assistant<|end_header_id|>\n\n"},
		{ChatML{}, "<|im_start|>assistant\n"},
	}
	for _, tt := range tests {
		t.Run(tt.tmpl.Name(), func(t *testing.T) {
			got := tt.tmpl.Render(nil)
			if got.Prompt != tt.want {
				t.Errorf("Render(nil) = %q, want %q", got.Prompt, tt.want)
			}
			if len(got.Terminators) == 0 {
				t.Error("expected terminators even for empty input")
			}
		})
	}
}

func TestChatMLRender(t *testing.T) {
	got := ChatML{}.Render([]models.Message{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "hi"},
	})
	want := "<|im_start|>system\nsys<|im_end|>\n<|im_start|>user\nhi<|im_end|>\n<|im_start|>assistant\n"
	if got.Prompt != want {
		t.Errorf("Render() = %q, want %q", got.Prompt, want)
	}
	if got.Terminators[1].ID != ChatMLEndID {
		t.Errorf("expected im_end terminator id %d, got %d", ChatMLEndID, got.Terminators[1].ID)
	}
}

// TestRenderPreservesOrder checks every message appears in order, followed
// by the generation prompt, for conversations ending in a user turn.
func TestRenderPreservesOrder(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "alpha"},
		{Role: models.RoleUser, Content: "bravo"},
		{Role: models.RoleAssistant, Content: "charlie"},
		{Role: models.RoleUser, Content: "delta"},
	}
	markers := map[string]string{
		Llama3Name: "<|start_header_id|>assistant<|end_header_id|>\n\n",
		ChatMLName: "<|im_start|>assistant\n",
	}

	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			tmpl, err := Lookup(name)
			if err != nil {
				t.Fatalf("Lookup(%q) error = %v", name, err)
			}
			p := tmpl.Render(messages).Prompt

			pos := 0
			for _, m := range messages {
				i := strings.Index(p[pos:], m.Content)
				if i < 0 {
					t.Fatalf("content %q missing or out of order in %q", m.Content, p)
				}
				pos += i + len(m.Content)
			}
			if !strings.HasSuffix(p, markers[name]) {
				t.Errorf("prompt %q does not end with generation marker %q", p, markers[name])
			}
		})
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    string
		modelID string
		want    string
		wantErr bool
	}{
		{"auto llama", "auto", "meta-llama/Meta-Llama-3-8B-Instruct", Llama3Name, false},
		{"empty means auto", "", "Qwen/Qwen2.5-7B-Instruct", ChatMLName, false},
		{"unknown model falls back", "auto", "some/model", Llama3Name, false},
		{"explicit chatml", "chatml", "meta-llama/Meta-Llama-3-8B-Instruct", ChatMLName, false},
		{"explicit case insensitive", "LLAMA3", "", Llama3Name, false},
		{"unknown template", "vicuna", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.tmpl, tt.modelID)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got.Name() != tt.want {
				t.Errorf("Resolve() = %s, want %s", got.Name(), tt.want)
			}
		})
	}
}

func TestTruncateAtTerminator(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		stops []string
		want  string
	}{
		{"no terminator", "plain answer", []string{"<|eot_id|>"}, "plain answer"},
		{"trailing terminator", "answer<|eot_id|>", []string{"<|end_of_text|>", "<|eot_id|>"}, "answer"},
		{"earliest wins", "a<|eot_id|>b<|end_of_text|>", []string{"<|end_of_text|>", "<|eot_id|>"}, "a"},
		{"empty stop ignored", "abc", []string{""}, "abc"},
		{"user stop string", "one\n###\ntwo", []string{"###"}, "one\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateAtTerminator(tt.text, tt.stops); got != tt.want {
				t.Errorf("TruncateAtTerminator() = %q, want %q", got, tt.want)
			}
		})
	}
}
