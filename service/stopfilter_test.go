package service

import (
	"strings"
	"testing"
)

func TestStopFilter(t *testing.T) {
	stops := []string{"<|end_of_text|>", "<|eot_id|>", "###"}

	tests := []struct {
		name    string
		deltas  []string
		want    string
		stopped bool
	}{
		{"no stop", []string{"Hello", " world"}, "Hello world", false},
		{"stop inside delta", []string{"Hi<|eot_id|>more"}, "Hi", true},
		{"stop split across deltas", []string{"Hi <", "|eo", "t_id|>", "x"}, "Hi ", true},
		{"user stop", []string{"a#", "#", "#b"}, "a", true},
		{"false alarm released", []string{"x <", "b>"}, "x <b>", false},
		{"held tail flushed at end", []string{"done <|e"}, "done <|e", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStopFilter(stops)
			var sb strings.Builder
			stopped := false
			for _, d := range tt.deltas {
				emit, s := f.push(d)
				sb.WriteString(emit)
				if s {
					stopped = true
					break
				}
			}
			if !stopped {
				sb.WriteString(f.flush())
			}
			if sb.String() != tt.want {
				t.Errorf("output = %q, want %q", sb.String(), tt.want)
			}
			if stopped != tt.stopped {
				t.Errorf("stopped = %v, want %v", stopped, tt.stopped)
			}
		})
	}
}

func TestExtractCompletion(t *testing.T) {
	stops := []string{"<|end_of_text|>", "<|eot_id|>"}
	tests := []struct {
		name, text, prompt, want string
	}{
		{"echoed prompt", "PROMPTreply<|eot_id|>", "PROMPT", "reply"},
		{"no echo", "reply<|end_of_text|>", "PROMPT", "reply"},
		{"no terminator", "PROMPTreply", "PROMPT", "reply"},
		{"earliest terminator wins", "a<|end_of_text|>b<|eot_id|>", "", "a"},
		{"empty completion", "PROMPT<|eot_id|>", "PROMPT", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractCompletion(tt.text, tt.prompt, stops); got != tt.want {
				t.Errorf("extractCompletion() = %q, want %q", got, tt.want)
			}
		})
	}
}
