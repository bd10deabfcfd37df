// Package prompt renders chat messages into model prompts.
//
// A Template applies a model family's chat format to an ordered list of
// messages and appends the generation prompt that asks the model for the
// next assistant turn. It also reports the terminator tokens the engine must
// treat as stop conditions.
//
// Internal use only: callers go through the service package.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Agent-Artificial/llama3/models"
)

// Terminator is a special token that ends an assistant turn.
type Terminator struct {
	ID    int
	Token string
}

// Rendered is a prompt ready for the generation engine.
type Rendered struct {
	Prompt      string
	Terminators []Terminator
}

// StopStrings returns the textual form of the terminators.
func (r Rendered) StopStrings() []string {
	out := make([]string, len(r.Terminators))
	for i, t := range r.Terminators {
		out[i] = t.Token
	}
	return out
}

// TerminatorIDs returns the token ids of the terminators.
func (r Rendered) TerminatorIDs() []int {
	out := make([]int, len(r.Terminators))
	for i, t := range r.Terminators {
		out[i] = t.ID
	}
	return out
}

// Template formats messages for one model family.
type Template interface {
	// Name is the identifier used in configuration (e.g. "llama3").
	Name() string
	// Render formats messages and appends the generation prompt.
	// An empty message list yields just the template preamble and the
	// generation prompt.
	Render(messages []models.Message) Rendered
}

// AutoTemplate selects the template from the model identifier.
const AutoTemplate = "auto"

var registry = map[string]Template{
	Llama3Name: Llama3{},
	ChatMLName: ChatML{},
}

// Names lists the registered template names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the template registered under name.
func Lookup(name string) (Template, error) {
	t, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown chat template %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return t, nil
}

// ForModel infers a template from a model identifier such as
// "meta-llama/Meta-Llama-3-8B-Instruct" or "Qwen/Qwen2.5-7B-Instruct".
// Unrecognised identifiers fall back to Llama 3.
func ForModel(modelID string) Template {
	id := strings.ToLower(modelID)
	switch {
	case strings.Contains(id, "llama-3"), strings.Contains(id, "llama3"):
		return Llama3{}
	case strings.Contains(id, "qwen"), strings.Contains(id, "chatml"), strings.Contains(id, "hermes"):
		return ChatML{}
	default:
		return Llama3{}
	}
}

// Resolve returns the named template, or infers one from modelID when name
// is empty or "auto".
func Resolve(name, modelID string) (Template, error) {
	if name == "" || strings.EqualFold(name, AutoTemplate) {
		return ForModel(modelID), nil
	}
	return Lookup(name)
}

// TruncateAtTerminator cuts text at the first occurrence of any stop string.
// Empty stop strings are ignored.
func TruncateAtTerminator(text string, stops []string) string {
	cut := len(text)
	for _, s := range stops {
		if s == "" {
			continue
		}
		if i := strings.Index(text, s); i >= 0 && i < cut {
			cut = i
		}
	}
	return text[:cut]
}
