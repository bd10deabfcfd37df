package prompt

import (
	"strings"

	"github.com/Agent-Artificial/llama3/models"
)

// ChatML special tokens, with the ids used by the Qwen2 vocabulary.
const (
	ChatMLName = "chatml"

	ChatMLStart     = "<|im_start|>"
	ChatMLEnd       = "<|im_end|>"
	ChatMLEndOfText = "<|endoftext|>"

	ChatMLEndOfTextID = 151643
	ChatMLEndID       = 151645
)

// ChatML is the <|im_start|>/<|im_end|> chat format.
type ChatML struct{}

// Name implements Template.
func (ChatML) Name() string { return ChatMLName }

// Render implements Template.
func (ChatML) Render(messages []models.Message) Rendered {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(ChatMLStart)
		sb.WriteString(m.Role)
		sb.WriteString("\n")
		sb.WriteString(m.Content)
		sb.WriteString(ChatMLEnd)
		sb.WriteString("\n")
	}
	sb.WriteString(ChatMLStart)
	sb.WriteString(models.RoleAssistant)
	sb.WriteString("\n")

	return Rendered{
		Prompt: sb.String(),
		Terminators: []Terminator{
			{ID: ChatMLEndOfTextID, Token: ChatMLEndOfText},
			{ID: ChatMLEndID, Token: ChatMLEnd},
		},
	}
}
