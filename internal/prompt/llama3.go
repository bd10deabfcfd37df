package prompt

import (
	"strings"

	"github.com/Agent-Artificial/llama3/models"
)

// Llama 3 special tokens and their vocabulary ids.
const (
	Llama3Name = "llama3"

	Llama3BeginOfText = "<|begin_of_text|>"
	Llama3EndOfText   = "<|end_of_text|>"
	Llama3StartHeader = "<|start_header_id|>"
	Llama3EndHeader   = "<|end_header_id|>"
	Llama3EndOfTurn   = "<|eot_id|>"

	Llama3EndOfTextID = 128001
	Llama3EndOfTurnID = 128009
)

// Llama3 is the Meta Llama 3 Instruct chat format.
type Llama3 struct{}

// Name implements Template.
func (Llama3) Name() string { return Llama3Name }

// Render implements Template. Message content is trimmed, matching the
// reference template shipped with the model.
func (Llama3) Render(messages []models.Message) Rendered {
	var sb strings.Builder
	sb.WriteString(Llama3BeginOfText)
	for _, m := range messages {
		writeLlama3Header(&sb, m.Role)
		sb.WriteString(strings.TrimSpace(m.Content))
		sb.WriteString(Llama3EndOfTurn)
	}
	writeLlama3Header(&sb, models.RoleAssistant)

	return Rendered{
		Prompt: sb.String(),
		Terminators: []Terminator{
			{ID: Llama3EndOfTextID, Token: Llama3EndOfText},
			{ID: Llama3EndOfTurnID, Token: Llama3EndOfTurn},
		},
	}
}

func writeLlama3Header(sb *strings.Builder, role string) {
	sb.WriteString(Llama3StartHeader)
	sb.WriteString(role)
	sb.WriteString(Llama3EndHeader)
	sb.WriteString("\n\n")
}
