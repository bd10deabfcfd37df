package models

// Placeholder bookkeeping values used when the caller supplies no override.
const (
	DefaultResponseID        = "chatcmpl-123"
	DefaultCreated           = 11111
	DefaultModel             = "Llama3-70b"
	DefaultSystemFingerprint = "fp_44709d6fcb"

	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"

	FinishReasonStop = "stop"
)

// ChatCompletionResponse represents a non-streaming chat completion response
type ChatCompletionResponse struct {
	ID                string   `json:"id"`
	Object            string   `json:"object"`
	Created           int64    `json:"created"`
	Model             string   `json:"model"`
	SystemFingerprint string   `json:"system_fingerprint"`
	Choices           []Choice `json:"choices"`
	Usage             Usage    `json:"usage"`
}

// Choice represents a choice in the completion response
type Choice struct {
	Index        int         `json:"index"`
	Message      Message     `json:"message"`
	Logprobs     interface{} `json:"logprobs"`
	FinishReason string      `json:"finish_reason"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewUsage fills TotalTokens from the prompt and completion counts.
func NewUsage(promptTokens, completionTokens int) Usage {
	return Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}

// ChatCompletionChunk represents a streaming chat completion response
type ChatCompletionChunk struct {
	ID                string         `json:"id"`
	Object            string         `json:"object"`
	Created           int64          `json:"created"`
	Model             string         `json:"model"`
	SystemFingerprint string         `json:"system_fingerprint"`
	Choices           []StreamChoice `json:"choices"`
}

// StreamChoice represents a choice in a streaming response
type StreamChoice struct {
	Index        int          `json:"index"`
	Delta        MessageDelta `json:"delta"`
	Logprobs     interface{}  `json:"logprobs"`
	FinishReason *string      `json:"finish_reason"`
}

// MessageDelta represents incremental message updates
type MessageDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ResponseOption overrides a bookkeeping field of a built response.
type ResponseOption func(*ChatCompletionResponse)

// WithID sets the response id.
func WithID(id string) ResponseOption {
	return func(r *ChatCompletionResponse) { r.ID = id }
}

// WithCreated sets the creation timestamp (unix seconds).
func WithCreated(created int64) ResponseOption {
	return func(r *ChatCompletionResponse) { r.Created = created }
}

// WithModel sets the reported model name.
func WithModel(model string) ResponseOption {
	return func(r *ChatCompletionResponse) { r.Model = model }
}

// WithSystemFingerprint sets the system fingerprint.
func WithSystemFingerprint(fp string) ResponseOption {
	return func(r *ChatCompletionResponse) { r.SystemFingerprint = fp }
}

// WithUsage sets the token usage block.
func WithUsage(u Usage) ResponseOption {
	return func(r *ChatCompletionResponse) { r.Usage = u }
}

// NewChatCompletionResponse wraps a generated message into a single-choice
// completion response. The message role is always reported as assistant.
func NewChatCompletionResponse(msg Message, opts ...ResponseOption) *ChatCompletionResponse {
	msg.Role = RoleAssistant

	resp := &ChatCompletionResponse{
		ID:                DefaultResponseID,
		Object:            ObjectChatCompletion,
		Created:           DefaultCreated,
		Model:             DefaultModel,
		SystemFingerprint: DefaultSystemFingerprint,
		Choices: []Choice{
			{
				Index:        0,
				Message:      msg,
				Logprobs:     nil,
				FinishReason: FinishReasonStop,
			},
		},
		Usage: NewUsage(9, 12),
	}
	for _, opt := range opts {
		opt(resp)
	}
	return resp
}

// NewChatCompletionChunk builds one streaming chunk. A nil finishReason
// marks an intermediate delta.
func NewChatCompletionChunk(id string, created int64, model, fingerprint string, delta MessageDelta, finishReason *string) *ChatCompletionChunk {
	return &ChatCompletionChunk{
		ID:                id,
		Object:            ObjectChatCompletionChunk,
		Created:           created,
		Model:             model,
		SystemFingerprint: fingerprint,
		Choices: []StreamChoice{
			{
				Index:        0,
				Delta:        delta,
				FinishReason: finishReason,
			},
		},
	}
}
