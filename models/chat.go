package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message roles understood by the chat templates.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content"`
}

// NewMessage builds a message, defaulting the role to "user".
func NewMessage(content, role string) Message {
	if role == "" {
		role = RoleUser
	}
	return Message{Role: role, Content: content}
}

// ChatRequest represents an OpenAI-compatible chat completion request
type ChatRequest struct {
	Model            string            `json:"model" binding:"required"`
	Messages         []Message         `json:"messages" binding:"required,min=1,dive"`
	FrequencyPenalty *float64          `json:"frequency_penalty,omitempty"`
	FunctionCall     interface{}       `json:"function_call,omitempty"`
	Functions        []Function        `json:"functions,omitempty" binding:"omitempty,dive"`
	LogitBias        map[string]int    `json:"logit_bias,omitempty"`
	Logprobs         *bool             `json:"logprobs,omitempty"`
	MaxTokens        *int              `json:"max_tokens,omitempty" binding:"omitempty,gt=0"`     // OpenAI API standard field
	MaxNewTokens     *int              `json:"max_new_tokens,omitempty" binding:"omitempty,gt=0"` // generation-pipeline field, wins over max_tokens
	DoSample         *bool             `json:"do_sample,omitempty"`
	N                *int              `json:"n,omitempty" binding:"omitempty,gte=1"`
	PresencePenalty  *float64          `json:"presence_penalty,omitempty"`
	ResponseFormat   *ResponseFormat   `json:"response_format,omitempty"`
	Seed             *int              `json:"seed,omitempty"`
	Stop             StopSequences     `json:"stop,omitempty"`
	Stream           bool              `json:"stream,omitempty"`
	Temperature      *float64          `json:"temperature,omitempty" binding:"omitempty,gte=0,lte=2"`
	ToolChoice       interface{}       `json:"tool_choice,omitempty"`
	Tools            []json.RawMessage `json:"tools,omitempty"`
	TopLogprobs      *int              `json:"top_logprobs,omitempty"`
	TopP             *float64          `json:"top_p,omitempty" binding:"omitempty,gt=0,lte=1"`
	User             string            `json:"user,omitempty"`
}

// Function represents a callable function definition
type Function struct {
	Name        string                 `json:"name" binding:"required"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ResponseFormat represents the response format
type ResponseFormat struct {
	Type string `json:"type" binding:"oneof=text json_object"`
}

// StopSequences accepts either a single string or a list of strings.
type StopSequences []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *StopSequences) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*s = nil
		} else {
			*s = StopSequences{single}
		}
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return errors.New("stop must be a string or an array of strings")
	}
	*s = list
	return nil
}

// Validate checks required fields and value ranges.
func (r *ChatRequest) Validate() error {
	if r == nil {
		return errors.New("invalid request: empty body")
	}
	return validateStruct(r)
}

// ParseChatRequest decodes and validates a request body.
func ParseChatRequest(body []byte) (*ChatRequest, error) {
	if len(body) == 0 {
		return nil, errors.New("invalid request: empty body")
	}
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// ModelData describes a served model
type ModelData struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse is the body of GET /v1/models
type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelData `json:"data"`
}
