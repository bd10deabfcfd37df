package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChatCompletionResponseDefaults(t *testing.T) {
	resp := NewChatCompletionResponse(Message{Role: RoleAssistant, Content: "hi there"})

	assert.Equal(t, DefaultResponseID, resp.ID)
	assert.Equal(t, ObjectChatCompletion, resp.Object)
	assert.Equal(t, int64(DefaultCreated), resp.Created)
	assert.Equal(t, DefaultModel, resp.Model)
	assert.Equal(t, DefaultSystemFingerprint, resp.SystemFingerprint)
	assert.Equal(t, Usage{PromptTokens: 9, CompletionTokens: 12, TotalTokens: 21}, resp.Usage)

	require.Len(t, resp.Choices, 1)
	choice := resp.Choices[0]
	assert.Equal(t, 0, choice.Index)
	assert.Equal(t, RoleAssistant, choice.Message.Role)
	assert.Equal(t, "hi there", choice.Message.Content)
	assert.Equal(t, FinishReasonStop, choice.FinishReason)
	assert.Nil(t, choice.Logprobs)
}

func TestNewChatCompletionResponseForcesAssistantRole(t *testing.T) {
	for _, role := range []string{RoleUser, RoleSystem, "", "tool"} {
		resp := NewChatCompletionResponse(Message{Role: role, Content: "x"})
		require.Len(t, resp.Choices, 1)
		assert.Equal(t, RoleAssistant, resp.Choices[0].Message.Role, "input role %q", role)
		assert.Equal(t, FinishReasonStop, resp.Choices[0].FinishReason)
	}
}

func TestNewChatCompletionResponseOptions(t *testing.T) {
	resp := NewChatCompletionResponse(
		Message{Role: RoleAssistant, Content: "ok"},
		WithID("chatcmpl-abc"),
		WithCreated(1700000000),
		WithModel("meta-llama/Meta-Llama-3-8B-Instruct"),
		WithSystemFingerprint("fp_test"),
		WithUsage(NewUsage(3, 4)),
	)

	assert.Equal(t, "chatcmpl-abc", resp.ID)
	assert.Equal(t, int64(1700000000), resp.Created)
	assert.Equal(t, "meta-llama/Meta-Llama-3-8B-Instruct", resp.Model)
	assert.Equal(t, "fp_test", resp.SystemFingerprint)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
}

// TestResponseJSONPreservesContent checks content survives serialization
// untouched, including markup-looking and non-ASCII text.
func TestResponseJSONPreservesContent(t *testing.T) {
	contents := []string{
		"hello",
		"",
		"line one\nline two\n\ttabbed",
		`quotes "inside" and <tags> & ampersands`,
		"héllo wörld 你好 🦙",
	}

	for _, content := range contents {
		msg := NewMessage(content, RoleAssistant)
		data, err := json.Marshal(NewChatCompletionResponse(msg))
		require.NoError(t, err)

		var decoded ChatCompletionResponse
		require.NoError(t, json.Unmarshal(data, &decoded))
		require.Len(t, decoded.Choices, 1)
		assert.Equal(t, content, decoded.Choices[0].Message.Content)
	}
}

func TestResponseJSONShape(t *testing.T) {
	data, err := json.Marshal(NewChatCompletionResponse(Message{Content: "x"}))
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))

	for _, key := range []string{"id", "object", "created", "model", "system_fingerprint", "choices", "usage"} {
		assert.Contains(t, raw, key)
	}

	choice := raw["choices"].([]interface{})[0].(map[string]interface{})
	assert.Contains(t, choice, "logprobs")
	assert.Nil(t, choice["logprobs"])
}

func TestNewChatCompletionChunk(t *testing.T) {
	stop := FinishReasonStop
	chunk := NewChatCompletionChunk("id-1", 42, "m", "fp", MessageDelta{}, &stop)

	data, err := json.Marshal(chunk)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"id":"id-1","object":"chat.completion.chunk","created":42,"model":"m","system_fingerprint":"fp",
		  "choices":[{"index":0,"delta":{},"logprobs":null,"finish_reason":"stop"}]}`,
		string(data))

	mid := NewChatCompletionChunk("id-1", 42, "m", "fp", MessageDelta{Content: "tok"}, nil)
	data, err = json.Marshal(mid)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"finish_reason":null`)
}
