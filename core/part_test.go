package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageUnmarshal_MixedParts(t *testing.T) {
	payload := `{
		"id": "m1",
		"role": "assistant",
		"parts": [
			{"type": "text", "text": "Let me check."},
			{"type": "reasoning", "text": "The user wants weather data."},
			{"type": "tool-call", "toolCallId": "c1", "toolName": "weather", "input": {"location": "Lima"}},
			{"type": "source", "url": "https://example.com", "title": "Example"},
			{"type": "file", "url": "https://x/f.png", "mediaType": "image/png", "filename": "f.png"}
		]
	}`

	var m Message
	require.NoError(t, json.Unmarshal([]byte(payload), &m))
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, RoleAssistant, m.Role)
	require.Len(t, m.Parts, 5)

	assert.Equal(t, TextPart{Text: "Let me check."}, m.Parts[0])
	assert.Equal(t, ReasoningPart{Text: "The user wants weather data."}, m.Parts[1])

	tc, ok := m.Parts[2].(ToolCallPart)
	require.True(t, ok)
	assert.Equal(t, "c1", tc.CallID)
	assert.Equal(t, "weather", tc.ToolName)
	assert.JSONEq(t, `{"location":"Lima"}`, string(tc.Input))

	assert.Equal(t, SourcePart{URL: "https://example.com", Title: "Example"}, m.Parts[3])
	assert.Equal(t, FilePart{URL: "https://x/f.png", MediaType: "image/png", Filename: "f.png"}, m.Parts[4])
}

func TestMessageUnmarshal_UnknownPartType(t *testing.T) {
	payload := `{"id":"m1","role":"user","parts":[{"type":"hologram"}]}`
	var m Message
	assert.Error(t, json.Unmarshal([]byte(payload), &m))
}

func TestMessageMarshal_RoundTrip(t *testing.T) {
	in := NewAssistantMessage(
		TextPart{Text: "done"},
		ToolResultPart{CallID: "c1", ToolName: "weather", Output: json.RawMessage(`{"temperature":70}`)},
	)

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Message
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.ID, out.ID)
	require.Len(t, out.Parts, 2)
	tr, ok := out.Parts[1].(ToolResultPart)
	require.True(t, ok)
	assert.Equal(t, "c1", tr.CallID)
	assert.Empty(t, tr.ErrorText)
}

func TestMessageHelpers(t *testing.T) {
	m := NewAssistantMessage(
		TextPart{Text: "a"},
		ToolCallPart{CallID: "c1", ToolName: "weather"},
		TextPart{Text: "b"},
	)

	assert.Equal(t, "ab", m.Text())
	calls := m.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "weather", calls[0].ToolName)
	assert.Empty(t, m.ToolResults())
}

func TestToolChoice(t *testing.T) {
	assert.True(t, ToolChoiceAuto.Allows("weather"))
	assert.True(t, ToolChoiceRequired.Allows("weather"))
	assert.False(t, ToolChoiceNone.Allows("weather"))

	specific := ToolChoice("weather")
	name, ok := specific.Specific()
	assert.True(t, ok)
	assert.Equal(t, "weather", name)
	assert.True(t, specific.Allows("weather"))
	assert.False(t, specific.Allows("local_shell"))

	_, ok = ToolChoiceAuto.Specific()
	assert.False(t, ok)
	_, ok = ToolChoice("").Specific()
	assert.False(t, ok)
}

func TestTurnContextValidate(t *testing.T) {
	tc := TurnContext{ThreadID: "t1", StepBudget: 10}
	assert.NoError(t, tc.Validate())

	assert.Error(t, TurnContext{StepBudget: 10}.Validate())
	assert.Error(t, TurnContext{ThreadID: "t1"}.Validate())
	assert.Error(t, TurnContext{ThreadID: "t1", StepBudget: -1}.Validate())
}

func TestStepLimiter(t *testing.T) {
	sl := NewStepLimiter(2)
	assert.Equal(t, 2, sl.Remaining())
	assert.True(t, sl.Take())
	assert.True(t, sl.Take())
	assert.Equal(t, 0, sl.Remaining())
	assert.Equal(t, 2, sl.Used())

	// The spent budget stays spent.
	assert.False(t, sl.Take())
	assert.Equal(t, 2, sl.Used())
}

func TestUsageAdd(t *testing.T) {
	u := Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	u.Add(Usage{InputTokens: 3, OutputTokens: 2, ReasoningTokens: 1, CachedInputTokens: 4, TotalTokens: 6})
	assert.Equal(t, Usage{InputTokens: 13, OutputTokens: 7, ReasoningTokens: 1, CachedInputTokens: 4, TotalTokens: 21}, u)
}
