package turn

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sandchat/sandchat/core"
	"github.com/sandchat/sandchat/model"
	"github.com/sandchat/sandchat/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	reg.MustRegister(
		tool.NewFunctionTool("weather", "Get the weather",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"location": map[string]any{"type": "string"},
				},
				"required": []any{"location"},
			},
			func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
				return map[string]any{"location": args["location"], "temperature": 70}, nil
			}),
		tool.NewFunctionTool("always_fails", "Always fails",
			map[string]any{"type": "object"},
			func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
				return nil, errors.New("upstream exploded")
			}),
	)
	return reg
}

func turnContext() core.TurnContext {
	return core.TurnContext{ThreadID: "t1", StepBudget: 10, ToolChoice: core.ToolChoiceAuto}
}

func collect(t *testing.T, events <-chan core.TurnEvent) []core.TurnEvent {
	t.Helper()
	var out []core.TurnEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func finishOf(t *testing.T, events []core.TurnEvent) core.FinishEvent {
	t.Helper()
	require.NotEmpty(t, events)
	fin, ok := events[len(events)-1].(core.FinishEvent)
	require.True(t, ok, "last event must be a finish event, got %T", events[len(events)-1])
	for _, ev := range events[:len(events)-1] {
		_, isFinish := ev.(core.FinishEvent)
		require.False(t, isFinish, "finish event must occur exactly once")
	}
	return fin
}

func textOf(events []core.TurnEvent) string {
	var sb strings.Builder
	for _, ev := range events {
		if d, ok := ev.(core.TextDeltaEvent); ok {
			sb.WriteString(d.Delta)
		}
	}
	return sb.String()
}

func TestEngine_SingleStepNoTools(t *testing.T) {
	m := model.NewMockModel(model.MockStep{
		Text:  "hello",
		Usage: core.Usage{InputTokens: 10, OutputTokens: 2, TotalTokens: 12},
	})
	engine := NewEngine(m, newTestRegistry(t))

	events := collect(t, engine.Run(context.Background(), turnContext(), "sys", []core.Message{
		core.NewUserMessage("hi"),
	}))

	assert.Equal(t, "hello", textOf(events))
	fin := finishOf(t, events)
	assert.Equal(t, core.FinishStop, fin.Reason)
	assert.Equal(t, 12, fin.Usage.TotalTokens)
	assert.Equal(t, 1, m.Calls())
}

func TestEngine_ToolCallRoundTrip(t *testing.T) {
	m := model.NewMockModel(
		model.MockStep{
			ToolCalls: []core.ToolCallPart{
				{CallID: "c1", ToolName: "weather", Input: json.RawMessage(`{"location":"Lima"}`)},
			},
			Usage: core.Usage{TotalTokens: 10},
		},
		model.MockStep{Text: "It is 70F in Lima.", Usage: core.Usage{TotalTokens: 5}},
	)
	engine := NewEngine(m, newTestRegistry(t))

	tc := turnContext()
	tc.ToolChoice = core.ToolChoiceRequired
	events := collect(t, engine.Run(context.Background(), tc, "sys", []core.Message{
		core.NewUserMessage("what's the weather in Lima?"),
	}))

	// Causal order: tool-call precedes its tool-result, finish is last.
	var callIdx, resultIdx = -1, -1
	for i, ev := range events {
		switch e := ev.(type) {
		case core.ToolCallEvent:
			callIdx = i
			assert.Equal(t, "weather", e.ToolName)
		case core.ToolResultEvent:
			resultIdx = i
			assert.Equal(t, "c1", e.CallID)
			assert.Empty(t, e.ErrorText)
			assert.Contains(t, string(e.Output), "70")
		}
	}
	require.GreaterOrEqual(t, callIdx, 0)
	require.Greater(t, resultIdx, callIdx)

	assert.Equal(t, "It is 70F in Lima.", textOf(events))
	fin := finishOf(t, events)
	assert.Equal(t, core.FinishStop, fin.Reason)
	assert.Equal(t, 15, fin.Usage.TotalTokens)

	// The second invocation sees the appended assistant and tool messages
	// and a degraded tool choice.
	require.Equal(t, 2, m.Calls())
	second := m.Requests[1]
	assert.Equal(t, core.ToolChoiceAuto, second.ToolChoice)
	require.Len(t, second.Messages, 3)
	assert.Equal(t, core.RoleAssistant, second.Messages[1].Role)
	assert.Equal(t, core.RoleTool, second.Messages[2].Role)
	require.Len(t, second.Messages[2].ToolResults(), 1)
}

func TestEngine_ToolErrorContinuesTurn(t *testing.T) {
	m := model.NewMockModel(
		model.MockStep{ToolCalls: []core.ToolCallPart{
			{CallID: "c1", ToolName: "always_fails", Input: json.RawMessage(`{}`)},
		}},
		model.MockStep{Text: "The tool failed, sorry."},
	)
	engine := NewEngine(m, newTestRegistry(t))

	events := collect(t, engine.Run(context.Background(), turnContext(), "sys", nil))

	var result core.ToolResultEvent
	for _, ev := range events {
		if r, ok := ev.(core.ToolResultEvent); ok {
			result = r
		}
	}
	assert.Contains(t, result.ErrorText, "upstream exploded")
	assert.Equal(t, core.FinishStop, finishOf(t, events).Reason)
	assert.Equal(t, 2, m.Calls())
}

func TestEngine_UnknownToolContinuesTurn(t *testing.T) {
	m := model.NewMockModel(
		model.MockStep{ToolCalls: []core.ToolCallPart{
			{CallID: "c1", ToolName: "ghost", Input: json.RawMessage(`{}`)},
		}},
		model.MockStep{Text: "no such tool"},
	)
	engine := NewEngine(m, newTestRegistry(t))

	events := collect(t, engine.Run(context.Background(), turnContext(), "sys", nil))

	var result core.ToolResultEvent
	for _, ev := range events {
		if r, ok := ev.(core.ToolResultEvent); ok {
			result = r
		}
	}
	assert.Contains(t, result.ErrorText, "not found")
	assert.Equal(t, core.FinishStop, finishOf(t, events).Reason)
}

func TestEngine_ToolChoiceNoneViolation(t *testing.T) {
	m := model.NewMockModel(model.MockStep{ToolCalls: []core.ToolCallPart{
		{CallID: "c1", ToolName: "weather", Input: json.RawMessage(`{"location":"Lima"}`)},
	}})
	engine := NewEngine(m, newTestRegistry(t))

	tc := turnContext()
	tc.ToolChoice = core.ToolChoiceNone
	events := collect(t, engine.Run(context.Background(), tc, "sys", nil))

	// The illegal call is never executed or announced.
	for _, ev := range events {
		_, isCall := ev.(core.ToolCallEvent)
		_, isResult := ev.(core.ToolResultEvent)
		assert.False(t, isCall || isResult)
	}
	fin := finishOf(t, events)
	assert.Equal(t, core.FinishProtocolViolation, fin.Reason)
	assert.Contains(t, fin.ErrorText, "weather")
	assert.Equal(t, 1, m.Calls())
}

func TestEngine_SpecificToolViolation(t *testing.T) {
	m := model.NewMockModel(model.MockStep{ToolCalls: []core.ToolCallPart{
		{CallID: "c1", ToolName: "always_fails", Input: json.RawMessage(`{}`)},
	}})
	engine := NewEngine(m, newTestRegistry(t))

	tc := turnContext()
	tc.ToolChoice = core.ToolChoice("weather")
	events := collect(t, engine.Run(context.Background(), tc, "sys", nil))

	assert.Equal(t, core.FinishProtocolViolation, finishOf(t, events).Reason)
}

func TestEngine_MalformedInputIsProtocolViolation(t *testing.T) {
	m := model.NewMockModel(model.MockStep{ToolCalls: []core.ToolCallPart{
		{CallID: "c1", ToolName: "weather", Input: json.RawMessage(`{"location":`)},
	}})
	engine := NewEngine(m, newTestRegistry(t))

	events := collect(t, engine.Run(context.Background(), turnContext(), "sys", nil))

	// No fabricated tool result for the malformed call.
	for _, ev := range events {
		_, isResult := ev.(core.ToolResultEvent)
		assert.False(t, isResult)
	}
	assert.Equal(t, core.FinishProtocolViolation, finishOf(t, events).Reason)
	assert.Equal(t, 1, m.Calls())
}

func TestEngine_SchemaViolationTerminates(t *testing.T) {
	m := model.NewMockModel(model.MockStep{ToolCalls: []core.ToolCallPart{
		{CallID: "c1", ToolName: "weather", Input: json.RawMessage(`{"location":42}`)},
	}})
	engine := NewEngine(m, newTestRegistry(t))

	events := collect(t, engine.Run(context.Background(), turnContext(), "sys", nil))
	assert.Equal(t, core.FinishProtocolViolation, finishOf(t, events).Reason)
}

func TestEngine_StepBudgetExhaustion(t *testing.T) {
	// The model asks for a tool on every step; a budget of 2 permits one
	// round trip then terminates without announcing the second batch.
	call := core.ToolCallPart{CallID: "c", ToolName: "weather", Input: json.RawMessage(`{"location":"Lima"}`)}
	m := model.NewMockModel(
		model.MockStep{ToolCalls: []core.ToolCallPart{call}},
		model.MockStep{ToolCalls: []core.ToolCallPart{call}},
	)
	engine := NewEngine(m, newTestRegistry(t))

	tc := turnContext()
	tc.StepBudget = 2
	events := collect(t, engine.Run(context.Background(), tc, "sys", nil))

	calls := 0
	for _, ev := range events {
		if _, ok := ev.(core.ToolCallEvent); ok {
			calls++
		}
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, core.FinishStepBudget, finishOf(t, events).Reason)
	assert.Equal(t, 2, m.Calls())
}

func TestEngine_ParallelToolCallsAllResolve(t *testing.T) {
	m := model.NewMockModel(
		model.MockStep{ToolCalls: []core.ToolCallPart{
			{CallID: "c1", ToolName: "weather", Input: json.RawMessage(`{"location":"Lima"}`)},
			{CallID: "c2", ToolName: "weather", Input: json.RawMessage(`{"location":"Oslo"}`)},
		}},
		model.MockStep{Text: "done"},
	)
	engine := NewEngine(m, newTestRegistry(t))

	events := collect(t, engine.Run(context.Background(), turnContext(), "sys", nil))

	callSeen := map[string]int{}
	resultSeen := map[string]int{}
	for i, ev := range events {
		switch e := ev.(type) {
		case core.ToolCallEvent:
			callSeen[e.CallID] = i
		case core.ToolResultEvent:
			resultSeen[e.CallID] = i
		}
	}
	require.Len(t, callSeen, 2)
	require.Len(t, resultSeen, 2)
	for id, callIdx := range callSeen {
		assert.Greater(t, resultSeen[id], callIdx, "result for %s must follow its call", id)
	}

	// Both results land in a single tool message, in call order.
	second := m.Requests[1]
	results := second.Messages[len(second.Messages)-1].ToolResults()
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].CallID)
	assert.Equal(t, "c2", results[1].CallID)
}

func TestEngine_InvalidTurnContext(t *testing.T) {
	engine := NewEngine(model.NewMockModel(), newTestRegistry(t))

	events := collect(t, engine.Run(context.Background(), core.TurnContext{}, "sys", nil))
	fin := finishOf(t, events)
	assert.Equal(t, core.FinishError, fin.Reason)
}

func TestEngine_ModelErrorFinishesWithError(t *testing.T) {
	m := model.NewMockModel(model.MockStep{Err: errors.New("rate limited")})
	engine := NewEngine(m, newTestRegistry(t))

	events := collect(t, engine.Run(context.Background(), turnContext(), "sys", nil))
	fin := finishOf(t, events)
	assert.Equal(t, core.FinishError, fin.Reason)
	assert.Contains(t, fin.ErrorText, "rate limited")
}

func TestEngine_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := model.NewMockModel(model.MockStep{Text: "never delivered"})
	engine := NewEngine(m, newTestRegistry(t))

	events := collect(t, engine.Run(ctx, turnContext(), "sys", nil))
	fin := finishOf(t, events)
	assert.Equal(t, core.FinishCanceled, fin.Reason)
}
