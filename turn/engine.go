// Package turn implements the turn loop: the bounded state machine that
// drives a model through alternating assistant output and tool execution
// steps until the turn finishes.
package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/sandchat/sandchat/core"
	"github.com/sandchat/sandchat/logging"
	"github.com/sandchat/sandchat/model"
	"github.com/sandchat/sandchat/tool"
)

// Options configure the engine.
type Options struct {
	Logger logging.Logger
	// MaxParallelTools bounds concurrent tool executions within one step.
	MaxParallelTools int
	// ToolHook is invoked after each tool execution, e.g. for metrics.
	ToolHook func(toolName string, err error)
}

// Engine runs turns against a model and a tool registry.
//
// State machine per turn:
//
//	AwaitingModel -> ModelProducedOutput -> {Finished | AwaitingToolResults}
//	AwaitingToolResults -> AwaitingModel (loop)
//
// Event guarantees: events are emitted in causal order, a tool-result never
// precedes its tool-call, and exactly one finish event ends the sequence
// before the channel closes.
type Engine struct {
	model    model.Model
	registry *tool.Registry
	logger   logging.Logger
	exec     *executor
}

// NewEngine creates a turn engine.
func NewEngine(m model.Model, registry *tool.Registry, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Logger:           logging.NoOpLogger{},
		MaxParallelTools: 4,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{
		model:    m,
		registry: registry,
		logger:   opts.Logger,
		exec: newExecutor(ExecutorConfig{
			MaxParallel: opts.MaxParallelTools,
			Logger:      opts.Logger,
			Hook:        opts.ToolHook,
		}),
	}
}

// Run executes one turn and returns its ordered event stream. The channel is
// closed after the finish event. Cancelling ctx aborts at the next safe
// point; no new model invocation starts after cancellation is observed.
func (e *Engine) Run(
	ctx context.Context,
	tc core.TurnContext,
	instructions string,
	history []core.Message,
) <-chan core.TurnEvent {
	events := make(chan core.TurnEvent, 16)

	go func() {
		defer close(events)
		e.run(ctx, tc, instructions, history, events)
	}()

	return events
}

func (e *Engine) run(
	ctx context.Context,
	tc core.TurnContext,
	instructions string,
	history []core.Message,
	events chan<- core.TurnEvent,
) {
	emit := func(ev core.TurnEvent) bool {
		select {
		case <-ctx.Done():
			return false
		case events <- ev:
			return true
		}
	}
	// finish delivers the terminal event even when the consumer has already
	// gone away, without blocking forever.
	finish := func(ev core.FinishEvent) {
		select {
		case events <- ev:
		default:
			select {
			case <-ctx.Done():
			case events <- ev:
			}
		}
	}

	if err := tc.Validate(); err != nil {
		finish(core.FinishEvent{Reason: core.FinishError, ErrorText: err.Error()})
		return
	}

	activeTools := e.registry.ResolveActive(tc.ActiveTools)
	toolMap := make(map[string]tool.Tool, len(activeTools))
	for _, t := range activeTools {
		toolMap[t.Name()] = t
	}
	defs := tool.Definitions(activeTools)

	limiter := core.NewStepLimiter(tc.StepBudget)
	msgs := append([]core.Message(nil), history...)
	choice := tc.ToolChoice
	var usage core.Usage

	e.logger.Info("turn.start",
		"thread_id", tc.ThreadID,
		"active_tools", len(activeTools),
		"tool_choice", string(choice),
		"step_budget", tc.StepBudget,
	)

	for {
		if ctx.Err() != nil {
			finish(core.FinishEvent{Reason: core.FinishCanceled, Usage: usage})
			return
		}
		if !limiter.Take() {
			finish(core.FinishEvent{Reason: core.FinishStepBudget, Usage: usage})
			return
		}

		final, err := e.step(ctx, model.Request{
			Instructions:    instructions,
			Messages:        msgs,
			Tools:           defs,
			ToolChoice:      choice,
			ReasoningEffort: tc.ReasoningEffort,
			Stream:          true,
		}, emit)
		if err != nil {
			reason := core.FinishError
			if ctx.Err() != nil {
				reason = core.FinishCanceled
			}
			e.logger.Error("turn.step.failed", "thread_id", tc.ThreadID, "error", err.Error())
			finish(core.FinishEvent{Reason: reason, Usage: usage, ErrorText: err.Error()})
			return
		}
		if final.Usage != nil {
			usage.Add(*final.Usage)
		}

		toolCalls := toolCallParts(final.Parts)

		if len(toolCalls) == 0 {
			e.logger.Info("turn.finished",
				"thread_id", tc.ThreadID, "reason", string(core.FinishStop), "steps", limiter.Used())
			finish(core.FinishEvent{Reason: core.FinishStop, Usage: usage})
			return
		}

		for _, call := range toolCalls {
			if !choice.Allows(call.ToolName) {
				e.logger.Warn("turn.policy_violation",
					"thread_id", tc.ThreadID, "tool", call.ToolName, "tool_choice", string(choice))
				finish(core.FinishEvent{
					Reason:    core.FinishProtocolViolation,
					Usage:     usage,
					ErrorText: fmt.Sprintf("tool call %s not allowed under tool choice %q", call.ToolName, choice),
				})
				return
			}
		}

		// The budget is spent; finish with what has been produced rather
		// than emitting tool calls whose results can never follow.
		if limiter.Remaining() == 0 {
			e.logger.Info("turn.finished",
				"thread_id", tc.ThreadID, "reason", string(core.FinishStepBudget), "steps", limiter.Used())
			finish(core.FinishEvent{Reason: core.FinishStepBudget, Usage: usage})
			return
		}

		for _, call := range toolCalls {
			if !emit(core.ToolCallEvent{CallID: call.CallID, ToolName: call.ToolName, Input: call.Input}) {
				finish(core.FinishEvent{Reason: core.FinishCanceled, Usage: usage})
				return
			}
		}

		results := e.exec.execute(ctx, tc, toolMap, toolCalls, emit)

		for _, r := range results {
			if r.violation {
				finish(core.FinishEvent{
					Reason:    core.FinishProtocolViolation,
					Usage:     usage,
					ErrorText: fmt.Sprintf("tool call %s failed input validation", r.call.ToolName),
				})
				return
			}
		}

		resultParts := make([]core.ToolResultPart, 0, len(results))
		for _, r := range results {
			resultParts = append(resultParts, r.toolResultPart())
		}
		msgs = append(msgs,
			core.NewAssistantMessage(final.Parts...),
			core.NewToolMessage(resultParts...),
		)

		// required / specific-tool policies apply to the first step only;
		// later steps degrade to auto so the model can answer in text.
		if _, specific := choice.Specific(); specific || choice == core.ToolChoiceRequired {
			choice = core.ToolChoiceAuto
		}
	}
}

// step drives one model invocation, forwarding partial deltas as events, and
// returns the final response. Models that do not stream still produce their
// full text as a single delta.
func (e *Engine) step(
	ctx context.Context,
	req model.Request,
	emit func(core.TurnEvent) bool,
) (*model.Response, error) {
	respCh, errCh := e.model.Generate(ctx, req)

	var final *model.Response
	var streamedText strings.Builder
	streamedReasoning := false

	for resp := range respCh {
		if !resp.Partial {
			r := resp
			final = &r
			continue
		}
		for _, part := range resp.Parts {
			switch p := part.(type) {
			case core.TextPart:
				streamedText.WriteString(p.Text)
				if !emit(core.TextDeltaEvent{Delta: p.Text}) {
					return nil, ctx.Err()
				}
			case core.ReasoningPart:
				streamedReasoning = true
				if !emit(core.ReasoningDeltaEvent{Delta: p.Text}) {
					return nil, ctx.Err()
				}
			}
		}
	}
	if err := <-errCh; err != nil && final == nil {
		return nil, err
	}
	if final == nil {
		return nil, fmt.Errorf("model produced no final response")
	}

	for _, part := range final.Parts {
		switch p := part.(type) {
		case core.TextPart:
			// Emit whatever the partial stream did not already cover.
			streamed := streamedText.String()
			remainder := p.Text
			if streamed != "" && strings.HasPrefix(p.Text, streamed) {
				remainder = p.Text[len(streamed):]
			} else if streamed != "" {
				remainder = ""
			}
			if remainder != "" {
				if !emit(core.TextDeltaEvent{Delta: remainder}) {
					return nil, ctx.Err()
				}
			}
		case core.ReasoningPart:
			if !streamedReasoning && p.Text != "" {
				if !emit(core.ReasoningDeltaEvent{Delta: p.Text}) {
					return nil, ctx.Err()
				}
			}
		case core.SourcePart:
			if !emit(core.SourceEvent{URL: p.URL, Title: p.Title}) {
				return nil, ctx.Err()
			}
		}
	}

	return final, nil
}

func toolCallParts(parts []core.Part) []core.ToolCallPart {
	var calls []core.ToolCallPart
	for _, p := range parts {
		if call, ok := p.(core.ToolCallPart); ok {
			calls = append(calls, call)
		}
	}
	return calls
}
