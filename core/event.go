package core

import "encoding/json"

// TurnEvent is the unit the turn loop emits while running. Events are
// produced in causal order: a ToolResultEvent for a call never precedes its
// ToolCallEvent, and exactly one FinishEvent terminates every turn.
type TurnEvent interface{ isTurnEvent() }

// TextDeltaEvent appends text to the current assistant text part.
type TextDeltaEvent struct {
	Delta string
}

func (TextDeltaEvent) isTurnEvent() {}

// ReasoningDeltaEvent appends text to the current reasoning part.
type ReasoningDeltaEvent struct {
	Delta string
}

func (ReasoningDeltaEvent) isTurnEvent() {}

// ToolCallEvent announces that a tool execution has started.
type ToolCallEvent struct {
	CallID   string
	ToolName string
	Input    json.RawMessage
}

func (ToolCallEvent) isTurnEvent() {}

// ToolResultEvent carries the outcome of a tool execution. Exactly one of
// Output or ErrorText is populated.
type ToolResultEvent struct {
	CallID    string
	ToolName  string
	Output    json.RawMessage
	ErrorText string
}

func (ToolResultEvent) isTurnEvent() {}

// SourceEvent is a citation surfaced mid-stream.
type SourceEvent struct {
	URL   string
	Title string
}

func (SourceEvent) isTurnEvent() {}

// FinishReason explains why a turn terminated. Step budget exhaustion is an
// ordinary termination, distinguishable from the model deciding to stop.
type FinishReason string

// Turn termination reasons.
const (
	FinishStop              FinishReason = "stop"
	FinishStepBudget        FinishReason = "step-budget"
	FinishProtocolViolation FinishReason = "protocol-violation"
	FinishCanceled          FinishReason = "canceled"
	FinishError             FinishReason = "error"
)

// FinishEvent is always the last event of a turn and occurs exactly once.
// Usage totals are finalized here, never incrementally.
type FinishEvent struct {
	Reason    FinishReason
	Usage     Usage
	ErrorText string
}

func (FinishEvent) isTurnEvent() {}

// Usage captures token usage accumulated over all model invocations of a
// single turn.
type Usage struct {
	InputTokens       int `json:"inputTokens"`
	OutputTokens      int `json:"outputTokens"`
	ReasoningTokens   int `json:"reasoningTokens"`
	CachedInputTokens int `json:"cachedInputTokens"`
	TotalTokens       int `json:"totalTokens"`
}

// Add accumulates another usage sample into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.ReasoningTokens += other.ReasoningTokens
	u.CachedInputTokens += other.CachedInputTokens
	u.TotalTokens += other.TotalTokens
}
