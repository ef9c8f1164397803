package core

import "fmt"

// ToolChoice constrains whether and which tool the model may call in the next
// step. Besides the three named modes, any other non-empty value is treated as
// the name of the single tool the model is constrained to.
type ToolChoice string

// Named tool choice modes.
const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

// Specific returns the constrained tool name when the choice names a single
// tool rather than one of the generic modes.
func (c ToolChoice) Specific() (string, bool) {
	switch c {
	case "", ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
		return "", false
	default:
		return string(c), true
	}
}

// Allows reports whether a reported call to the named tool is legal under the
// policy. An illegal call is a protocol violation, not an execution request.
func (c ToolChoice) Allows(name string) bool {
	if c == ToolChoiceNone {
		return false
	}
	if specific, ok := c.Specific(); ok {
		return specific == name
	}
	return true
}

// TurnContext is the immutable per-turn scope constructed once per request.
type TurnContext struct {
	// UserID is the authenticated user identifier, empty for anonymous turns.
	UserID string
	// ThreadID keys the conversation and its sandbox session.
	ThreadID string
	// ActiveTools selects a subset of the registered tools for this turn.
	// Nil means all registered tools; unknown names are silently dropped.
	ActiveTools []string
	// ToolChoice is the tool policy for the first model step.
	ToolChoice ToolChoice
	// StepBudget is the maximum number of model invocations for this turn.
	StepBudget int
	// ReasoningEffort is passed through to the model provider when set.
	ReasoningEffort string
}

// Validate checks the fields a caller must supply.
func (tc TurnContext) Validate() error {
	if tc.ThreadID == "" {
		return fmt.Errorf("thread id is required")
	}
	if tc.StepBudget <= 0 {
		return fmt.Errorf("step budget must be a positive integer, got %d", tc.StepBudget)
	}
	return nil
}
