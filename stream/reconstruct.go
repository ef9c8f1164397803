package stream

import (
	"fmt"
	"strings"

	"github.com/sandchat/sandchat/core"
)

// Reconstructor replays frames into messages, the way a client rebuilds the
// assistant turn from the wire. It enforces the stream's ordering contract: a
// tool-result must follow its tool-call and nothing may follow finish.
type Reconstructor struct {
	messageID string
	text      strings.Builder
	reasoning strings.Builder
	calls     []core.ToolCallPart
	callSeen  map[string]bool
	results   []core.ToolResultPart
	sources   []core.SourcePart
	finished  bool
	reason    string
	usage     core.Usage
	errorText string
}

// NewReconstructor creates an empty reconstructor for one turn.
func NewReconstructor() *Reconstructor {
	return &Reconstructor{callSeen: map[string]bool{}}
}

// Apply folds the next frame into the turn state.
func (r *Reconstructor) Apply(frame Frame) error {
	if r.finished {
		return fmt.Errorf("frame %q after finish", frame.Type)
	}

	switch frame.Type {
	case FrameStart:
		r.messageID = frame.MessageID
	case FrameTextDelta:
		r.text.WriteString(frame.Delta)
	case FrameReasoningDelta:
		r.reasoning.WriteString(frame.Delta)
	case FrameToolCall:
		r.callSeen[frame.ToolCallID] = true
		r.calls = append(r.calls, core.ToolCallPart{
			CallID:   frame.ToolCallID,
			ToolName: frame.ToolName,
			Input:    frame.Input,
		})
	case FrameToolResult:
		if !r.callSeen[frame.ToolCallID] {
			return fmt.Errorf("tool-result for unknown call %q", frame.ToolCallID)
		}
		r.results = append(r.results, core.ToolResultPart{
			CallID:    frame.ToolCallID,
			ToolName:  frame.ToolName,
			Output:    frame.Output,
			ErrorText: frame.ErrorText,
		})
	case FrameSource:
		r.sources = append(r.sources, core.SourcePart{URL: frame.URL, Title: frame.Title})
	case FrameFinish:
		r.finished = true
		r.reason = frame.Reason
		r.errorText = frame.ErrorText
		if frame.Usage != nil {
			r.usage = *frame.Usage
		}
	default:
		return fmt.Errorf("unknown frame type %q", frame.Type)
	}
	return nil
}

// Finished reports whether the finish frame has arrived.
func (r *Reconstructor) Finished() bool { return r.finished }

// FinishReason returns the turn's termination reason, empty until finished.
func (r *Reconstructor) FinishReason() string { return r.reason }

// ErrorText returns the finish frame's error text, if any.
func (r *Reconstructor) ErrorText() string { return r.errorText }

// Usage returns the finalized usage totals.
func (r *Reconstructor) Usage() core.Usage { return r.usage }

// Messages assembles the reconstructed turn: one assistant message with
// reasoning, text, sources and tool calls in that order, followed by a tool
// message when results arrived.
func (r *Reconstructor) Messages() []core.Message {
	var parts []core.Part
	if r.reasoning.Len() > 0 {
		parts = append(parts, core.ReasoningPart{Text: r.reasoning.String()})
	}
	if r.text.Len() > 0 {
		parts = append(parts, core.TextPart{Text: r.text.String()})
	}
	for _, s := range r.sources {
		parts = append(parts, s)
	}
	for _, c := range r.calls {
		parts = append(parts, c)
	}

	assistant := core.Message{ID: r.messageID, Role: core.RoleAssistant, Parts: parts}
	if assistant.ID == "" {
		assistant.ID = core.NewID()
	}

	if len(r.results) == 0 {
		return []core.Message{assistant}
	}

	return []core.Message{assistant, core.NewToolMessage(r.results...)}
}
