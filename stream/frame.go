// Package stream frames turn events for transport to the browser and
// reconstructs messages from frames on the receiving side.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/sandchat/sandchat/core"
)

// Frame types on the wire.
const (
	FrameStart          = "start"
	FrameTextDelta      = "text-delta"
	FrameReasoningDelta = "reasoning-delta"
	FrameToolCall       = "tool-call"
	FrameToolResult     = "tool-result"
	FrameSource         = "source"
	FrameFinish         = "finish"
)

// Frame is one wire message of the event stream. Fields are populated
// according to Type; everything else stays empty.
type Frame struct {
	Type       string          `json:"type"`
	MessageID  string          `json:"messageId,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
	URL        string          `json:"url,omitempty"`
	Title      string          `json:"title,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Usage      *core.Usage     `json:"usage,omitempty"`
}

// FromEvent converts a turn event into its wire frame.
func FromEvent(ev core.TurnEvent) (Frame, error) {
	switch e := ev.(type) {
	case core.TextDeltaEvent:
		return Frame{Type: FrameTextDelta, Delta: e.Delta}, nil
	case core.ReasoningDeltaEvent:
		return Frame{Type: FrameReasoningDelta, Delta: e.Delta}, nil
	case core.ToolCallEvent:
		return Frame{Type: FrameToolCall, ToolCallID: e.CallID, ToolName: e.ToolName, Input: e.Input}, nil
	case core.ToolResultEvent:
		return Frame{
			Type:       FrameToolResult,
			ToolCallID: e.CallID,
			ToolName:   e.ToolName,
			Output:     e.Output,
			ErrorText:  e.ErrorText,
		}, nil
	case core.SourceEvent:
		return Frame{Type: FrameSource, URL: e.URL, Title: e.Title}, nil
	case core.FinishEvent:
		usage := e.Usage
		return Frame{
			Type:      FrameFinish,
			Reason:    string(e.Reason),
			Usage:     &usage,
			ErrorText: e.ErrorText,
		}, nil
	default:
		return Frame{}, fmt.Errorf("unknown event type %T", ev)
	}
}
