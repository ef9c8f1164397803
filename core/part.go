package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

// Supported conversation roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Part represents a polymorphic segment of a message. Concrete part types
// implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string
}

func (TextPart) isPart() {}

// ReasoningPart carries model reasoning text that is rendered separately from
// the answer itself.
type ReasoningPart struct {
	Text string
}

func (ReasoningPart) isPart() {}

// FilePart references a fetchable file attached to a message.
type FilePart struct {
	URL       string
	MediaType string
	Filename  string
}

func (FilePart) isPart() {}

// SourcePart is a citation for content the assistant consulted.
type SourcePart struct {
	URL   string
	Title string
}

func (SourcePart) isPart() {}

// ToolCallPart records the model requesting execution of a named tool.
// Input is the raw JSON argument payload as produced by the model.
type ToolCallPart struct {
	CallID   string
	ToolName string
	Input    json.RawMessage
}

func (ToolCallPart) isPart() {}

// ToolResultPart records the outcome of a previously issued tool call. Exactly
// one of Output or ErrorText is populated; the CallID matches the originating
// ToolCallPart within the same turn.
type ToolResultPart struct {
	CallID    string
	ToolName  string
	Output    json.RawMessage
	ErrorText string
}

func (ToolResultPart) isPart() {}

// Message is one entry of a conversation history: a role plus ordered parts.
type Message struct {
	ID    string
	Role  Role
	Parts []Part
}

// NewID generates a new unique identifier for messages and tool calls.
func NewID() string { return uuid.NewString() }

// NewUserMessage builds a single text part user message.
func NewUserMessage(text string) Message {
	return Message{ID: NewID(), Role: RoleUser, Parts: []Part{TextPart{Text: text}}}
}

// NewAssistantMessage builds an assistant message from arbitrary parts.
func NewAssistantMessage(parts ...Part) Message {
	return Message{ID: NewID(), Role: RoleAssistant, Parts: parts}
}

// NewToolMessage wraps tool results in a tool role message.
func NewToolMessage(results ...ToolResultPart) Message {
	parts := make([]Part, 0, len(results))
	for _, r := range results {
		parts = append(parts, r)
	}
	return Message{ID: NewID(), Role: RoleTool, Parts: parts}
}

// Text concatenates all text parts of the message preserving order.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// ToolCalls returns any tool call parts contained within the message
// preserving their original order.
func (m Message) ToolCalls() []ToolCallPart {
	var calls []ToolCallPart
	for _, p := range m.Parts {
		if tc, ok := p.(ToolCallPart); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// ToolResults returns any tool result parts contained within the message
// preserving their original order.
func (m Message) ToolResults() []ToolResultPart {
	var results []ToolResultPart
	for _, p := range m.Parts {
		if tr, ok := p.(ToolResultPart); ok {
			results = append(results, tr)
		}
	}
	return results
}

// partEnvelope is the JSON wire shape of a Part. The Type discriminator
// selects which remaining fields are meaningful.
type partEnvelope struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	URL        string          `json:"url,omitempty"`
	MediaType  string          `json:"mediaType,omitempty"`
	Filename   string          `json:"filename,omitempty"`
	Title      string          `json:"title,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
}

// Part type discriminators used on the wire.
const (
	partTypeText       = "text"
	partTypeReasoning  = "reasoning"
	partTypeFile       = "file"
	partTypeSource     = "source"
	partTypeToolCall   = "tool-call"
	partTypeToolResult = "tool-result"
)

func envelopeOf(p Part) (partEnvelope, error) {
	switch v := p.(type) {
	case TextPart:
		return partEnvelope{Type: partTypeText, Text: v.Text}, nil
	case ReasoningPart:
		return partEnvelope{Type: partTypeReasoning, Text: v.Text}, nil
	case FilePart:
		return partEnvelope{Type: partTypeFile, URL: v.URL, MediaType: v.MediaType, Filename: v.Filename}, nil
	case SourcePart:
		return partEnvelope{Type: partTypeSource, URL: v.URL, Title: v.Title}, nil
	case ToolCallPart:
		return partEnvelope{Type: partTypeToolCall, ToolCallID: v.CallID, ToolName: v.ToolName, Input: v.Input}, nil
	case ToolResultPart:
		return partEnvelope{Type: partTypeToolResult, ToolCallID: v.CallID, ToolName: v.ToolName, Output: v.Output, ErrorText: v.ErrorText}, nil
	default:
		return partEnvelope{}, fmt.Errorf("unknown part type %T", p)
	}
}

func (e partEnvelope) part() (Part, error) {
	switch e.Type {
	case partTypeText:
		return TextPart{Text: e.Text}, nil
	case partTypeReasoning:
		return ReasoningPart{Text: e.Text}, nil
	case partTypeFile:
		return FilePart{URL: e.URL, MediaType: e.MediaType, Filename: e.Filename}, nil
	case partTypeSource:
		return SourcePart{URL: e.URL, Title: e.Title}, nil
	case partTypeToolCall:
		return ToolCallPart{CallID: e.ToolCallID, ToolName: e.ToolName, Input: e.Input}, nil
	case partTypeToolResult:
		return ToolResultPart{CallID: e.ToolCallID, ToolName: e.ToolName, Output: e.Output, ErrorText: e.ErrorText}, nil
	default:
		return nil, fmt.Errorf("unknown part type %q", e.Type)
	}
}

type messageJSON struct {
	ID    string         `json:"id"`
	Role  Role           `json:"role"`
	Parts []partEnvelope `json:"parts"`
}

// MarshalJSON encodes the message using the tagged part envelope shape.
func (m Message) MarshalJSON() ([]byte, error) {
	mj := messageJSON{ID: m.ID, Role: m.Role, Parts: make([]partEnvelope, 0, len(m.Parts))}
	for _, p := range m.Parts {
		env, err := envelopeOf(p)
		if err != nil {
			return nil, err
		}
		mj.Parts = append(mj.Parts, env)
	}
	return json.Marshal(mj)
}

// UnmarshalJSON decodes the tagged part envelope shape.
func (m *Message) UnmarshalJSON(data []byte) error {
	var mj messageJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return err
	}
	parts := make([]Part, 0, len(mj.Parts))
	for _, env := range mj.Parts {
		p, err := env.part()
		if err != nil {
			return err
		}
		parts = append(parts, p)
	}
	m.ID = mj.ID
	m.Role = mj.Role
	m.Parts = parts
	return nil
}
