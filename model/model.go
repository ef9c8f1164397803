// Package model defines the provider-neutral language model interface the
// turn loop drives, plus a scripted mock implementation for tests.
package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/sandchat/sandchat/core"
)

// ToolDefinition declaratively exposes a callable tool to the model.
// InputSchema is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Request captures the normalized model input produced by the turn loop.
type Request struct {
	Instructions    string           `json:"instructions"`
	Messages        []core.Message   `json:"messages"`
	Tools           []ToolDefinition `json:"tools,omitempty"`
	ToolChoice      core.ToolChoice  `json:"toolChoice,omitempty"`
	ReasoningEffort string           `json:"reasoningEffort,omitempty"`
	Stream          bool             `json:"stream,omitempty"`
}

// Response is a (partial or final) chunk emitted by a model invocation.
// Partial responses carry delta parts (text or reasoning fragments); the final
// response carries the complete assistant parts for the step, the finish
// reason and, when available, usage for the invocation.
type Response struct {
	Partial      bool        `json:"partial"`
	Parts        []core.Part `json:"parts"`
	FinishReason string      `json:"finishReason,omitempty"`
	Usage        *core.Usage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required to drive generation. Generate
// returns a response channel and an error channel; both are closed when the
// invocation completes. A final (non-partial) response signals a successful
// step even when errors were reported for earlier chunks.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockStep scripts one model invocation of a MockModel.
type MockStep struct {
	Text      string
	Reasoning string
	ToolCalls []core.ToolCallPart
	Sources   []core.SourcePart
	Usage     core.Usage
	Err       error
}

// MockModel is a scripted in-memory Model for tests. Each Generate call
// consumes the next scripted step; requests are recorded for assertions.
type MockModel struct {
	mu       sync.Mutex
	steps    []MockStep
	calls    int
	Requests []Request
}

// NewMockModel constructs a MockModel from an ordered step script.
func NewMockModel(steps ...MockStep) *MockModel {
	return &MockModel{steps: steps}
}

// Calls returns how many times Generate has been invoked.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate implements Model; emits streaming fragments when requested then a
// final response assembled from the scripted step.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	idx := m.calls
	m.calls++
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)

		if idx >= len(m.steps) {
			errCh <- fmt.Errorf("mock model script exhausted after %d steps", len(m.steps))
			return
		}
		step := m.steps[idx]
		if step.Err != nil {
			errCh <- step.Err
			return
		}

		emit := func(r Response) bool {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			case respCh <- r:
				return true
			}
		}

		if req.Stream {
			if step.Reasoning != "" {
				if !emit(Response{Partial: true, Parts: []core.Part{core.ReasoningPart{Text: step.Reasoning}}}) {
					return
				}
			}
			for _, r := range step.Text {
				if !emit(Response{Partial: true, Parts: []core.Part{core.TextPart{Text: string(r)}}}) {
					return
				}
			}
		}

		parts := make([]core.Part, 0, len(step.ToolCalls)+2)
		if step.Reasoning != "" {
			parts = append(parts, core.ReasoningPart{Text: step.Reasoning})
		}
		if step.Text != "" {
			parts = append(parts, core.TextPart{Text: step.Text})
		}
		for _, sp := range step.Sources {
			parts = append(parts, sp)
		}
		for _, tc := range step.ToolCalls {
			parts = append(parts, tc)
		}

		finish := "stop"
		if len(step.ToolCalls) > 0 {
			finish = "tool_calls"
		}
		usage := step.Usage
		emit(Response{Partial: false, Parts: parts, FinishReason: finish, Usage: &usage})
	}()

	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info {
	return Info{Name: "mock", Provider: "mock", SupportsTools: true}
}
