// Package tool implements the function / tool calling subsystem that lets the
// assistant invoke structured capabilities (shell commands, file reads, API
// lookups) with schema validated arguments, consistent error handling and rich
// metadata for LLM guidance.
package tool

import (
	"context"
	"fmt"

	"github.com/sandchat/sandchat/logging"
)

// Error codes used across tool implementations.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeExecutionError  = "EXECUTION_ERROR"
	CodeConfigError     = "CONFIG_ERROR"
	CodeUpstreamError   = "UPSTREAM_ERROR"
)

// Context carries per-call scope into a tool execution: the turn's user and
// thread, the model-assigned call id for correlation, and a logger.
type Context struct {
	userID   string
	threadID string
	callID   string
	logger   logging.Logger
}

// NewContext constructs a tool execution context.
func NewContext(userID, threadID, callID string, logger logging.Logger) *Context {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Context{
		userID:   userID,
		threadID: threadID,
		callID:   callID,
		logger:   logger,
	}
}

// UserID returns the authenticated user id, empty for anonymous turns.
func (c *Context) UserID() string { return c.userID }

// ThreadID returns the conversation thread id. It also keys the sandbox
// session used by shell and file tools.
func (c *Context) ThreadID() string { return c.threadID }

// CallID returns the model-assigned tool call identifier.
func (c *Context) CallID() string { return c.callID }

// Logger returns the logger scoped to this call.
func (c *Context) Logger() logging.Logger { return c.logger }

// Tool defines the interface for extending the assistant with external
// capabilities.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for their input
//   - Handle errors gracefully
//   - Be thread-safe if used concurrently
//   - Follow consistent naming conventions (snake_case recommended)
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the LLM to help it understand when and
	// how to use the tool.
	Description() string

	// InputSchema returns a JSON schema object describing the expected input.
	InputSchema() map[string]any

	// Call executes the tool with structured arguments. Arguments are parsed
	// from JSON and validated against the tool's schema before execution.
	Call(ctx context.Context, toolCtx *Context, args map[string]any) (any, error)
}

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
