package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sandchat/sandchat/core"
	"github.com/sandchat/sandchat/logging"
	"github.com/sandchat/sandchat/tool"
)

// execResult is the outcome of one tool call within a step.
type execResult struct {
	call      core.ToolCallPart
	output    json.RawMessage
	errorText string
	// violation marks a schema validation failure. Violations terminate the
	// turn instead of producing a fabricated tool result.
	violation bool
}

// toolResultPart converts the outcome into the part appended to history.
func (r execResult) toolResultPart() core.ToolResultPart {
	return core.ToolResultPart{
		CallID:    r.call.CallID,
		ToolName:  r.call.ToolName,
		Output:    r.output,
		ErrorText: r.errorText,
	}
}

// ExecutorConfig configures the parallel tool executor.
type ExecutorConfig struct {
	MaxParallel int // 0 or <1 => no explicit limit
	Logger      logging.Logger
	// Hook is invoked after each execution, e.g. for metrics.
	Hook func(toolName string, err error)
}

// executor runs a batch of tool calls, possibly in parallel, and emits one
// tool-result event per successfully validated call. Results are collected in
// the original call order; result events are emitted in completion order.
type executor struct {
	cfg ExecutorConfig
}

func newExecutor(cfg ExecutorConfig) *executor {
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	return &executor{cfg: cfg}
}

// execute runs all calls and returns their outcomes in the original call
// order. emit is called once per non-violation result as executions complete;
// it returns false when the consumer is gone, which stops further emission
// but not collection. A failure in one call never cancels its siblings.
func (e *executor) execute(
	ctx context.Context,
	tc core.TurnContext,
	tools map[string]tool.Tool,
	calls []core.ToolCallPart,
	emit func(core.TurnEvent) bool,
) []execResult {
	n := len(calls)
	if n == 0 {
		return nil
	}

	maxPar := e.cfg.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	results := make([]execResult, n)
	var emitMu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxPar)

	batchStart := time.Now()
	for i := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, call core.ToolCallPart) {
			defer wg.Done()
			defer func() { <-sem }()

			result := e.executeOne(ctx, tc, tools, call)
			results[idx] = result

			if result.violation {
				return
			}
			emitMu.Lock()
			emit(core.ToolResultEvent{
				CallID:    call.CallID,
				ToolName:  call.ToolName,
				Output:    result.output,
				ErrorText: result.errorText,
			})
			emitMu.Unlock()
		}(i, calls[i])
	}
	wg.Wait()

	e.cfg.Logger.Debug("turn.tools.batch.complete",
		"thread_id", tc.ThreadID,
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return results
}

func (e *executor) executeOne(
	ctx context.Context,
	tc core.TurnContext,
	tools map[string]tool.Tool,
	call core.ToolCallPart,
) execResult {
	logger := e.cfg.Logger
	result := execResult{call: call}

	impl, ok := tools[call.ToolName]
	if !ok {
		result.errorText = fmt.Sprintf("tool %s not found", call.ToolName)
		if e.cfg.Hook != nil {
			e.cfg.Hook(call.ToolName, errors.New(result.errorText))
		}
		return result
	}

	args := map[string]any{}
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &args); err != nil {
			logger.Warn("turn.tool.malformed_input",
				"tool", call.ToolName, "call_id", call.CallID, "error", err.Error())
			result.errorText = fmt.Sprintf("malformed tool input: %v", err)
			result.violation = true
			return result
		}
	}

	toolCtx := tool.NewContext(tc.UserID, tc.ThreadID, call.CallID, logger)

	start := time.Now()
	var (
		output any
		err    error
	)
	func() { // panic safety
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("tool panicked: %v", r)
				logger.Error("turn.tool.panic",
					"tool", call.ToolName, "recover", r, "stack", string(debug.Stack()))
			}
		}()
		output, err = impl.Call(ctx, toolCtx, args)
	}()

	logger.Info("turn.tool.executed",
		"tool", call.ToolName,
		"call_id", call.CallID,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)
	if e.cfg.Hook != nil {
		e.cfg.Hook(call.ToolName, err)
	}

	if err != nil {
		var toolErr *tool.ToolError
		if errors.As(err, &toolErr) && toolErr.Code == tool.CodeValidationError {
			result.violation = true
			return result
		}
		result.errorText = err.Error()
		return result
	}

	encoded, err := json.Marshal(output)
	if err != nil {
		result.errorText = fmt.Sprintf("tool output not serializable: %v", err)
		return result
	}
	result.output = encoded
	return result
}
