package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []any{"a", "b"},
	}
}

func newSumTool() *FunctionTool {
	return NewFunctionTool("calculate_sum", "Calculate the sum of two numbers", sumSchema(),
		func(ctx context.Context, tc *Context, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		})
}

func testCtx() *Context {
	return NewContext("u1", "t1", "call-1", nil)
}

func TestFunctionTool_Call(t *testing.T) {
	sum := newSumTool()

	result, err := sum.Call(context.Background(), testCtx(), map[string]any{"a": 2.0, "b": 3.0})
	require.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	sum := newSumTool()

	_, err := sum.Call(context.Background(), testCtx(), map[string]any{"a": 2.0})
	require.Error(t, err)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidationError, toolErr.Code)
	assert.Equal(t, "calculate_sum", toolErr.Tool)

	_, err = sum.Call(context.Background(), testCtx(), map[string]any{"a": "two", "b": 3.0})
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidationError, toolErr.Code)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	failing := NewFunctionTool("always_fails", "Always fails", map[string]any{"type": "object"},
		func(ctx context.Context, tc *Context, args map[string]any) (any, error) {
			return nil, errors.New("boom")
		})

	_, err := failing.Call(context.Background(), testCtx(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecutionError, toolErr.Code)
	assert.Equal(t, "boom", toolErr.Message)
}

func TestFunctionTool_PreservesToolError(t *testing.T) {
	custom := NewFunctionTool("upstream", "Calls upstream", map[string]any{"type": "object"},
		func(ctx context.Context, tc *Context, args map[string]any) (any, error) {
			return nil, NewToolError("upstream", "service unavailable", CodeUpstreamError)
		})

	_, err := custom.Call(context.Background(), testCtx(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeUpstreamError, toolErr.Code)
}

func TestFunctionToolFromStruct(t *testing.T) {
	type convertArgs struct {
		Temperature float64 `json:"temperature" jsonschema:"description=Temperature in fahrenheit"`
	}

	convert := NewFunctionToolFromStruct("convert", "Convert temperatures", convertArgs{},
		func(ctx context.Context, tc *Context, args map[string]any) (any, error) {
			return (args["temperature"].(float64) - 32) * 5 / 9, nil
		})

	schema := convert.InputSchema()
	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "temperature")

	result, err := convert.Call(context.Background(), testCtx(), map[string]any{"temperature": 212.0})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, result.(float64), 0.001)

	_, err = convert.Call(context.Background(), testCtx(), map[string]any{"temperature": "hot"})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidationError, toolErr.Code)
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newSumTool()))
	require.Error(t, reg.Register(newSumTool()))

	reg.MustRegister(NewFunctionTool("weather", "Get weather", map[string]any{"type": "object"},
		func(ctx context.Context, tc *Context, args map[string]any) (any, error) { return nil, nil }))

	assert.Equal(t, []string{"calculate_sum", "weather"}, reg.Names())

	_, ok := reg.Get("weather")
	assert.True(t, ok)
	_, ok = reg.Get("nope")
	assert.False(t, ok)
}

func TestRegistry_ResolveActive(t *testing.T) {
	var dropped []string
	reg := NewRegistry(func(o *RegistryOptions) {
		o.UnknownToolHook = func(name string) { dropped = append(dropped, name) }
	})
	reg.MustRegister(
		newSumTool(),
		NewFunctionTool("weather", "Get weather", map[string]any{"type": "object"},
			func(ctx context.Context, tc *Context, args map[string]any) (any, error) { return nil, nil }),
	)

	all := reg.ResolveActive(nil)
	require.Len(t, all, 2)
	assert.Equal(t, "calculate_sum", all[0].Name())

	// Unknown names are dropped, not fatal; duplicates collapse.
	subset := reg.ResolveActive([]string{"weather", "ghost", "weather"})
	require.Len(t, subset, 1)
	assert.Equal(t, "weather", subset[0].Name())
	assert.Equal(t, []string{"ghost"}, dropped)

	// Empty non-nil selection means no tools.
	assert.Empty(t, reg.ResolveActive([]string{}))
}

func TestDefinitions(t *testing.T) {
	defs := Definitions([]Tool{newSumTool()})
	require.Len(t, defs, 1)
	assert.Equal(t, "calculate_sum", defs[0].Name)
	assert.Equal(t, "Calculate the sum of two numbers", defs[0].Description)
	assert.Equal(t, "object", defs[0].InputSchema["type"])
}
