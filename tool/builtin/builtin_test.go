package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sandchat/sandchat/sandbox"
	"github.com/sandchat/sandchat/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callCtx() *tool.Context {
	return tool.NewContext("u1", "thread-1", "call-1", nil)
}

func TestWeatherTool(t *testing.T) {
	weather := NewWeatherTool()
	assert.Equal(t, "weather", weather.Name())

	first, err := weather.Call(context.Background(), callCtx(), map[string]any{"location": "Lima"})
	require.NoError(t, err)
	second, err := weather.Call(context.Background(), callCtx(), map[string]any{"location": "Lima"})
	require.NoError(t, err)

	// Same location always reports the same temperature.
	assert.Equal(t, first, second)

	result := first.(map[string]any)
	assert.Equal(t, "Lima", result["location"])
	temp := result["temperature"].(int)
	assert.GreaterOrEqual(t, temp, 62)
	assert.LessOrEqual(t, temp, 82)
}

func TestConvertFahrenheitToCelsius(t *testing.T) {
	convert := NewConvertFahrenheitToCelsiusTool()

	result, err := convert.Call(context.Background(), callCtx(), map[string]any{"temperature": 212.0})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, result.(map[string]any)["celsius"].(float64), 0.001)

	result, err = convert.Call(context.Background(), callCtx(), map[string]any{"temperature": 32.0})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, result.(map[string]any)["celsius"].(float64), 0.001)
}

func TestLocalShellTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/terminal", r.URL.Path)
		assert.Equal(t, "thread-1", r.URL.Query().Get("sessionId"))

		var req sandbox.ExecRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "echo hi >&2; echo out", req.Command)

		json.NewEncoder(w).Encode(sandbox.ExecResult{
			Success:  true,
			ExitCode: 0,
			Stdout:   "out\n",
			Stderr:   "hi\n",
		})
	}))
	defer srv.Close()

	shell := NewLocalShellTool(sandbox.NewClient(srv.URL))
	result, err := shell.Call(context.Background(), callCtx(), map[string]any{"command": "echo hi >&2; echo out"})
	require.NoError(t, err)

	out := result.(map[string]any)
	assert.Equal(t, "out\n\nhi\n", out["output"])
	assert.Equal(t, 0, out["exitCode"])
}

func TestLocalShellTool_NoSandbox(t *testing.T) {
	shell := NewLocalShellTool(nil)
	_, err := shell.Call(context.Background(), callCtx(), map[string]any{"command": "true"})
	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tool.CodeConfigError, toolErr.Code)
}

func TestReadFileTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/file/read", r.URL.Path)
		json.NewEncoder(w).Encode(sandbox.FileContent{
			Success:  true,
			Content:  "hello",
			Encoding: "utf-8",
			MimeType: "text/plain",
			Size:     5,
		})
	}))
	defer srv.Close()

	readFile := NewReadFileTool(sandbox.NewClient(srv.URL))
	result, err := readFile.Call(context.Background(), callCtx(), map[string]any{"path": "/mnt/data/hi.txt"})
	require.NoError(t, err)

	out := result.(map[string]any)
	assert.Equal(t, "hello", out["content"])
	assert.Equal(t, "text/plain", out["mimeType"])
}

func TestReadFileTool_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such file", http.StatusNotFound)
	}))
	defer srv.Close()

	readFile := NewReadFileTool(sandbox.NewClient(srv.URL))
	_, err := readFile.Call(context.Background(), callCtx(), map[string]any{"path": "/mnt/data/missing"})
	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tool.CodeExecutionError, toolErr.Code)
	assert.Contains(t, toolErr.Message, "/mnt/data/missing")
}
