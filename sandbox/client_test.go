package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Exec(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/terminal", r.URL.Path)
		assert.Equal(t, "thread-1", r.URL.Query().Get("sessionId"))

		var req ExecRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ls /mnt/data", req.Command)

		json.NewEncoder(w).Encode(ExecResult{
			Success:  true,
			ExitCode: 0,
			Stdout:   "out.png\n",
			Command:  req.Command,
			Duration: 12,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	result, err := c.Exec(context.Background(), "thread-1", ExecRequest{Command: "ls /mnt/data"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "out.png\n", result.Stdout)
	assert.Equal(t, 0, result.ExitCode)
}

func TestClient_ReadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/file/read", r.URL.Path)

		var req struct {
			SessionID string `json:"sessionId"`
			Path      string `json:"path"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "thread-1", req.SessionID)
		assert.Equal(t, "/mnt/data/out.png", req.Path)

		json.NewEncoder(w).Encode(FileContent{
			Success:  true,
			Content:  "aGVsbG8=",
			Encoding: "base64",
			IsBinary: true,
			MimeType: "image/png",
			Size:     5,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	content, err := c.ReadFile(context.Background(), "thread-1", "/mnt/data/out.png")
	require.NoError(t, err)

	b, err := content.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)
}

func TestFileContent_BytesUTF8(t *testing.T) {
	fc := FileContent{Content: "plain text", Encoding: "utf-8"}
	b, err := fc.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("plain text"), b)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(ExecResult{Success: true, Stdout: "ok"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, func(o *Options) { o.MaxRetries = 3 })
	result, err := c.Exec(context.Background(), "t", ExecRequest{Command: "true"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Stdout)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such session", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, func(o *Options) { o.MaxRetries = 3 })
	_, err := c.ReadFile(context.Background(), "t", "/mnt/data/missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load())
}
