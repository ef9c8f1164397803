// Package sandbox provides the HTTP client for the remote sandbox service
// that executes shell commands and reads files inside per-thread containers.
package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sandchat/sandchat/logging"
)

// ExecRequest describes one shell command execution inside a sandbox session.
type ExecRequest struct {
	Command          string            `json:"command"`
	WorkingDirectory string            `json:"workingDirectory,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	TimeoutMs        int               `json:"timeoutMs,omitempty"`
}

// ExecResult is the sandbox's report of a finished command.
type ExecResult struct {
	Success   bool   `json:"success"`
	ExitCode  int    `json:"exitCode"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	Command   string `json:"command"`
	Duration  int64  `json:"duration"`
	Timestamp string `json:"timestamp"`
}

// FileContent is a file read from a sandbox session. Binary files arrive
// base64 encoded.
type FileContent struct {
	Success  bool   `json:"success"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	IsBinary bool   `json:"isBinary"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// Bytes decodes the file content according to its encoding.
func (fc *FileContent) Bytes() ([]byte, error) {
	if fc.Encoding == "base64" {
		return base64.StdEncoding.DecodeString(fc.Content)
	}
	return []byte(fc.Content), nil
}

// StatusError is returned when the sandbox responds with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sandbox returned status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether the error is a sandbox 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Options configure the sandbox client.
type Options struct {
	HTTPClient *http.Client
	Logger     logging.Logger
	// MaxRetries bounds retry attempts for transient failures (network errors
	// and 5xx). 4xx responses are never retried.
	MaxRetries uint64
}

// Client talks to the sandbox service. Sessions are keyed by thread id; the
// service creates a session on first use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
	maxRetries uint64
}

// NewClient creates a sandbox client for the given base URL.
func NewClient(baseURL string, optFns ...func(o *Options)) *Client {
	opts := Options{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Logger:     logging.NoOpLogger{},
		MaxRetries: 2,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		maxRetries: opts.MaxRetries,
	}
}

// Exec runs a shell command inside the session keyed by sessionID.
func (c *Client) Exec(ctx context.Context, sessionID string, req ExecRequest) (*ExecResult, error) {
	endpoint := fmt.Sprintf("%s/terminal?sessionId=%s", c.baseURL, url.QueryEscape(sessionID))

	var result ExecResult
	if err := c.postJSON(ctx, endpoint, req, &result); err != nil {
		return nil, fmt.Errorf("sandbox exec: %w", err)
	}

	c.logger.Debug("sandbox.exec.done",
		"session_id", sessionID, "exit_code", result.ExitCode, "duration_ms", result.Duration)

	return &result, nil
}

// ReadFile reads a file from the session keyed by sessionID.
func (c *Client) ReadFile(ctx context.Context, sessionID, path string) (*FileContent, error) {
	body := struct {
		SessionID string `json:"sessionId"`
		Path      string `json:"path"`
	}{SessionID: sessionID, Path: path}

	var content FileContent
	if err := c.postJSON(ctx, c.baseURL+"/file/read", body, &content); err != nil {
		return nil, fmt.Errorf("sandbox read file: %w", err)
	}

	return &content, nil
}

// postJSON posts a JSON body and decodes the JSON response, retrying
// transient failures with exponential backoff.
func (c *Client) postJSON(ctx context.Context, endpoint string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(b))}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return err
	}
	return nil
}

func newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	return bo
}
