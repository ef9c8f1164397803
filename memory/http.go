package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sandchat/sandchat/logging"
)

// HTTPClientOptions configure the hosted memory client.
type HTTPClientOptions struct {
	HTTPClient *http.Client
	Logger     logging.Logger
	MaxRetries uint64
}

// HTTPClient is a Recaller backed by a hosted memory service with a
// mem0-style REST API (POST /v1/memories/ to add, POST /v1/memories/search/
// to retrieve).
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logging.Logger
	maxRetries uint64
}

// NewHTTPClient creates a hosted memory client.
func NewHTTPClient(baseURL, apiKey string, optFns ...func(o *HTTPClientOptions)) *HTTPClient {
	opts := HTTPClientOptions{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Logger:     logging.NoOpLogger{},
		MaxRetries: 1,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		maxRetries: opts.MaxRetries,
	}
}

// Recall implements Recaller.
func (c *HTTPClient) Recall(ctx context.Context, userID, query string) ([]Snippet, error) {
	body := map[string]any{
		"query":   query,
		"user_id": userID,
	}

	var snippets []Snippet
	if err := c.postJSON(ctx, c.baseURL+"/v1/memories/search/", body, &snippets); err != nil {
		return nil, fmt.Errorf("memory recall: %w", err)
	}

	c.logger.Debug("memory.recall.done", "user_id", userID, "count", len(snippets))

	return snippets, nil
}

// Remember implements Recaller.
func (c *HTTPClient) Remember(ctx context.Context, userID string, messages []TurnMessage) error {
	body := map[string]any{
		"messages": messages,
		"user_id":  userID,
	}

	if err := c.postJSON(ctx, c.baseURL+"/v1/memories/", body, nil); err != nil {
		return fmt.Errorf("memory remember: %w", err)
	}
	return nil
}

func (c *HTTPClient) postJSON(ctx context.Context, endpoint string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Token "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			statusErr := fmt.Errorf("memory service returned status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	return backoff.Retry(operation, bo)
}
