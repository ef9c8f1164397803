package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// InMemoryStore is a naive process-local Recaller. Remember keeps each user
// message verbatim; Recall is a case-insensitive substring scan. Suitable for
// tests and single-node demos; swap for a hosted memory service in
// production.
//
// Concurrency: protected by RWMutex.
type InMemoryStore struct {
	mu       sync.RWMutex
	snippets map[string][]Snippet // userID -> stored snippets
}

// NewInMemoryStore creates a new in-memory recaller.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		snippets: make(map[string][]Snippet),
	}
}

// Recall returns snippets whose text contains the query. An empty query
// returns everything stored for the user.
func (m *InMemoryStore) Recall(ctx context.Context, userID, query string) ([]Snippet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, exists := m.snippets[userID]
	if !exists {
		return nil, nil
	}

	needle := strings.ToLower(query)
	results := make([]Snippet, 0, len(stored))
	for _, s := range stored {
		if needle == "" || strings.Contains(strings.ToLower(s.Memory), needle) {
			results = append(results, s)
		}
	}
	return results, nil
}

// Remember stores the user-authored message texts as snippets.
func (m *InMemoryStore) Remember(ctx context.Context, userID string, messages []TurnMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range messages {
		if msg.Role != "user" || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		id := fmt.Sprintf("mem_%d", len(m.snippets[userID]))
		m.snippets[userID] = append(m.snippets[userID], Snippet{ID: id, Memory: msg.Content})
	}
	return nil
}
