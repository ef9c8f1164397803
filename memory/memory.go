// Package memory provides long-lived per-user memory used to personalize
// instructions. The Recaller interface is intentionally small; select an
// implementation (process-local store, hosted memory service) at wiring time.
package memory

import "context"

// Snippet is one remembered fact about a user.
type Snippet struct {
	ID     string `json:"id"`
	Memory string `json:"memory"`
}

// Recaller recalls and records user memories. Implementations must be safe
// for concurrent use. Failures degrade the turn (instructions compose without
// memories) rather than abort it.
type Recaller interface {
	// Recall returns snippets relevant to the query for the user.
	Recall(ctx context.Context, userID, query string) ([]Snippet, error)

	// Remember extracts and stores memories from recent conversation text.
	Remember(ctx context.Context, userID string, messages []TurnMessage) error
}

// TurnMessage is the minimal role/content pair submitted for memory
// extraction.
type TurnMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
