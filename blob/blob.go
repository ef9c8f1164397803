// Package blob contains concrete implementations of upload blob storage.
//
// The Store interface is deliberately narrow: uploads write a named object
// and get back a URL the browser can fetch. Implementation packages
// (in-memory, S3) provide backends that can be swapped without touching
// calling code.
package blob

import (
	"context"
	"fmt"
	"io"
)

// ErrNotFound is returned when the named blob does not exist.
var ErrNotFound = fmt.Errorf("blob not found")

// Store persists uploaded files and returns a public URL for each.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put writes the object under name and returns its URL.
	Put(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}
