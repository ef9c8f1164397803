package blob

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Interface compliance
var _ Store = (*InMemoryStore)(nil)

func TestInMemoryStore_PutAndGet(t *testing.T) {
	store := NewInMemoryStore("https://blobs.example.com")

	url, err := store.Put(context.Background(), "abc-report.pdf", "application/pdf", strings.NewReader("pdf bytes"))
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.example.com/abc-report.pdf", url)

	data, contentType, err := store.Get("abc-report.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf bytes"), data)
	assert.Equal(t, "application/pdf", contentType)
}

func TestInMemoryStore_NotFound(t *testing.T) {
	store := NewInMemoryStore("https://blobs.example.com")
	_, _, err := store.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_EscapesName(t *testing.T) {
	store := NewInMemoryStore("https://blobs.example.com")
	url, err := store.Put(context.Background(), "my file.txt", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.example.com/my%20file.txt", url)
}
