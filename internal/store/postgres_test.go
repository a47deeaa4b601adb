package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPostgresTestStore connects to TEST_DATABASE_URL and skips otherwise.
func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	s, err := NewPostgresStore(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.InitSchema(ctx))
	require.NoError(t, s.ClearMessages(ctx))
	require.NoError(t, s.ClearMemories(ctx))
	return s
}

func TestPostgresStore_Messages(t *testing.T) {
	ctx := context.Background()
	s := newPostgresTestStore(t)

	require.NoError(t, s.AddMessage(ctx, ChatMessage{ID: "b", Text: "second", Timestamp: 2}))
	require.NoError(t, s.AddMessage(ctx, ChatMessage{ID: "a", Text: "first", Timestamp: 1}))

	messages, err := s.ListMessages(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "a", messages[0].ID)

	assert.ErrorIs(t, s.DeleteMessage(ctx, "zzz"), ErrNotFound)
}

func TestPostgresStore_MemoriesAndMerge(t *testing.T) {
	ctx := context.Background()
	s := newPostgresTestStore(t)

	require.NoError(t, s.AddMemory(ctx, Memory{ID: "m", Content: "local", Timestamp: 1, Tags: []string{"x"}, Embedding: []float32{1, 0, 0}}))

	wrote, err := s.MergeRemoteMemory(ctx, Memory{ID: "m", Content: "remote", Timestamp: 2})
	require.NoError(t, err)
	assert.False(t, wrote)

	marked, err := s.MarkMemorySynced(ctx, "m", 1)
	require.NoError(t, err)
	require.True(t, marked)
	wrote, err = s.MergeRemoteMemory(ctx, Memory{ID: "m", Content: "remote", Timestamp: 2})
	require.NoError(t, err)
	assert.True(t, wrote)

	got, err := s.GetMemory(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, "remote", got.Content)
	assert.Equal(t, []string{"x"}, got.Tags)
}

func TestPostgresStore_SearchByVector(t *testing.T) {
	ctx := context.Background()
	s := newPostgresTestStore(t)

	require.NoError(t, s.AddMemory(ctx, Memory{ID: "close", Content: "a", Timestamp: 1, Embedding: []float32{1, 0.1, 0}}))
	require.NoError(t, s.AddMemory(ctx, Memory{ID: "far", Content: "b", Timestamp: 2, Embedding: []float32{0, 0, 1}}))

	found, err := s.SearchMemories(ctx, "", []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"close"}, ids(found))
}
