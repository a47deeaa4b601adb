package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/easeaico/eva-client/internal/api"
	"github.com/easeaico/eva-client/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockRemote is an in-memory stand-in for the backend.
type mockRemote struct {
	mu        sync.Mutex
	memories  map[string]store.Memory
	failIDs   map[string]bool
	deleteErr error
	listErr   error
	cleanedUp int
	deleted   []string
	// onCreate runs after an upload is accepted, outside the lock.
	onCreate func(store.Memory)
}

func newMockRemote() *mockRemote {
	return &mockRemote{memories: map[string]store.Memory{}, failIDs: map[string]bool{}}
}

func (m *mockRemote) ListMemories(context.Context) ([]store.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]store.Memory, 0, len(m.memories))
	for _, mem := range m.memories {
		out = append(out, mem)
	}
	return out, nil
}

func (m *mockRemote) CreateMemory(_ context.Context, mem store.Memory) (*store.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIDs[mem.ID] {
		return nil, &api.APIError{StatusCode: 500, Status: "Internal Server Error"}
	}
	mem.Synced = false
	mem.Embedding = nil
	m.memories[mem.ID] = mem
	hook := m.onCreate
	m.mu.Unlock()
	if hook != nil {
		hook(mem)
	}
	m.mu.Lock()
	return &mem, nil
}

func (m *mockRemote) DeleteMemory(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.memories[id]; !ok {
		return &api.APIError{StatusCode: 404, Status: "Not Found"}
	}
	delete(m.memories, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockRemote) CleanupMemories(_ context.Context, days int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanedUp = days
	return nil
}

type mockAuth struct{ err error }

func (m mockAuth) EnsureAuthenticated(context.Context) error { return m.err }

// mockEmbedder maps known words onto fixed axes so similarity is predictable.
type mockEmbedder struct {
	err   error
	calls int
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	v := make([]float32, 3)
	for i, word := range []string{"cat", "dog", "tax"} {
		if strings.Contains(strings.ToLower(text), word) {
			v[i] = 1
		}
	}
	return v, nil
}

func newTestService(t *testing.T, remote Remote, embedder Embedder) (*Service, store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), store.BackendSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := NewService(st, remote, mockAuth{}, embedder, Config{UserID: "u1", Workers: 2}, nil)
	var clock int64 = 1_000_000
	var mu sync.Mutex
	svc.now = func() int64 {
		mu.Lock()
		defer mu.Unlock()
		clock += 1000
		return clock
	}
	var seq int
	svc.newID = func() string { seq++; return fmt.Sprintf("mem-%d", seq) }
	return svc, st
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, nil, nil)

	m, err := svc.Create(ctx, Draft{
		Title:      "  Passport ",
		Content:    "Renew before March",
		Importance: 7,
		Category:   "admin",
		Tags:       []string{"travel", " travel", "", "docs"},
	})
	require.NoError(t, err)
	assert.Equal(t, "mem-1", m.ID)
	assert.Equal(t, "Passport", m.Title)
	assert.Equal(t, "u1", m.UserID)
	assert.Equal(t, store.MaxImportance, m.Importance)
	assert.Equal(t, []string{"travel", "docs"}, m.Tags)

	unsynced, err := st.UnsyncedMemories(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, 1, "created memories wait for sync")

	_, err = svc.Create(ctx, Draft{Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestService_CreateEmbeds(t *testing.T) {
	ctx := context.Background()
	emb := &mockEmbedder{}
	svc, _ := newTestService(t, nil, emb)

	m, err := svc.Create(ctx, Draft{Content: "feed the cat"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, m.Embedding)

	emb.err = errors.New("quota")
	m, err = svc.Create(ctx, Draft{Content: "walk the dog"})
	require.NoError(t, err, "embedding failures do not block saving")
	assert.Nil(t, m.Embedding)
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, nil, nil)

	m, err := svc.Create(ctx, Draft{Content: "v1", Importance: 2})
	require.NoError(t, err)
	_, err = st.MarkMemorySynced(ctx, m.ID, m.Timestamp)
	require.NoError(t, err)

	updated, err := svc.Update(ctx, m.ID, Draft{Content: "v2", Importance: 4, Category: "x"})
	require.NoError(t, err)
	assert.Equal(t, "v2", updated.Content)
	assert.Greater(t, updated.Timestamp, m.Timestamp)

	got, err := svc.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Importance)
	assert.False(t, got.Synced)

	_, err = svc.Update(ctx, "missing", Draft{Content: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.Update(ctx, m.ID, Draft{})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestService_Queries(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil, nil)

	for _, d := range []Draft{
		{Content: "low", Importance: 1, Category: "a"},
		{Content: "mid", Importance: 3, Category: "b"},
		{Content: "high", Importance: 5, Category: "a"},
	} {
		_, err := svc.Create(ctx, d)
		require.NoError(t, err)
	}

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "mid", "low"}, contents(all))

	inA, err := svc.ByCategory(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "low"}, contents(inA))

	important, err := svc.Important(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "mid"}, contents(important))

	top, err := svc.Important(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"high"}, contents(top))
}

func TestService_Search(t *testing.T) {
	ctx := context.Background()

	t.Run("substring without embedder", func(t *testing.T) {
		svc, _ := newTestService(t, nil, nil)
		_, err := svc.Create(ctx, Draft{Title: "Vet", Content: "cat vaccination"})
		require.NoError(t, err)
		_, err = svc.Create(ctx, Draft{Content: "file taxes"})
		require.NoError(t, err)

		found, err := svc.Search(ctx, "VET", 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"cat vaccination"}, contents(found))

		none, err := svc.Search(ctx, "  ", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("semantic with embedder", func(t *testing.T) {
		svc, _ := newTestService(t, nil, &mockEmbedder{})
		_, err := svc.Create(ctx, Draft{Content: "cat vaccination"})
		require.NoError(t, err)
		_, err = svc.Create(ctx, Draft{Content: "file taxes"})
		require.NoError(t, err)

		found, err := svc.Search(ctx, "my cat", 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"cat vaccination"}, contents(found))
	})

	t.Run("falls back when embedding fails", func(t *testing.T) {
		emb := &mockEmbedder{}
		svc, _ := newTestService(t, nil, emb)
		_, err := svc.Create(ctx, Draft{Content: "file taxes"})
		require.NoError(t, err)

		emb.err = errors.New("offline")
		found, err := svc.Search(ctx, "taxes", 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"file taxes"}, contents(found))
	})
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	remote := newMockRemote()
	svc, st := newTestService(t, remote, nil)

	m, err := svc.Create(ctx, Draft{Content: "to go"})
	require.NoError(t, err)
	remote.memories[m.ID] = *m

	require.NoError(t, svc.Delete(ctx, m.ID))
	assert.Equal(t, []string{m.ID}, remote.deleted)

	pending, err := st.PendingDeletions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ErrorIs(t, svc.Delete(ctx, m.ID), store.ErrNotFound)
}

func TestService_DeleteNeverSynced(t *testing.T) {
	ctx := context.Background()
	remote := newMockRemote()
	svc, st := newTestService(t, remote, nil)

	m, err := svc.Create(ctx, Draft{Content: "local only"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, m.ID))
	pending, err := st.PendingDeletions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "a 404 from the backend means nothing is owed")
}

func TestService_DeleteQueuesOnFailure(t *testing.T) {
	ctx := context.Background()
	remote := newMockRemote()
	remote.deleteErr = errors.New("network down")
	svc, st := newTestService(t, remote, nil)

	m, err := svc.Create(ctx, Draft{Content: "x"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, m.ID))
	_, err = st.GetMemory(ctx, m.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	pending, err := st.PendingDeletions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{m.ID}, pending)
}

func TestService_DeleteOffline(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, nil, nil)

	m, err := svc.Create(ctx, Draft{Content: "x"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, m.ID))

	pending, err := st.PendingDeletions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{m.ID}, pending)
}

func contents(memories []store.Memory) []string {
	out := make([]string, len(memories))
	for i, m := range memories {
		out[i] = m.Content
	}
	return out
}
