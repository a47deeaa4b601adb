package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easeaico/eva-client/internal/memory"
	"github.com/easeaico/eva-client/internal/store"
)

// MockMemories records calls and serves canned results.
type MockMemories struct {
	created    []memory.Draft
	createErr  error
	found      []store.Memory
	lastQuery  string
	lastLimit  int
	lastMinImp int
	lastCat    string
	listCalled bool
}

func (m *MockMemories) Create(_ context.Context, d memory.Draft) (*store.Memory, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, d)
	return &store.Memory{ID: "new", Title: d.Title, Content: d.Content, Importance: store.ClampImportance(d.Importance)}, nil
}

func (m *MockMemories) Search(_ context.Context, query string, limit int) ([]store.Memory, error) {
	m.lastQuery, m.lastLimit = query, limit
	return m.found, nil
}

func (m *MockMemories) List(context.Context) ([]store.Memory, error) {
	m.listCalled = true
	return m.found, nil
}

func (m *MockMemories) ByCategory(_ context.Context, category string) ([]store.Memory, error) {
	m.lastCat = category
	return m.found, nil
}

func (m *MockMemories) Important(_ context.Context, minImportance int) ([]store.Memory, error) {
	m.lastMinImp = minImportance
	return m.found, nil
}

func TestBuildTools(t *testing.T) {
	tools, err := BuildTools(&MockMemories{})
	require.NoError(t, err)

	var names []string
	for _, tl := range tools {
		names = append(names, tl.Name())
	}
	assert.Equal(t, []string{"save_memory", "search_memories", "list_memories"}, names)
}

func TestHandler_SaveMemory(t *testing.T) {
	ctx := context.Background()
	mock := &MockMemories{}
	h := NewHandler(mock)

	res := h.SaveMemory(ctx, SaveMemoryArgs{Title: "Locker", Text: "code 4411", Importance: 4, Tags: []string{"gym"}})
	require.True(t, res.Success, res.Error)
	require.Len(t, mock.created, 1)
	assert.Equal(t, "code 4411", mock.created[0].Content)
	assert.Equal(t, []string{"gym"}, mock.created[0].Tags)

	view, ok := res.Data.(MemoryView)
	require.True(t, ok)
	assert.Equal(t, "new", view.ID)
	assert.Equal(t, 4, view.Importance)

	res = h.SaveMemory(ctx, SaveMemoryArgs{Text: "  "})
	assert.False(t, res.Success)
	assert.Equal(t, "text is required", res.Error)

	mock.createErr = errors.New("disk full")
	res = h.SaveMemory(ctx, SaveMemoryArgs{Text: "x"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "disk full")
}

func TestHandler_SearchMemories(t *testing.T) {
	ctx := context.Background()
	mock := &MockMemories{}
	h := NewHandler(mock)

	res := h.SearchMemories(ctx, SearchMemoriesArgs{Query: "locker"})
	require.True(t, res.Success)
	assert.Equal(t, "No matching memories.", res.Data)
	assert.Equal(t, defaultSearchLimit, mock.lastLimit)

	mock.found = []store.Memory{{ID: "a", Content: "code 4411", Importance: 4, Timestamp: 1}}
	res = h.SearchMemories(ctx, SearchMemoriesArgs{Query: "locker", Limit: 2})
	require.True(t, res.Success)
	assert.Equal(t, 2, mock.lastLimit)
	views, ok := res.Data.([]MemoryView)
	require.True(t, ok)
	require.Len(t, views, 1)
	assert.Equal(t, "code 4411", views[0].Text)

	res = h.SearchMemories(ctx, SearchMemoriesArgs{})
	assert.False(t, res.Success)
}

func TestHandler_ListMemories(t *testing.T) {
	ctx := context.Background()
	mock := &MockMemories{}
	for range 30 {
		mock.found = append(mock.found, store.Memory{ID: "x", Content: "y"})
	}
	h := NewHandler(mock)

	res := h.ListMemories(ctx, ListMemoriesArgs{})
	require.True(t, res.Success)
	assert.True(t, mock.listCalled)
	assert.Len(t, res.Data.([]MemoryView), maxListed)

	h.ListMemories(ctx, ListMemoriesArgs{Category: "work"})
	assert.Equal(t, "work", mock.lastCat)

	h.ListMemories(ctx, ListMemoriesArgs{MinImportance: 4})
	assert.Equal(t, 4, mock.lastMinImp)
}

func TestHandler_HandleToolCall(t *testing.T) {
	ctx := context.Background()
	mock := &MockMemories{}
	h := NewHandler(mock)

	out, err := h.HandleToolCall(ctx, SaveMemoryTool, json.RawMessage(`{"text":"buy milk","importance":2}`))
	require.NoError(t, err)

	var res struct {
		Success bool       `json:"success"`
		Data    MemoryView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "buy milk", res.Data.Text)

	out, err = h.HandleToolCall(ctx, SearchMemoriesTool, json.RawMessage(`{"query":`))
	require.NoError(t, err)
	assert.Contains(t, out, "invalid arguments")

	out, err = h.HandleToolCall(ctx, "read_file_content", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"unknown tool: read_file_content"}`, out)
}
