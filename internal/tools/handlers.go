package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/easeaico/eva-client/internal/memory"
	"github.com/easeaico/eva-client/internal/store"
)

const (
	defaultSearchLimit = 5
	maxListed          = 20
)

// Memories is the part of the memory service the tools use.
type Memories interface {
	Create(ctx context.Context, d memory.Draft) (*store.Memory, error)
	Search(ctx context.Context, query string, limit int) ([]store.Memory, error)
	List(ctx context.Context) ([]store.Memory, error)
	ByCategory(ctx context.Context, category string) ([]store.Memory, error)
	Important(ctx context.Context, minImportance int) ([]store.Memory, error)
}

// Handler implements the tool behaviour independently of the agent runtime.
type Handler struct {
	memories Memories
}

// NewHandler creates a tool handler over the memory service.
func NewHandler(memories Memories) *Handler {
	return &Handler{memories: memories}
}

// ToolResult is the uniform tool response.
type ToolResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MemoryView is the shape of a memory handed to the model.
type MemoryView struct {
	ID         string   `json:"id"`
	Title      string   `json:"title,omitempty"`
	Text       string   `json:"text"`
	Importance int      `json:"importance"`
	Category   string   `json:"category,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Date       string   `json:"date"`
}

func viewOf(m store.Memory) MemoryView {
	return MemoryView{
		ID:         m.ID,
		Title:      m.Title,
		Text:       m.Content,
		Importance: m.Importance,
		Category:   m.Category,
		Tags:       m.Tags,
		Date:       m.Time().Format("2006-01-02 15:04"),
	}
}

func views(memories []store.Memory, limit int) []MemoryView {
	if limit > 0 && len(memories) > limit {
		memories = memories[:limit]
	}
	out := make([]MemoryView, len(memories))
	for i, m := range memories {
		out[i] = viewOf(m)
	}
	return out
}

// SaveMemory stores a note on the user's behalf.
func (h *Handler) SaveMemory(ctx context.Context, args SaveMemoryArgs) ToolResult {
	if strings.TrimSpace(args.Text) == "" {
		return ToolResult{Success: false, Error: "text is required"}
	}
	m, err := h.memories.Create(ctx, memory.Draft{
		Title:      args.Title,
		Content:    args.Text,
		Importance: args.Importance,
		Category:   args.Category,
		Tags:       args.Tags,
	})
	if err != nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("failed to save memory: %v", err)}
	}
	return ToolResult{Success: true, Data: viewOf(*m)}
}

// SearchMemories looks up notes relevant to a query.
func (h *Handler) SearchMemories(ctx context.Context, args SearchMemoriesArgs) ToolResult {
	if strings.TrimSpace(args.Query) == "" {
		return ToolResult{Success: false, Error: "query is required"}
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	found, err := h.memories.Search(ctx, args.Query, limit)
	if err != nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("failed to search memories: %v", err)}
	}
	if len(found) == 0 {
		return ToolResult{Success: true, Data: "No matching memories."}
	}
	return ToolResult{Success: true, Data: views(found, limit)}
}

// ListMemories lists notes, optionally filtered by category or minimum importance.
func (h *Handler) ListMemories(ctx context.Context, args ListMemoriesArgs) ToolResult {
	var (
		found []store.Memory
		err   error
	)
	switch {
	case args.Category != "":
		found, err = h.memories.ByCategory(ctx, args.Category)
	case args.MinImportance > 0:
		found, err = h.memories.Important(ctx, args.MinImportance)
	default:
		found, err = h.memories.List(ctx)
	}
	if err != nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("failed to list memories: %v", err)}
	}
	return ToolResult{Success: true, Data: views(found, maxListed)}
}

// HandleToolCall dispatches a call by tool name with raw JSON arguments and
// returns the JSON-encoded result.
func (h *Handler) HandleToolCall(ctx context.Context, name string, rawArgs json.RawMessage) (string, error) {
	var result ToolResult

	switch name {
	case SaveMemoryTool:
		var args SaveMemoryArgs
		result = decodeAnd(rawArgs, &args, func() ToolResult { return h.SaveMemory(ctx, args) })
	case SearchMemoriesTool:
		var args SearchMemoriesArgs
		result = decodeAnd(rawArgs, &args, func() ToolResult { return h.SearchMemories(ctx, args) })
	case ListMemoriesTool:
		var args ListMemoriesArgs
		result = decodeAnd(rawArgs, &args, func() ToolResult { return h.ListMemories(ctx, args) })
	default:
		result = ToolResult{Success: false, Error: fmt.Sprintf("unknown tool: %s", name)}
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(out), nil
}

func decodeAnd(raw json.RawMessage, into any, run func() ToolResult) ToolResult {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, into); err != nil {
			return ToolResult{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}
		}
	}
	return run()
}
