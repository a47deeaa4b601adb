// Package tools defines the ADK tools that let the assistant read and write
// the user's memories.
package tools

import (
	"fmt"

	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"github.com/easeaico/eva-client/internal/memory"
)

// Tool names.
const (
	SaveMemoryTool     = memory.SaveToolName
	SearchMemoriesTool = "search_memories"
	ListMemoriesTool   = "list_memories"
)

// SaveMemoryArgs is the input for save_memory.
type SaveMemoryArgs struct {
	Title      string   `json:"title,omitempty" jsonschema:"Short headline for the note"`
	Text       string   `json:"text" jsonschema:"The content to remember"`
	Importance int      `json:"importance,omitempty" jsonschema:"1 (trivia) to 5 (critical)"`
	Category   string   `json:"category,omitempty" jsonschema:"Free-form grouping such as work or health"`
	Tags       []string `json:"tags,omitempty" jsonschema:"Keywords for later lookup"`
}

// SearchMemoriesArgs is the input for search_memories.
type SearchMemoriesArgs struct {
	Query string `json:"query" jsonschema:"What to look for"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum results, default 5"`
}

// ListMemoriesArgs is the input for list_memories.
type ListMemoriesArgs struct {
	Category      string `json:"category,omitempty" jsonschema:"Only notes in this category"`
	MinImportance int    `json:"min_importance,omitempty" jsonschema:"Only notes at or above this importance"`
}

// BuildTools creates all assistant tools over the memory service.
func BuildTools(memories Memories) ([]tool.Tool, error) {
	h := NewHandler(memories)

	saveTool, err := functiontool.New(functiontool.Config{
		Name:        SaveMemoryTool,
		Description: "Save something the user wants remembered as a memory note.",
	}, func(ctx tool.Context, args SaveMemoryArgs) (ToolResult, error) {
		return h.SaveMemory(ctx, args), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s tool: %w", SaveMemoryTool, err)
	}

	searchTool, err := functiontool.New(functiontool.Config{
		Name:        SearchMemoriesTool,
		Description: "Search the user's memory notes for anything related to a query.",
	}, func(ctx tool.Context, args SearchMemoriesArgs) (ToolResult, error) {
		return h.SearchMemories(ctx, args), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s tool: %w", SearchMemoriesTool, err)
	}

	listTool, err := functiontool.New(functiontool.Config{
		Name:        ListMemoriesTool,
		Description: "List the user's most recent memory notes, optionally by category or importance.",
	}, func(ctx tool.Context, args ListMemoriesArgs) (ToolResult, error) {
		return h.ListMemories(ctx, args), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s tool: %w", ListMemoriesTool, err)
	}

	return []tool.Tool{saveTool, searchTool, listTool}, nil
}
