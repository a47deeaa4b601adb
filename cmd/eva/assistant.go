package main

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/cmd/launcher"
	"google.golang.org/adk/cmd/launcher/full"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"

	"github.com/easeaico/eva-client/internal/memory"
	"github.com/easeaico/eva-client/internal/tools"
)

// pinnedImportance is the importance at which memories are placed in the
// system prompt.
const pinnedImportance = 4

var assistantCmd = &cobra.Command{
	Use:   "assistant [launcher args]",
	Short: "Run a local Gemini assistant with access to your memories",
	Long: `Runs an assistant on Gemini that can save, search and list your memories.

Arguments after "--" go to the agent launcher, e.g. "eva assistant -- web".`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Embedding.APIKey == "" {
			return fmt.Errorf("GOOGLE_API_KEY is required for the assistant")
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			llmAgent, err := initializeAgent(ctx, a)
			if err != nil {
				return fmt.Errorf("failed to initialize agent: %w", err)
			}

			config := &launcher.Config{
				AgentLoader:   agent.NewSingleLoader(llmAgent),
				MemoryService: memory.NewRecall(a.memories),
			}
			l := full.NewLauncher()
			if err := l.Execute(ctx, config, args); err != nil {
				return fmt.Errorf("failed to run agent: %w\n\n%s", err, l.CommandLineSyntax())
			}
			return nil
		})
	},
}

// initializeAgent creates the agent with the memory tools and the user's
// most important memories in its instruction.
func initializeAgent(ctx context.Context, a *app) (agent.Agent, error) {
	pinned, err := a.memories.Important(ctx, pinnedImportance)
	if err != nil {
		logger.Warn("failed to load important memories", zap.Error(err))
	}
	notes := make([]string, 0, len(pinned))
	for _, m := range pinned {
		notes = append(notes, memory.Format(m))
	}

	agentTools, err := tools.BuildTools(a.memories)
	if err != nil {
		return nil, fmt.Errorf("failed to build tools: %w", err)
	}

	llmModel, err := gemini.NewModel(ctx, cfg.Assistant.Model, &genai.ClientConfig{
		APIKey:  cfg.Embedding.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM model: %w", err)
	}

	llmAgent, err := llmagent.New(llmagent.Config{
		Name:        "eva",
		Description: "A personal assistant that remembers what the user tells it",
		Model:       llmModel,
		Instruction: buildSystemPrompt(notes),
		Tools:       agentTools,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	logger.Info("assistant initialized", zap.Int("pinned_memories", len(notes)))
	return llmAgent, nil
}

var systemPromptTmpl = template.Must(template.New("systemPrompt").Parse(`
You are EVA, a personal assistant with a long-term memory.

You can:
1. Save things the user wants remembered with save_memory
2. Look up earlier notes with search_memories
3. Browse notes by category or importance with list_memories

{{- if .Notes }}

Things the user marked as important:
{{- range .Notes }}
- {{ . }}
{{- end }}
{{- end }}

When answering:
- Search memories before saying you don't know something personal
- Save new facts, preferences and plans the user shares
- Keep answers short and concrete
`))

// buildSystemPrompt renders the instruction with pinned notes.
func buildSystemPrompt(notes []string) string {
	var buf bytes.Buffer
	_ = systemPromptTmpl.Execute(&buf, struct{ Notes []string }{Notes: notes})
	return buf.String()
}
