package memory

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	adkmemory "google.golang.org/adk/memory"
	"google.golang.org/adk/session"
	"google.golang.org/genai"
)

// ConversationCategory marks memories distilled from assistant sessions.
const ConversationCategory = "conversation"

const (
	recallLimit       = 10
	titleMaxRunes     = 50
	minResponseLength = 20
)

// SaveToolName is the tool whose use means the agent already stored what mattered.
const SaveToolName = "save_memory"

// Recall exposes the memory service to an ADK agent as its long-term memory.
type Recall struct {
	svc *Service
}

// NewRecall wraps svc as an ADK memory service.
func NewRecall(svc *Service) *Recall {
	return &Recall{svc: svc}
}

// AddSession implements adkmemory.Service. The last user question and the
// assistant's answer to it become one conversation memory.
func (r *Recall) AddSession(ctx context.Context, sess session.Session) error {
	var userQuery, agentResponse string
	explicitSave := false

	for event := range sess.Events().All() {
		if event == nil || event.Content == nil {
			continue
		}
		for _, part := range event.Content.Parts {
			if part.FunctionCall != nil && part.FunctionCall.Name == SaveToolName {
				explicitSave = true
			}
		}
		text := strings.Join(extractTextFromContent(event.Content), " ")
		if text == "" {
			continue
		}
		if event.Author == "user" {
			userQuery = text
			agentResponse = ""
		} else {
			agentResponse = text
		}
	}

	if explicitSave {
		return nil
	}
	if userQuery == "" || len(agentResponse) <= minResponseLength {
		return nil
	}

	_, err := r.svc.Create(ctx, Draft{
		Title:    truncateRunes(userQuery, titleMaxRunes),
		Content:  fmt.Sprintf("Q: %s\nA: %s", userQuery, agentResponse),
		Category: ConversationCategory,
	})
	if err != nil {
		return fmt.Errorf("failed to save session to memory: %w", err)
	}
	return nil
}

// Search implements adkmemory.Service.
func (r *Recall) Search(ctx context.Context, req *adkmemory.SearchRequest) (*adkmemory.SearchResponse, error) {
	found, err := r.svc.Search(ctx, req.Query, recallLimit)
	if err != nil {
		return nil, err
	}

	entries := make([]adkmemory.Entry, 0, len(found))
	for _, m := range found {
		contents := genai.Text(Format(m))
		if len(contents) == 0 {
			continue
		}
		entries = append(entries, adkmemory.Entry{
			Content:   contents[0],
			Author:    "memory",
			Timestamp: m.Time(),
		})
	}
	return &adkmemory.SearchResponse{Memories: entries}, nil
}

var _ adkmemory.Service = (*Recall)(nil)

func extractTextFromContent(c *genai.Content) []string {
	var texts []string
	for _, part := range c.Parts {
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return texts
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
