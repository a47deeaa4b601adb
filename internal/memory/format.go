package memory

import (
	"fmt"
	"strings"

	"github.com/easeaico/eva-client/internal/store"
)

// Format renders a memory as plain text for the assistant.
func Format(m store.Memory) string {
	var b strings.Builder
	if m.Title != "" {
		b.WriteString(m.Title)
		b.WriteString("\n")
	}
	b.WriteString(m.Content)

	meta := []string{fmt.Sprintf("importance %d", m.Importance)}
	if m.Category != "" {
		meta = append(meta, "category "+m.Category)
	}
	if len(m.Tags) > 0 {
		meta = append(meta, "tags "+strings.Join(m.Tags, ", "))
	}
	meta = append(meta, m.Time().Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "\n(%s)", strings.Join(meta, "; "))
	return b.String()
}
