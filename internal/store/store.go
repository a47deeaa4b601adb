package store

import (
	"context"
	"fmt"
	"strings"
)

// Store defines the contract for local persistence.
// It abstracts the storage layer for both chat messages and memories.
type Store interface {
	// ListMessages returns all chat messages, oldest first.
	ListMessages(ctx context.Context) ([]ChatMessage, error)
	GetMessage(ctx context.Context, id string) (*ChatMessage, error)
	// AddMessage inserts or replaces a message by id.
	AddMessage(ctx context.Context, msg ChatMessage) error
	DeleteMessage(ctx context.Context, id string) error
	ClearMessages(ctx context.Context) error
	UnsyncedMessages(ctx context.Context) ([]ChatMessage, error)
	MarkMessageSynced(ctx context.Context, id string) error

	// ListMemories returns all memories, newest first.
	ListMemories(ctx context.Context) ([]Memory, error)
	GetMemory(ctx context.Context, id string) (*Memory, error)
	// AddMemory inserts or replaces a memory by id and marks it unsynced.
	AddMemory(ctx context.Context, m Memory) error
	DeleteMemory(ctx context.Context, id string) error
	ClearMemories(ctx context.Context) error
	UnsyncedMemories(ctx context.Context) ([]Memory, error)
	// MarkMemorySynced flags a memory as synced if it still has the given
	// timestamp. It reports false when the row was edited or removed since.
	MarkMemorySynced(ctx context.Context, id string, timestamp int64) (bool, error)
	MemoriesByCategory(ctx context.Context, category string) ([]Memory, error)
	MemoriesByImportance(ctx context.Context, minImportance int) ([]Memory, error)

	// SearchMemories ranks memories by cosine similarity to vector when it is
	// non-empty, otherwise by substring match of query.
	SearchMemories(ctx context.Context, query string, vector []float32, limit int) ([]Memory, error)

	// MergeRemoteMemory stores a memory pulled from the backend as synced.
	// An existing row is only overwritten when it has no unsynced local changes.
	// It reports whether the row was written.
	MergeRemoteMemory(ctx context.Context, m Memory) (bool, error)

	// QueueDeletion records a memory id whose remote delete is still owed.
	QueueDeletion(ctx context.Context, id string) error
	PendingDeletions(ctx context.Context) ([]string, error)
	ClearDeletion(ctx context.Context, id string) error

	// Close releases any resources held by the store.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Open connects to the configured backend and makes sure its schema exists.
func Open(ctx context.Context, backend, dsn string) (Store, error) {
	switch backend {
	case BackendSQLite, "":
		s, err := NewSQLiteStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := s.InitSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case BackendPostgres:
		s, err := NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := s.InitSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %q", backend)
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern turns a search query into a LIKE pattern matching it literally
// anywhere in the value. Use with ESCAPE '\'.
func likePattern(query string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(query)) + "%"
}
