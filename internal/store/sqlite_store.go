package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
// It is the default on-device cache for messages and memories.
// Vector similarity search is performed in application memory using cosine similarity.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore connected to the given database path.
// The path should be a file path (e.g., "./eva.db") or ":memory:" for an in-memory database.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and serialises writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// InitSchema creates the necessary tables if they don't exist.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS chat_messages (
			id        TEXT PRIMARY KEY,
			text      TEXT NOT NULL,
			user_id   TEXT NOT NULL DEFAULT '',
			is_user   INTEGER NOT NULL DEFAULT 0,
			timestamp INTEGER NOT NULL,
			pending   INTEGER NOT NULL DEFAULT 0,
			error     INTEGER NOT NULL DEFAULT 0,
			synced    INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON chat_messages(timestamp);

		CREATE TABLE IF NOT EXISTS memories (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL DEFAULT '',
			content    TEXT NOT NULL,
			user_id    TEXT NOT NULL DEFAULT '',
			timestamp  INTEGER NOT NULL,
			importance INTEGER NOT NULL DEFAULT 1,
			category   TEXT NOT NULL DEFAULT '',
			tags       TEXT,
			embedding  BLOB,
			synced     INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category);
		CREATE INDEX IF NOT EXISTS idx_memories_synced ON memories(synced);

		CREATE TABLE IF NOT EXISTS memory_deletions (
			id        TEXT PRIMARY KEY,
			queued_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const messageColumns = `id, text, user_id, is_user, timestamp, pending, error, synced`

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.Text, &m.UserID, &m.IsUser, &m.Timestamp, &m.Pending, &m.Error, &m.Synced); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

// ListMessages returns all chat messages ordered by timestamp, then insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context) ([]ChatMessage, error) {
	return s.queryMessages(ctx, `SELECT `+messageColumns+` FROM chat_messages ORDER BY timestamp ASC, rowid ASC`)
}

// GetMessage returns a single message or ErrNotFound.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*ChatMessage, error) {
	messages, err := s.queryMessages(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, ErrNotFound
	}
	return &messages[0], nil
}

// AddMessage upserts a message, keeping its original position on replace.
func (s *SQLiteStore) AddMessage(ctx context.Context, msg ChatMessage) error {
	query := `
		INSERT INTO chat_messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			user_id = excluded.user_id,
			is_user = excluded.is_user,
			timestamp = excluded.timestamp,
			pending = excluded.pending,
			error = excluded.error,
			synced = excluded.synced
	`
	_, err := s.db.ExecContext(ctx, query, msg.ID, msg.Text, msg.UserID, msg.IsUser, msg.Timestamp, msg.Pending, msg.Error, msg.Synced)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// DeleteMessage removes a message by id.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	return s.execOne(ctx, "delete message", `DELETE FROM chat_messages WHERE id = ?`, id)
}

// ClearMessages removes every chat message.
func (s *SQLiteStore) ClearMessages(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages`); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	return nil
}

// UnsyncedMessages returns messages not yet acknowledged by the backend.
func (s *SQLiteStore) UnsyncedMessages(ctx context.Context) ([]ChatMessage, error) {
	return s.queryMessages(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE synced = 0 ORDER BY timestamp ASC, rowid ASC`)
}

// MarkMessageSynced flags a message as synced.
func (s *SQLiteStore) MarkMessageSynced(ctx context.Context, id string) error {
	return s.execOne(ctx, "mark message synced", `UPDATE chat_messages SET synced = 1 WHERE id = ?`, id)
}

const memoryColumns = `id, title, content, user_id, timestamp, importance, category, tags, embedding, synced`

func (s *SQLiteStore) queryMemories(ctx context.Context, query string, args ...any) ([]Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var memories []Memory
	for rows.Next() {
		var m Memory
		var tags sql.NullString
		var embedding []byte
		if err := rows.Scan(&m.ID, &m.Title, &m.Content, &m.UserID, &m.Timestamp, &m.Importance, &m.Category, &tags, &embedding, &m.Synced); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		m.Tags, err = decodeTags(tags)
		if err != nil {
			return nil, err
		}
		m.Embedding = decodeVector(embedding)
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memories: %w", err)
	}
	return memories, nil
}

// ListMemories returns all memories, newest first.
func (s *SQLiteStore) ListMemories(ctx context.Context) ([]Memory, error) {
	return s.queryMemories(ctx, `SELECT `+memoryColumns+` FROM memories ORDER BY timestamp DESC`)
}

// GetMemory returns a single memory or ErrNotFound.
func (s *SQLiteStore) GetMemory(ctx context.Context, id string) (*Memory, error) {
	memories, err := s.queryMemories(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(memories) == 0 {
		return nil, ErrNotFound
	}
	return &memories[0], nil
}

// AddMemory upserts a memory and marks it as needing sync.
func (s *SQLiteStore) AddMemory(ctx context.Context, m Memory) error {
	tags, err := encodeTags(m.Tags)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO memories (` + memoryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			user_id = excluded.user_id,
			timestamp = excluded.timestamp,
			importance = excluded.importance,
			category = excluded.category,
			tags = excluded.tags,
			embedding = excluded.embedding,
			synced = 0
	`
	_, err = s.db.ExecContext(ctx, query, m.ID, m.Title, m.Content, m.UserID, m.Timestamp,
		ClampImportance(m.Importance), m.Category, tags, vectorArg(m.Embedding))
	if err != nil {
		return fmt.Errorf("failed to save memory: %w", err)
	}
	return nil
}

// DeleteMemory removes a memory by id.
func (s *SQLiteStore) DeleteMemory(ctx context.Context, id string) error {
	return s.execOne(ctx, "delete memory", `DELETE FROM memories WHERE id = ?`, id)
}

// ClearMemories removes every memory.
func (s *SQLiteStore) ClearMemories(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories`); err != nil {
		return fmt.Errorf("failed to clear memories: %w", err)
	}
	return nil
}

// UnsyncedMemories returns memories with local changes not yet pushed.
func (s *SQLiteStore) UnsyncedMemories(ctx context.Context) ([]Memory, error) {
	return s.queryMemories(ctx, `SELECT `+memoryColumns+` FROM memories WHERE synced = 0 ORDER BY timestamp ASC`)
}

// MarkMemorySynced flags a memory as synced unless it changed after timestamp was read.
func (s *SQLiteStore) MarkMemorySynced(ctx context.Context, id string, timestamp int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE memories SET synced = 1 WHERE id = ? AND timestamp = ?`, id, timestamp)
	if err != nil {
		return false, fmt.Errorf("failed to mark memory synced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark memory synced: %w", err)
	}
	return n > 0, nil
}

// MemoriesByCategory returns memories in category, newest first.
func (s *SQLiteStore) MemoriesByCategory(ctx context.Context, category string) ([]Memory, error) {
	return s.queryMemories(ctx, `SELECT `+memoryColumns+` FROM memories WHERE category = ? ORDER BY timestamp DESC`, category)
}

// MemoriesByImportance returns memories at or above minImportance, most important first.
func (s *SQLiteStore) MemoriesByImportance(ctx context.Context, minImportance int) ([]Memory, error) {
	return s.queryMemories(ctx, `SELECT `+memoryColumns+` FROM memories WHERE importance >= ? ORDER BY importance DESC, timestamp DESC`, minImportance)
}

// SearchMemories finds memories by embedding similarity or, without a vector, by substring.
// Similarity is computed in the application layer over every embedded row.
func (s *SQLiteStore) SearchMemories(ctx context.Context, query string, vector []float32, limit int) ([]Memory, error) {
	if len(vector) > 0 {
		all, err := s.queryMemories(ctx, `SELECT `+memoryColumns+` FROM memories WHERE embedding IS NOT NULL`)
		if err != nil {
			return nil, err
		}
		return rankBySimilarity(all, vector, limit), nil
	}

	if limit <= 0 {
		limit = -1
	}
	pattern := likePattern(strings.ToLower(query))
	return s.queryMemories(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE lower(title) LIKE ? ESCAPE '\' OR lower(content) LIKE ? ESCAPE '\' OR lower(category) LIKE ? ESCAPE '\'
		ORDER BY importance DESC, timestamp DESC
		LIMIT ?`, pattern, pattern, pattern, limit)
}

// MergeRemoteMemory stores a pulled memory unless the local copy has pending changes.
func (s *SQLiteStore) MergeRemoteMemory(ctx context.Context, m Memory) (bool, error) {
	tags, err := encodeTags(m.Tags)
	if err != nil {
		return false, err
	}
	query := `
		INSERT INTO memories (` + memoryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			user_id = excluded.user_id,
			timestamp = excluded.timestamp,
			importance = excluded.importance,
			category = excluded.category,
			tags = excluded.tags,
			embedding = COALESCE(excluded.embedding, memories.embedding),
			synced = 1
		WHERE memories.synced = 1
	`
	res, err := s.db.ExecContext(ctx, query, m.ID, m.Title, m.Content, m.UserID, m.Timestamp,
		ClampImportance(m.Importance), m.Category, tags, vectorArg(m.Embedding))
	if err != nil {
		return false, fmt.Errorf("failed to merge memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to merge memory: %w", err)
	}
	return n > 0, nil
}

// QueueDeletion records an owed remote delete; queuing twice is a no-op.
func (s *SQLiteStore) QueueDeletion(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO memory_deletions (id) VALUES (?)`, id); err != nil {
		return fmt.Errorf("failed to queue deletion: %w", err)
	}
	return nil
}

// PendingDeletions lists queued remote deletes in queue order.
func (s *SQLiteStore) PendingDeletions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM memory_deletions ORDER BY queued_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query deletions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan deletion: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deletions: %w", err)
	}
	return ids, nil
}

// ClearDeletion drops a queued delete.
func (s *SQLiteStore) ClearDeletion(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memory_deletions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear deletion: %w", err)
	}
	return nil
}

func (s *SQLiteStore) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeTags(tags []string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}
	return string(data), nil
}

func decodeTags(raw sql.NullString) ([]string, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw.String), &tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	return tags, nil
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// vectorArg binds an embedding as a BLOB, or NULL when there is none.
func vectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return encodeVector(v)
}
