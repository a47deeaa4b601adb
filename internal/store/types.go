// Package store provides the local persistent store for chat messages and
// memories, with an embedded SQLite backend and an optional PostgreSQL backend.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a row with the requested id does not exist.
var ErrNotFound = errors.New("not found")

// Importance bounds for memories.
const (
	MinImportance     = 1
	MaxImportance     = 5
	DefaultImportance = MinImportance
)

// ChatMessage is a text entity exchanged between the user and the assistant.
// Synced is local bookkeeping and is never sent to the backend.
type ChatMessage struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	UserID    string `json:"user_id,omitempty"`
	IsUser    bool   `json:"is_user"`
	Timestamp int64  `json:"timestamp"`
	Pending   bool   `json:"pending"`
	Error     bool   `json:"error"`
	Synced    bool   `json:"-"`
}

// Memory is a user note. Content travels as "text" on the wire.
type Memory struct {
	ID         string    `json:"id"`
	Title      string    `json:"title,omitempty"`
	Content    string    `json:"text"`
	UserID     string    `json:"user_id,omitempty"`
	Timestamp  int64     `json:"timestamp"`
	Importance int       `json:"importance"`
	Category   string    `json:"category,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Synced     bool      `json:"-"`
	Embedding  []float32 `json:"-"`
}

// Time returns the memory timestamp as a time.Time.
func (m Memory) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// ClampImportance maps v into [MinImportance, MaxImportance]; zero means default.
func ClampImportance(v int) int {
	if v == 0 {
		return DefaultImportance
	}
	if v < MinImportance {
		return MinImportance
	}
	if v > MaxImportance {
		return MaxImportance
	}
	return v
}

// NowMillis returns the current time in epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
