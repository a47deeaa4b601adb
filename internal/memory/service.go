// Package memory is the memory repository: local notes, their sync with the
// backend and the recall adapter used by the assistant.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/easeaico/eva-client/internal/store"
)

// DefaultImportantThreshold is the minimum importance used by Important when none is given.
const DefaultImportantThreshold = 3

// DefaultWorkers bounds concurrent uploads during sync.
const DefaultWorkers = 4

// ErrEmptyContent is returned when a memory has no text.
var ErrEmptyContent = errors.New("memory content is empty")

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Remote is the part of the REST client the memory sync needs.
type Remote interface {
	ListMemories(ctx context.Context) ([]store.Memory, error)
	CreateMemory(ctx context.Context, m store.Memory) (*store.Memory, error)
	DeleteMemory(ctx context.Context, id string) error
	CleanupMemories(ctx context.Context, days int) error
}

// Authenticator makes sure a valid token is held before calling the backend.
type Authenticator interface {
	EnsureAuthenticated(ctx context.Context) error
}

// Draft holds the user-editable fields of a memory.
type Draft struct {
	Title      string
	Content    string
	Importance int
	Category   string
	Tags       []string
}

// Config tunes the service.
type Config struct {
	UserID  string
	Workers int
}

// Service owns memories in the local store and keeps them in step with the backend.
type Service struct {
	store    store.Store
	remote   Remote
	auth     Authenticator
	embedder Embedder // optional; enables semantic search

	userID  string
	workers int
	logger  *zap.Logger
	now     func() int64
	newID   func() string
}

// NewService creates a memory service. remote, auth and embedder may be nil.
func NewService(st store.Store, remote Remote, auth Authenticator, embedder Embedder, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Service{
		store:    st,
		remote:   remote,
		auth:     auth,
		embedder: embedder,
		userID:   cfg.UserID,
		workers:  workers,
		logger:   logger,
		now:      store.NowMillis,
		newID:    uuid.NewString,
	}
}

// Create stores a new memory locally. It reaches the backend on the next sync.
func (s *Service) Create(ctx context.Context, d Draft) (*store.Memory, error) {
	m := store.Memory{
		ID:         s.newID(),
		Title:      strings.TrimSpace(d.Title),
		Content:    strings.TrimSpace(d.Content),
		UserID:     s.userID,
		Timestamp:  s.now(),
		Importance: store.ClampImportance(d.Importance),
		Category:   strings.TrimSpace(d.Category),
		Tags:       normalizeTags(d.Tags),
	}
	if m.Content == "" {
		return nil, ErrEmptyContent
	}
	m.Embedding = s.embed(ctx, m)

	if err := s.store.AddMemory(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to save memory: %w", err)
	}
	s.logger.Debug("memory saved locally", zap.String("id", m.ID))
	return &m, nil
}

// Update replaces the editable fields of an existing memory and marks it for sync.
func (s *Service) Update(ctx context.Context, id string, d Draft) (*store.Memory, error) {
	m, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(d.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	m.Title = strings.TrimSpace(d.Title)
	m.Content = content
	m.Importance = store.ClampImportance(d.Importance)
	m.Category = strings.TrimSpace(d.Category)
	m.Tags = normalizeTags(d.Tags)
	ts := s.now()
	if ts <= m.Timestamp {
		ts = m.Timestamp + 1
	}
	m.Timestamp = ts
	m.Synced = false
	m.Embedding = s.embed(ctx, *m)

	if err := s.store.AddMemory(ctx, *m); err != nil {
		return nil, fmt.Errorf("failed to update memory: %w", err)
	}
	return m, nil
}

// Get returns one memory or store.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*store.Memory, error) {
	return s.store.GetMemory(ctx, id)
}

// List returns every memory, newest first.
func (s *Service) List(ctx context.Context) ([]store.Memory, error) {
	return s.store.ListMemories(ctx)
}

// ByCategory returns memories in category, newest first.
func (s *Service) ByCategory(ctx context.Context, category string) ([]store.Memory, error) {
	return s.store.MemoriesByCategory(ctx, category)
}

// Important returns memories at or above minImportance; zero means DefaultImportantThreshold.
func (s *Service) Important(ctx context.Context, minImportance int) ([]store.Memory, error) {
	if minImportance <= 0 {
		minImportance = DefaultImportantThreshold
	}
	return s.store.MemoriesByImportance(ctx, minImportance)
}

// Search ranks memories by semantic similarity when an embedder is configured
// and falls back to substring matching otherwise.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]store.Memory, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	if s.embedder != nil {
		vector, err := s.embedder.Embed(ctx, query)
		if err != nil {
			s.logger.Warn("query embedding failed, using text search", zap.Error(err))
		} else {
			found, err := s.store.SearchMemories(ctx, query, vector, limit)
			if err != nil {
				return nil, fmt.Errorf("failed to search memories: %w", err)
			}
			if len(found) > 0 {
				return found, nil
			}
		}
	}

	found, err := s.store.SearchMemories(ctx, query, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	return found, nil
}

// Delete removes a memory locally and then on the backend. When the remote
// delete cannot be made now it is queued for the next sync.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteMemory(ctx, id); err != nil {
		return err
	}
	s.logger.Debug("memory deleted locally", zap.String("id", id))

	if err := s.deleteRemote(ctx, id); err != nil {
		s.logger.Warn("remote delete deferred", zap.String("id", id), zap.Error(err))
		if qerr := s.store.QueueDeletion(ctx, id); qerr != nil {
			return qerr
		}
	}
	return nil
}

func (s *Service) deleteRemote(ctx context.Context, id string) error {
	if s.remote == nil {
		return errors.New("no backend configured")
	}
	if err := s.ensureAuth(ctx); err != nil {
		return err
	}
	err := s.remote.DeleteMemory(ctx, id)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (s *Service) ensureAuth(ctx context.Context) error {
	if s.auth == nil {
		return nil
	}
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	return nil
}

func (s *Service) embed(ctx context.Context, m store.Memory) []float32 {
	if s.embedder == nil {
		return nil
	}
	text := m.Content
	if m.Title != "" {
		text = m.Title + "\n" + m.Content
	}
	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("failed to embed memory", zap.String("id", m.ID), zap.Error(err))
		return nil
	}
	return vector
}

func normalizeTags(tags []string) []string {
	var out []string
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
