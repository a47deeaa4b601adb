// Package chat sends messages to the assistant and keeps the local transcript.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/easeaico/eva-client/internal/api"
	"github.com/easeaico/eva-client/internal/store"
)

// BotUserID is the author recorded on replies from the simple endpoint.
const BotUserID = "EVA-BOT"

const (
	pendingText     = "..."
	emptyReplyText  = "Sorry, I couldn't process that request."
	errorTextPrefix = "Sorry, there was an error: "
)

// ErrEmptyReply is returned when the backend answers without any text.
var ErrEmptyReply = errors.New("response was empty")

// Backend is the part of the REST client the chat needs.
type Backend interface {
	SendMessage(ctx context.Context, msg store.ChatMessage) (*store.ChatMessage, error)
	SendSimpleMessage(ctx context.Context, req api.SimpleMessageRequest) (*api.SimpleMessageResponse, error)
}

// Authenticator makes sure a valid token is held before calling the backend.
type Authenticator interface {
	EnsureAuthenticated(ctx context.Context) error
}

// Service is the chat repository.
type Service struct {
	store   store.Store
	backend Backend
	auth    Authenticator
	userID  string
	simple  bool
	logger  *zap.Logger
	now     func() int64
	newID   func() string
}

// Config selects the endpoint and identifies the sender.
type Config struct {
	UserID string
	// UseSimpleEndpoint routes messages through simple-message instead of message.
	UseSimpleEndpoint bool
}

// NewService creates a chat service. auth may be nil when the backend needs no token.
func NewService(st store.Store, backend Backend, auth Authenticator, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   st,
		backend: backend,
		auth:    auth,
		userID:  cfg.UserID,
		simple:  cfg.UseSimpleEndpoint,
		logger:  logger,
		now:     store.NowMillis,
		newID:   uuid.NewString,
	}
}

// Send records the user's message, asks the assistant and records its reply.
// A pending placeholder sits in the transcript while the call is in flight and
// is replaced by either the reply or an error message.
func (s *Service) Send(ctx context.Context, text string) (*store.ChatMessage, error) {
	userMsg := store.ChatMessage{
		ID:        s.newID(),
		Text:      text,
		UserID:    s.userID,
		IsUser:    true,
		Timestamp: s.now(),
	}
	if err := s.store.AddMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	pending := store.ChatMessage{
		ID:        s.newID(),
		Text:      pendingText,
		Timestamp: s.now(),
		Pending:   true,
	}
	if err := s.store.AddMessage(ctx, pending); err != nil {
		return nil, fmt.Errorf("failed to store pending message: %w", err)
	}

	reply, err := s.call(ctx, userMsg)

	// The transcript must be settled even if the caller gave up on the call.
	ctx = context.WithoutCancel(ctx)
	if delErr := s.store.DeleteMessage(ctx, pending.ID); delErr != nil && !errors.Is(delErr, store.ErrNotFound) {
		s.logger.Warn("failed to remove pending message", zap.String("id", pending.ID), zap.Error(delErr))
	}

	if err != nil {
		s.logger.Error("failed to send message", zap.String("id", userMsg.ID), zap.Error(err))
		text := errorTextPrefix + err.Error()
		if errors.Is(err, ErrEmptyReply) {
			text = emptyReplyText
		}
		s.recordError(ctx, text)
		return nil, err
	}

	reply.Synced = true
	if err := s.store.AddMessage(ctx, *reply); err != nil {
		return nil, fmt.Errorf("failed to store reply: %w", err)
	}
	if err := s.store.MarkMessageSynced(ctx, userMsg.ID); err != nil {
		s.logger.Warn("failed to mark message synced", zap.String("id", userMsg.ID), zap.Error(err))
	}

	s.logger.Debug("message exchanged", zap.String("id", userMsg.ID), zap.String("reply_id", reply.ID))
	return reply, nil
}

func (s *Service) call(ctx context.Context, msg store.ChatMessage) (*store.ChatMessage, error) {
	if s.auth != nil {
		if err := s.auth.EnsureAuthenticated(ctx); err != nil {
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
	}

	if s.simple {
		resp, err := s.backend.SendSimpleMessage(ctx, api.NewSimpleMessageRequest(msg.Text, msg.UserID, msg.Timestamp))
		if err != nil {
			return nil, err
		}
		if resp.Response == "" {
			return nil, ErrEmptyReply
		}
		return &store.ChatMessage{
			ID:        s.newID(),
			Text:      resp.Response,
			UserID:    BotUserID,
			Timestamp: resp.Timestamp.Millis(s.now()),
		}, nil
	}

	reply, err := s.backend.SendMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	if reply.Text == "" {
		return nil, ErrEmptyReply
	}
	if reply.ID == "" || reply.ID == msg.ID {
		reply.ID = s.newID()
	}
	if reply.Timestamp == 0 {
		reply.Timestamp = s.now()
	}
	reply.IsUser = false
	reply.Pending = false
	return reply, nil
}

func (s *Service) recordError(ctx context.Context, text string) {
	msg := store.ChatMessage{
		ID:        s.newID(),
		Text:      text,
		Timestamp: s.now(),
		Error:     true,
	}
	if err := s.store.AddMessage(ctx, msg); err != nil {
		s.logger.Error("failed to store error message", zap.Error(err))
	}
}

// History returns the transcript, oldest first.
func (s *Service) History(ctx context.Context) ([]store.ChatMessage, error) {
	return s.store.ListMessages(ctx)
}

// Pending returns messages the backend has not acknowledged.
func (s *Service) Pending(ctx context.Context) ([]store.ChatMessage, error) {
	return s.store.UnsyncedMessages(ctx)
}

// Clear removes the local transcript.
func (s *Service) Clear(ctx context.Context) error {
	return s.store.ClearMessages(ctx)
}

// Sync checks the backend credentials and returns the local transcript.
// The backend keeps no message history to pull.
func (s *Service) Sync(ctx context.Context) ([]store.ChatMessage, error) {
	if s.auth != nil {
		if err := s.auth.EnsureAuthenticated(ctx); err != nil {
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
	}
	return s.store.ListMessages(ctx)
}
