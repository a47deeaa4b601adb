package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/easeaico/eva-client/internal/api"
	"github.com/easeaico/eva-client/internal/auth"
	"github.com/easeaico/eva-client/internal/chat"
	"github.com/easeaico/eva-client/internal/config"
	"github.com/easeaico/eva-client/internal/llm"
	"github.com/easeaico/eva-client/internal/memory"
	"github.com/easeaico/eva-client/internal/store"
)

// app holds the components a command works with.
type app struct {
	store    store.Store
	auth     *auth.Manager
	client   *api.Client
	chat     *chat.Service
	memories *memory.Service
}

// newAuthManager builds the token manager and reloads a persisted token.
func newAuthManager(cfg *config.Config, logger *zap.Logger) *auth.Manager {
	opts := []auth.Option{
		auth.WithTokenFile(cfg.Auth.TokenFile),
		auth.WithLogger(logger.Named("auth")),
	}
	switch {
	case cfg.Auth.Token != "":
		opts = append(opts, auth.WithGenerator(auth.StaticGenerator(cfg.Auth.Token)))
	case cfg.Auth.Audience != "":
		gen, err := auth.NewIDTokenGenerator(cfg.Auth.Audience, cfg.Auth.CredentialsFile)
		if err != nil {
			logger.Warn("id token credentials unavailable", zap.Error(err))
			break
		}
		opts = append(opts, auth.WithGenerator(gen))
	}

	m := auth.NewManager(opts...)
	if err := m.Load(); err != nil {
		logger.Warn("failed to load persisted token", zap.Error(err))
	}
	return m
}

// newClient builds the REST client with bearer authentication attached.
func newClient(cfg *config.Config, am *auth.Manager, logger *zap.Logger) (*api.Client, error) {
	timeout := cfg.APITimeout()
	var wrap func(http.RoundTripper) http.RoundTripper
	if am != nil {
		wrap = am.Transport
	}
	return api.NewClient(api.Config{
		BaseURL:        cfg.API.BaseURL,
		ConnectTimeout: timeout,
		ReadTimeout:    timeout,
		WriteTimeout:   timeout,
		Debug:          cfg.API.Debug,
	}, wrap, logger.Named("api"))
}

// openApp initializes all components. The caller must call close.
func openApp(ctx context.Context) (*app, func(), error) {
	if cfg.Store.Type == config.StoreSQLite && cfg.Store.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.DSN), 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	st, err := store.Open(ctx, cfg.Store.Type, cfg.Store.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	am := newAuthManager(cfg, logger)
	client, err := newClient(cfg, am, logger)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	var embedder memory.Embedder
	e, err := llm.NewEmbedder(ctx, cfg.Embedding.APIKey, cfg.Embedding.Model)
	if err != nil {
		logger.Warn("embeddings disabled", zap.Error(err))
	} else if e != nil {
		embedder = e
	}

	a := &app{
		store:  st,
		auth:   am,
		client: client,
		chat: chat.NewService(st, client, am, chat.Config{
			UserID:            cfg.UserID,
			UseSimpleEndpoint: cfg.API.SimpleEndpoint,
		}, logger.Named("chat")),
		memories: memory.NewService(st, client, am, embedder, memory.Config{
			UserID:  cfg.UserID,
			Workers: cfg.Sync.Workers,
		}, logger.Named("memory")),
	}

	cleanup := func() {
		if err := st.Close(); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
	}
	return a, cleanup, nil
}

// withApp runs fn with an initialized app bound to the command context.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	a, cleanup, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ctx, a)
}
