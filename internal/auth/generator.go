package auth

import (
	"context"
	"fmt"
	"time"

	gauth "cloud.google.com/go/auth"
	"cloud.google.com/go/auth/credentials/idtoken"
)

// IDTokenGenerator mints Google-signed ID tokens for a backend audience.
type IDTokenGenerator struct {
	creds *gauth.Credentials
}

// NewIDTokenGenerator builds a generator for audience. credentialsFile may be
// empty, in which case Application Default Credentials are used.
func NewIDTokenGenerator(audience, credentialsFile string) (*IDTokenGenerator, error) {
	if audience == "" {
		return nil, fmt.Errorf("id token audience is required")
	}
	creds, err := idtoken.NewCredentials(&idtoken.Options{
		Audience:        audience,
		CredentialsFile: credentialsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create id token credentials: %w", err)
	}
	return &IDTokenGenerator{creds: creds}, nil
}

// GenerateToken implements TokenGenerator.
func (g *IDTokenGenerator) GenerateToken(ctx context.Context) (string, time.Time, error) {
	tok, err := g.creds.Token(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok.Value, tok.Expiry, nil
}

// StaticGenerator hands out a fixed token, e.g. one supplied via EVA_AUTH_TOKEN.
type StaticGenerator string

// GenerateToken implements TokenGenerator.
func (s StaticGenerator) GenerateToken(context.Context) (string, time.Time, error) {
	return string(s), time.Time{}, nil
}
