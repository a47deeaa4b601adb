package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Transport returns a RoundTripper that attaches the bearer token to every
// request except health checks. When no token can be obtained the request is
// sent without one and the backend decides.
func (m *Manager) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &bearerTransport{manager: m, base: base}
}

type bearerTransport struct {
	manager *Manager
	base    http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if skipAuth(req.URL.Path) {
		return t.base.RoundTrip(req)
	}

	token, err := t.manager.Token(req.Context())
	if err != nil {
		t.manager.logger.Warn("sending request without token",
			zap.String("path", req.URL.Path), zap.Error(err))
		return t.base.RoundTrip(req)
	}

	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(clone)
}

func skipAuth(path string) bool {
	return strings.HasSuffix(path, "/health") || strings.HasSuffix(path, "/test")
}
