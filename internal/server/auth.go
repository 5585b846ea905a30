package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"trackway/internal/engine/auth"
)

// ScopeModulesWrite allows installing and removing modules.
const ScopeModulesWrite = "modules.write"

type AuthConfig struct {
	// JWTSecret signs dev tokens and verifies bearer tokens when Verifier is nil.
	JWTSecret string
	Verifier  auth.Verifier
	// Disabled serves every route without credentials.
	Disabled bool
}

func (c AuthConfig) verifier() auth.Verifier {
	if c.Verifier != nil {
		return c.Verifier
	}
	return auth.JWT{Secret: c.JWTSecret}
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

func requireScope(ctx context.Context, scope string) huma.StatusError {
	p, ok := principalFromContext(ctx)
	if !ok {
		return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	if p.Source == "anonymous" || p.HasScope(scope) {
		return nil
	}
	return newAPIError(http.StatusForbidden, "forbidden", "missing scope "+scope, map[string]any{"scope": scope})
}

func newAuthMiddleware(basePath string, cfg AuthConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/token"): true,
		path.Join(basePath, "openapi.json"):   true,
	}
	v := cfg.verifier()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) || open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			if cfg.Disabled {
				ctx := withPrincipal(req.Context(), auth.Principal{Subject: "local", Source: "anonymous"})
				next.ServeHTTP(w, req.WithContext(ctx))
				return
			}
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			token, ok := auth.BearerToken(authz)
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			principal, err := v.Verify(token)
			if err != nil {
				logger.Debug("bearer token rejected", zap.String("path", req.URL.Path), zap.Error(err))
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
