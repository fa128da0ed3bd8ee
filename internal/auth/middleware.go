package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Claims are the parsed token claims.
type Claims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
	Scopes  []string `json:"scopes"`
}

// ContextKey is used for storing claims in a request context.
type ContextKey string

// ClaimsKey holds *Claims in an authenticated request context.
const ClaimsKey ContextKey = "claims"

// Roles.
const (
	RoleViewer     = "viewer"
	RoleController = "controller"
)

// Scopes.
const (
	ScopeRead      = "read"
	ScopeControl   = "control"
	ScopeTelemetry = "telemetry"
)

// TokenVerifier turns a bearer token into claims.
type TokenVerifier interface {
	VerifyToken(token string) (*Claims, error)
}

var _ TokenVerifier = (*Verifier)(nil)

// Middleware handles authentication and authorization.
type Middleware struct {
	verifier TokenVerifier
}

// NewMiddleware creates the middleware. Every request is rejected when
// verifier is nil.
func NewMiddleware(verifier TokenVerifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// RequireAuth rejects requests without a valid bearer token.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}
		if m.verifier == nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
			return
		}
		claims, err := m.verifier.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// RequireScope rejects requests whose claims lack any of scopes. It must
// run after RequireAuth.
func (m *Middleware) RequireScope(scopes ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromRequest(r)
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}
			if !hasAll(claims.Scopes, scopes) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions")
				return
			}
			next(w, r)
		}
	}
}

// Protect is RequireAuth followed by RequireScope.
func (m *Middleware) Protect(next http.HandlerFunc, scopes ...string) http.HandlerFunc {
	return m.RequireAuth(m.RequireScope(scopes...)(next))
}

func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		// browsers cannot set headers on EventSource or WebSocket requests
		if t := r.URL.Query().Get("access_token"); t != "" {
			return t, nil
		}
		return "", fmt.Errorf("missing Authorization header")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return "", fmt.Errorf("empty token")
	}
	return token, nil
}

func hasAll(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// GetClaimsFromRequest returns the claims stored by RequireAuth, or nil.
func GetClaimsFromRequest(r *http.Request) *Claims {
	claims, _ := r.Context().Value(ClaimsKey).(*Claims)
	return claims
}

// writeError writes an error in the API envelope format.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"result":        "error",
		"code":          code,
		"message":       message,
		"correlationId": uuid.NewString(),
	})
}
