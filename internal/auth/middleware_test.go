package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMiddleware(t *testing.T) *Middleware {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{Algorithm: "HS256", SecretKey: testSecret})
	require.NoError(t, err)
	return NewMiddleware(v)
}

func viewerToken(t *testing.T) string {
	c := controllerClaims()
	c["sub"] = "viewer"
	c["roles"] = []string{RoleViewer}
	c["scopes"] = []string{ScopeRead, ScopeTelemetry}
	return signHS256(t, c, testSecret)
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	claims := GetClaimsFromRequest(r)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(claims.Subject))
}

func serve(h http.HandlerFunc, target, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	m := newTestMiddleware(t)
	h := m.RequireAuth(okHandler)

	tests := []struct {
		name   string
		target string
		header string
		status int
	}{
		{"no header", "/api/v1/ports", "", http.StatusUnauthorized},
		{"not bearer", "/api/v1/ports", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "/api/v1/ports", "Bearer ", http.StatusUnauthorized},
		{"bad token", "/api/v1/ports", "Bearer nope", http.StatusUnauthorized},
		{"valid", "/api/v1/ports", "Bearer " + viewerToken(t), http.StatusOK},
		{"query token", "/api/v1/telemetry?access_token=" + viewerToken(t), "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(h, tt.target, tt.header)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "viewer", w.Body.String())
				return
			}
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "error", body["result"])
			assert.Equal(t, "UNAUTHORIZED", body["code"])
			assert.NotEmpty(t, body["correlationId"])
		})
	}
}

func TestRequireScope(t *testing.T) {
	m := newTestMiddleware(t)
	control := m.Protect(okHandler, ScopeControl)

	w := serve(control, "/", "Bearer "+viewerToken(t))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "FORBIDDEN")

	w = serve(control, "/", "Bearer "+signHS256(t, controllerClaims(), testSecret))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "operator", w.Body.String())

	// scope check without authentication
	w = serve(m.RequireScope(ScopeRead)(okHandler), "/", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNilVerifierRejects(t *testing.T) {
	m := NewMiddleware(nil)
	token := signHS256(t, jwt.MapClaims(controllerClaims()), testSecret)
	w := serve(m.RequireAuth(okHandler), "/", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
