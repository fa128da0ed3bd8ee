package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key"

func generateTestRSAKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func controllerClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":    "operator",
		"roles":  []string{RoleController},
		"scopes": []string{ScopeRead, ScopeControl, ScopeTelemetry},
		"exp":    time.Now().Add(time.Hour).Unix(),
	}
}

func signHS256(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestNewVerifier(t *testing.T) {
	_, pemKey := generateTestRSAKey(t)
	keyFile := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(keyFile, []byte(pemKey), 0o600))

	tests := []struct {
		name    string
		config  VerifierConfig
		wantErr bool
	}{
		{"RS256 with PEM", VerifierConfig{Algorithm: "RS256", PublicKeyPEM: pemKey}, false},
		{"RS256 with key file", VerifierConfig{Algorithm: "RS256", PublicKeyFile: keyFile}, false},
		{"RS256 missing file", VerifierConfig{Algorithm: "RS256", PublicKeyFile: keyFile + ".x"}, true},
		{"RS256 without key", VerifierConfig{Algorithm: "RS256"}, true},
		{"RS256 garbage PEM", VerifierConfig{Algorithm: "RS256", PublicKeyPEM: "not a key"}, true},
		{"HS256", VerifierConfig{Algorithm: "HS256", SecretKey: testSecret}, false},
		{"HS256 without secret", VerifierConfig{Algorithm: "HS256"}, true},
		{"unsupported algorithm", VerifierConfig{Algorithm: "ES256"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewVerifier(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, v)
		})
	}
}

func TestVerifyHS256Token(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{Algorithm: "HS256", SecretKey: testSecret})
	require.NoError(t, err)

	claims, err := v.VerifyToken(signHS256(t, controllerClaims(), testSecret))
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Subject)
	assert.Equal(t, []string{RoleController}, claims.Roles)
	assert.Equal(t, []string{ScopeRead, ScopeControl, ScopeTelemetry}, claims.Scopes)

	_, err = v.VerifyToken(signHS256(t, controllerClaims(), "other-secret"))
	assert.Error(t, err)

	_, err = v.VerifyToken("")
	assert.Error(t, err)

	_, err = v.VerifyToken("not.a.token")
	assert.Error(t, err)
}

func TestVerifyRS256Token(t *testing.T) {
	key, pemKey := generateTestRSAKey(t)
	v, err := NewVerifier(VerifierConfig{Algorithm: "RS256", PublicKeyPEM: pemKey})
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, controllerClaims()).SignedString(key)
	require.NoError(t, err)
	claims, err := v.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Subject)

	// an HS256 token signed with the public key text must not pass
	forged := signHS256(t, controllerClaims(), pemKey)
	_, err = v.VerifyToken(forged)
	assert.Error(t, err)

	other, _ := generateTestRSAKey(t)
	token, err = jwt.NewWithClaims(jwt.SigningMethodRS256, controllerClaims()).SignedString(other)
	require.NoError(t, err)
	_, err = v.VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyClaims(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{Algorithm: "HS256", SecretKey: testSecret})
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
	}{
		{"expired", func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Minute).Unix() }},
		{"missing sub", func(c jwt.MapClaims) { delete(c, "sub") }},
		{"missing roles", func(c jwt.MapClaims) { delete(c, "roles") }},
		{"unknown role", func(c jwt.MapClaims) { c["roles"] = []string{"admin"} }},
		{"empty scopes", func(c jwt.MapClaims) { c["scopes"] = []string{} }},
		{"unknown scope", func(c jwt.MapClaims) { c["scopes"] = []string{"write"} }},
		{"scopes not strings", func(c jwt.MapClaims) { c["scopes"] = []interface{}{1} }},
		{"scopes not array", func(c jwt.MapClaims) { c["scopes"] = "read" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := controllerClaims()
			tt.mutate(c)
			_, err := v.VerifyToken(signHS256(t, c, testSecret))
			assert.Error(t, err)
		})
	}
}
