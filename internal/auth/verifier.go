package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// VerifierConfig holds configuration for token verification.
type VerifierConfig struct {
	// Algorithm is "HS256" or "RS256".
	Algorithm string

	// HS256
	SecretKey string

	// RS256, PEM text or a file holding it. PublicKeyPEM wins if both
	// are set.
	PublicKeyPEM  string
	PublicKeyFile string
}

// Verifier checks bearer tokens and extracts their claims.
type Verifier struct {
	config    VerifierConfig
	publicKey *rsa.PublicKey
}

// NewVerifier creates a verifier, loading the RS256 key if needed.
func NewVerifier(config VerifierConfig) (*Verifier, error) {
	v := &Verifier{config: config}

	switch config.Algorithm {
	case "RS256":
		pemData := config.PublicKeyPEM
		if pemData == "" && config.PublicKeyFile != "" {
			data, err := os.ReadFile(config.PublicKeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read public key: %w", err)
			}
			pemData = string(data)
		}
		if pemData == "" {
			return nil, fmt.Errorf("RS256 requires a public key")
		}
		if err := v.loadPublicKeyFromPEM(pemData); err != nil {
			return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
		}
	case "HS256":
		if config.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires secret key")
		}
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", config.Algorithm)
	}

	return v, nil
}

// VerifyToken verifies a token and returns its claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, v.keyFunc,
		jwt.WithValidMethods([]string{v.config.Algorithm}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	return extractClaimsFromMap(claims)
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if token.Method.Alg() != v.config.Algorithm {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	if v.config.Algorithm == "RS256" {
		return v.publicKey, nil
	}
	return []byte(v.config.SecretKey), nil
}

func extractClaimsFromMap(claims *jwt.MapClaims) (*Claims, error) {
	sub, ok := (*claims)["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("missing or invalid 'sub' claim")
	}

	roles, err := extractStringSlice(claims, "roles")
	if err != nil {
		return nil, fmt.Errorf("missing or invalid 'roles' claim: %w", err)
	}
	scopes, err := extractStringSlice(claims, "scopes")
	if err != nil {
		return nil, fmt.Errorf("missing or invalid 'scopes' claim: %w", err)
	}

	if !validate(roles, validRoles) {
		return nil, fmt.Errorf("invalid roles: %v", roles)
	}
	if !validate(scopes, validScopes) {
		return nil, fmt.Errorf("invalid scopes: %v", scopes)
	}

	return &Claims{Subject: sub, Roles: roles, Scopes: scopes}, nil
}

func extractStringSlice(claims *jwt.MapClaims, key string) ([]string, error) {
	value, ok := (*claims)[key]
	if !ok {
		return nil, fmt.Errorf("missing claim: %s", key)
	}

	switch val := value.(type) {
	case []string:
		return val, nil
	case []interface{}:
		result := make([]string, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid %s claim: not a string", key)
			}
			result[i] = s
		}
		return result, nil
	default:
		return nil, fmt.Errorf("invalid %s claim: not a string array", key)
	}
}

var (
	validRoles  = map[string]bool{RoleViewer: true, RoleController: true}
	validScopes = map[string]bool{ScopeRead: true, ScopeControl: true, ScopeTelemetry: true}
)

// validate reports whether values is non-empty and every entry is known.
func validate(values []string, known map[string]bool) bool {
	for _, s := range values {
		if !known[s] {
			return false
		}
	}
	return len(values) > 0
}

func (v *Verifier) loadPublicKeyFromPEM(pemData string) error {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return fmt.Errorf("failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("public key is not RSA")
	}
	v.publicKey = rsaPub
	return nil
}
