package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const OwnerIDKey contextKey = "owner_id"

// OwnerHeader carries the owner id when an edge proxy has already
// authenticated the caller.
const OwnerHeader = "X-Owner-Id"

var ErrMissingOwner = errors.New("missing or invalid owner_id claim")

// JWTValidator checks RS256 tokens and extracts the owner id claim
type JWTValidator struct {
	publicKey *rsa.PublicKey
	issuer    string
	audience  string
}

// NewJWTValidator parses a PKCS1 or PKIX PEM public key
func NewJWTValidator(publicKeyPEM, issuer, audience string) (*JWTValidator, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	publicKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		var ok bool
		publicKey, ok = key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not RSA")
		}
	}

	return &JWTValidator{publicKey: publicKey, issuer: issuer, audience: audience}, nil
}

// LoadPublicKey returns the inline PEM, or reads it from path when inline is empty
func LoadPublicKey(inline, path string) (string, error) {
	if inline != "" || path == "" {
		return inline, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read public key: %w", err)
	}
	return string(b), nil
}

// ValidateToken verifies signature, expiry, issuer and audience and returns
// the owner id. Empty issuer or audience skip that check.
func (v *JWTValidator) ValidateToken(tokenString string) (int64, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	}, opts...)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token: %w", err)
	}

	return ownerFromClaim(claims["owner_id"])
}

func ownerFromClaim(raw any) (int64, error) {
	switch v := raw.(type) {
	case float64:
		if v > 0 && v == float64(int64(v)) {
			return int64(v), nil
		}
	case string:
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			return id, nil
		}
	}
	return 0, ErrMissingOwner
}

// Middleware authenticates API requests and stores the owner id in the
// request context.
type Middleware struct {
	validator        *JWTValidator
	trustOwnerHeader bool
}

// NewMiddleware accepts a nil validator when only the trusted header is used
func NewMiddleware(v *JWTValidator, trustOwnerHeader bool) *Middleware {
	return &Middleware{validator: v, trustOwnerHeader: trustOwnerHeader}
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.trustOwnerHeader {
			if raw := r.Header.Get(OwnerHeader); raw != "" {
				ownerID, err := ownerFromClaim(raw)
				if err != nil {
					unauthorized(w, "invalid "+OwnerHeader+" header")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), ownerID)))
				return
			}
		}

		if m.validator == nil {
			unauthorized(w, "authentication not configured")
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized(w, "missing Authorization header")
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			unauthorized(w, "invalid Authorization header format")
			return
		}

		ownerID, err := m.validator.ValidateToken(tokenString)
		if err != nil {
			unauthorized(w, "invalid token: "+err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), ownerID)))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func WithOwnerID(ctx context.Context, ownerID int64) context.Context {
	return context.WithValue(ctx, OwnerIDKey, ownerID)
}

// OwnerIDFromContext extracts the authenticated owner id
func OwnerIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(OwnerIDKey).(int64)
	return id, ok && id > 0
}
