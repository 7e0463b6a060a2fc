package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"

	"github.com/austindbirch/hookrelay/internal/config"
	"github.com/austindbirch/hookrelay/internal/logging"
)

const keyID = "hookrelay-key-1"

type jwksResponse struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type tokenRequest struct {
	OwnerID    int64 `json:"owner_id" validate:"required,gt=0"`
	TTLSeconds int   `json:"ttl_seconds,omitempty" validate:"gte=0,lte=86400"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
	TokenType string `json:"token_type"`
}

// issuer mints owner-scoped RS256 tokens for local runs of the API and hookctl
type issuer struct {
	key        *rsa.PrivateKey
	issuer     string
	audience   string
	defaultTTL time.Duration
	validate   *validator.Validate
	now        func() time.Time
	logger     *logging.Logger
}

func main() {
	logger := logging.New("hookrelay-token-issuer")
	cfg, err := config.FromEnv()
	if err != nil {
		logger.Plain().WithError(err).Fatal("invalid configuration")
	}
	logging.SetLevel(cfg.LogLevel)

	key, generated, err := loadOrGenerateKey(cfg.TokenIssuer.PrivateKeyPEM)
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to load signing key")
	}
	if generated {
		logger.Plain().Warn("JWT_PRIVATE_KEY not set, generated an ephemeral key pair")
	}

	is := newIssuer(key, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.TokenIssuer.DefaultTTL, logger)

	srv := &http.Server{
		Addr:              cfg.TokenIssuer.Port,
		Handler:           is.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Plain().WithFields(map[string]interface{}{
			"addr":     srv.Addr,
			"issuer":   cfg.Auth.Issuer,
			"audience": cfg.Auth.Audience,
		}).Info("token-issuer listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatal("token-issuer failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	logger.Plain().Info("token-issuer stopped")
}

func newIssuer(key *rsa.PrivateKey, iss, aud string, ttl time.Duration, logger *logging.Logger) *issuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &issuer{
		key:        key,
		issuer:     iss,
		audience:   aud,
		defaultTTL: ttl,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		now:        time.Now,
		logger:     logger,
	}
}

// loadOrGenerateKey parses a PKCS1 or PKCS8 PEM key; an empty input yields
// a fresh 2048-bit key and generated=true.
func loadOrGenerateKey(pemKey string) (key *rsa.PrivateKey, generated bool, err error) {
	if pemKey == "" {
		key, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, false, fmt.Errorf("generate RSA key: %w", err)
		}
		return key, true, nil
	}

	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, false, errors.New("failed to decode PEM private key")
	}
	if key, err = x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, false, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, false, fmt.Errorf("parse private key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, false, errors.New("private key is not RSA")
	}
	return rsaKey, false, nil
}

func (i *issuer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/.well-known/jwks.json", i.handleJWKS)
	r.Get("/public-key.pem", i.handlePublicKey)
	r.Post("/token", i.handleToken)
	return r
}

func (i *issuer) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	pub := i.key.PublicKey
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, jwksResponse{Keys: []jwk{{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: keyID,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}})
}

// handlePublicKey serves the PEM the API expects in JWT_PUBLIC_KEY
func (i *issuer) handlePublicKey(w http.ResponseWriter, _ *http.Request) {
	der, err := x509.MarshalPKIXPublicKey(&i.key.PublicKey)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to encode public key"})
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	_ = pem.Encode(w, &pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func (i *issuer) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if err := i.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner_id must be positive and ttl_seconds within [0,86400]"})
		return
	}

	ttl := i.defaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	token, err := i.sign(req.OwnerID, ttl)
	if err != nil {
		i.logger.WithContext(r.Context()).WithOwner(req.OwnerID).WithError(err).Error("failed to sign token")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to sign token"})
		return
	}

	i.logger.WithContext(r.Context()).WithOwner(req.OwnerID).WithField("ttl", ttl.String()).Info("token issued")
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresIn: int(ttl.Seconds()),
		TokenType: "Bearer",
	})
}

func (i *issuer) sign(ownerID int64, ttl time.Duration) (string, error) {
	now := i.now()
	claims := jwt.MapClaims{
		"sub":      strconv.FormatInt(ownerID, 10),
		"owner_id": ownerID,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	}
	if i.issuer != "" {
		claims["iss"] = i.issuer
	}
	if i.audience != "" {
		claims["aud"] = i.audience
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID
	return token.SignedString(i.key)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
