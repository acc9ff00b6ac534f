// Package credentials stamps outbound StreamingPull calls with per-call
// authorization. A real pub/sub client wraps an OAuth2 token source; the
// default here mints a short-lived, self-signed HS256 token so the
// subscriber has no external token-service dependency in the default
// configuration (spec.md §6's Transport contract, "per-call credentials").
package credentials

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type contextKey struct{}

var authorizationKey = contextKey{}

// WithAuthorization attaches a bearer token to ctx for the transport layer
// to forward as call metadata.
func WithAuthorization(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, authorizationKey, token)
}

// Authorization reads back the bearer token attached by WithAuthorization.
func Authorization(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(authorizationKey).(string)
	return v, ok
}

// Provider supplies a bearer token for each new stream the transport opens.
// Hosts needing OAuth2, mTLS-derived identity, or a workload-identity
// exchange can supply their own Provider via the Subscriber's functional
// options instead of the default JWT implementation.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// JWTConfig configures the default self-signed HS256 provider.
type JWTConfig struct {
	Secret  string
	Issuer  string
	Subject string
	TTL     time.Duration
}

// JWTProvider mints and caches a self-signed HS256 token, re-minting it once
// it's within one TTL-quarter of expiring.
type JWTProvider struct {
	cfg JWTConfig

	mu        sync.Mutex
	cached    string
	expiresAt time.Time
}

// NewJWTProvider builds a Provider from cfg. TTL defaults to one hour.
func NewJWTProvider(cfg JWTConfig) *JWTProvider {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &JWTProvider{cfg: cfg}
}

// Token returns a valid bearer token, minting a new one if the cached token
// is within a quarter of its TTL of expiring.
func (p *JWTProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" && time.Until(p.expiresAt) > p.cfg.TTL/4 {
		return p.cached, nil
	}

	now := time.Now()
	exp := now.Add(p.cfg.TTL)
	tok, err := p.sign(now, exp)
	if err != nil {
		return "", err
	}
	p.cached = tok
	p.expiresAt = exp
	return tok, nil
}

// sign builds and HMAC-SHA256-signs a compact JWT. The verification half of
// this algorithm is adapted from the teacher's HS256 JWT authenticator; here
// the same primitives run in reverse to mint rather than validate.
func (p *JWTProvider) sign(iat, exp time.Time) (string, error) {
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	claims := map[string]interface{}{
		"iss": p.cfg.Issuer,
		"sub": p.cfg.Subject,
		"iat": iat.Unix(),
		"exp": exp.Unix(),
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("credentials: marshal header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("credentials: marshal claims: %w", err)
	}

	signingInput := base64URLEncode(headerJSON) + "." + base64URLEncode(claimsJSON)

	mac := hmac.New(sha256.New, []byte(p.cfg.Secret))
	mac.Write([]byte(signingInput))
	signature := mac.Sum(nil)

	return signingInput + "." + base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(signature), nil
}

func base64URLEncode(data []byte) string {
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(data)
}

// NoopProvider never attaches a token; used when the transport talks to an
// endpoint that authenticates at the TLS layer (mTLS) instead.
type NoopProvider struct{}

// Token always returns an empty token and no error.
func (NoopProvider) Token(ctx context.Context) (string, error) { return "", nil }
