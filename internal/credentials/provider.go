// Package credentials supplies bearer tokens to the session layer. The
// session treats tokens as opaque; refresh happens here, before a
// reconnect, when the provider signals expiry.
package credentials

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("credentials: invalid token")
	ErrExpiredToken = errors.New("credentials: token has expired")
)

// Provider supplies the bearer token used on each connection attempt.
type Provider interface {
	// Token returns a token valid for an immediate connection attempt,
	// refreshing first if the current one expired.
	Token(ctx context.Context) (string, error)
	// Expired reports whether the current token is past (or within leeway
	// of) its expiry.
	Expired() bool
}

// Static wraps a fixed token that never expires, e.g. an API key.
type Static struct {
	token string
}

func NewStatic(token string) *Static {
	return &Static{token: token}
}

func (s *Static) Token(ctx context.Context) (string, error) { return s.token, nil }

func (s *Static) Expired() bool { return false }

// RefreshFunc obtains a fresh token when the current one expires.
type RefreshFunc func(ctx context.Context) (string, error)

// JWT tracks a bearer JWT's exp claim and refreshes through the supplied
// callback. The claims are read without signature verification; the client
// holds no key and the server verifies on connect anyway.
type JWT struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	leeway    time.Duration
	refresh   RefreshFunc
}

// NewJWT creates a provider around an initial token. refresh may be nil,
// in which case an expired token is surfaced as ErrExpiredToken.
func NewJWT(token string, leeway time.Duration, refresh RefreshFunc) (*JWT, error) {
	exp, err := tokenExpiry(token)
	if err != nil {
		return nil, err
	}
	return &JWT{
		token:     token,
		expiresAt: exp,
		leeway:    leeway,
		refresh:   refresh,
	}, nil
}

func (p *JWT) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.expiredLocked() {
		return p.token, nil
	}
	if p.refresh == nil {
		return "", ErrExpiredToken
	}

	token, err := p.refresh(ctx)
	if err != nil {
		return "", err
	}
	exp, err := tokenExpiry(token)
	if err != nil {
		return "", err
	}
	p.token = token
	p.expiresAt = exp
	return p.token, nil
}

func (p *JWT) Expired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expiredLocked()
}

func (p *JWT) expiredLocked() bool {
	if p.expiresAt.IsZero() {
		return false
	}
	return time.Now().Add(p.leeway).After(p.expiresAt)
}

func tokenExpiry(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, ErrInvalidToken
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}
