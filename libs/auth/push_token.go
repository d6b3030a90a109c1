// Package auth signs and verifies the bearer tokens a push bridge attaches
// to deliveries so the worker can reject pushes from anywhere else.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid push token")

const (
	DefaultIssuer   = "push-bridge"
	DefaultTokenTTL = 5 * time.Minute
)

type PushClaims struct {
	jwt.RegisteredClaims
	Subscription string `json:"subscription,omitempty"`
}

type PushTokenConfig struct {
	Secret   []byte
	Audience string
	Issuer   string
	TTL      time.Duration
	Now      func() time.Time
}

func (c PushTokenConfig) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c PushTokenConfig) issuer() string {
	if c.Issuer == "" {
		return DefaultIssuer
	}
	return c.Issuer
}

// Enabled reports whether a secret is configured.
func (c PushTokenConfig) Enabled() bool { return len(c.Secret) > 0 }

func SignPushToken(cfg PushTokenConfig, subscription string) (string, error) {
	if !cfg.Enabled() {
		return "", errors.New("push token secret is not configured")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := cfg.now()
	claims := PushClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.issuer(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Subscription: subscription,
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
}

func VerifyPushToken(cfg PushTokenConfig, token string) (*PushClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.issuer()),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(cfg.now),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &PushClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return cfg.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// RequirePushToken rejects requests without a valid push token with 401.
// With no secret configured it lets every request through.
func RequirePushToken(cfg PushTokenConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				http.Error(w, `{"error":"missing push token"}`, http.StatusUnauthorized)
				return
			}
			if _, err := VerifyPushToken(cfg, token); err != nil {
				http.Error(w, `{"error":"invalid push token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
