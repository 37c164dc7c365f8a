// Package auth issues and checks the signed tokens that carry a login session
// id from the HTTP login to the connection Authenticate message.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"

	"roboclass/internal/clock"
	"roboclass/internal/model"
)

// Claims is the token payload.
type Claims struct {
	SessionID string `json:"SessionId"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Config controls token signing.
type Config struct {
	Secret   string        `json:"secret" yaml:"secret"`
	Issuer   string        `json:"issuer" yaml:"issuer"`
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// TokenService signs session tokens with HS256 and caches parsed tokens so the
// signature is checked once per token rather than once per message.
type TokenService struct {
	secret []byte
	issuer string
	clock  clock.Clock
	parsed *cache.Cache
}

// NewTokenService creates a service. The secret must not be empty.
func NewTokenService(cfg Config, clk clock.Clock) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, ErrNoSecret
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		clock:  clk,
		parsed: cache.New(ttl, 2*ttl),
	}, nil
}

// Issue signs a token for session that expires with it.
func (s *TokenService) Issue(session *model.Session) (string, error) {
	if session.ID == "" {
		return "", ErrTokenMissingSession
	}
	now := s.clock.Now()
	claims := Claims{
		SessionID: session.ID,
		Role:      string(session.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(session.WhenExpires),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse checks token and returns its claims. Session expiry is checked by the
// caller against the stored session, so token expiry only limits the cache.
func (s *TokenService) Parse(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenMissing
	}
	if cached, ok := s.parsed.Get(token); ok {
		return cached.(*Claims), nil
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: expired", ErrTokenInvalid)
		}
		return nil, ErrTokenInvalid
	}
	if claims.SessionID == "" {
		return nil, ErrTokenMissingSession
	}

	s.parsed.Set(token, claims, cache.DefaultExpiration)
	return claims, nil
}

// Forget drops a token from the cache, used when its session is finished.
func (s *TokenService) Forget(token string) {
	s.parsed.Delete(token)
}

// CachedTokens returns how many parsed tokens are cached.
func (s *TokenService) CachedTokens() int {
	return s.parsed.ItemCount()
}
