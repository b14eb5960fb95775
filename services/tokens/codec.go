// Package tokens issues and verifies the signed credentials used by the API:
// general access tokens and short-lived, single-episode stream tokens.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalid is returned for any token that is malformed, carries a bad
// signature, is expired, or has the wrong scope for the caller.
var ErrInvalid = errors.New("invalid token")

// Scope discriminates the two token kinds sharing one signing path.
type Scope string

const (
	ScopeAccess Scope = "access"
	ScopeStream Scope = "stream"
)

// Claims is the claim set carried by both token kinds. Role is only set on
// access tokens, EpisodeID only on stream tokens.
type Claims struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role,omitempty"`
	EpisodeID int64  `json:"episode_id,omitempty"`
	Scope     Scope  `json:"type"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret    []byte
	Issuer    string
	AccessTTL time.Duration
	StreamTTL time.Duration
}

// Codec signs with HS256. It holds no mutable state and is safe for
// concurrent use.
type Codec struct {
	config Config
	now    func() time.Time
}

type Option func(*Codec)

// WithClock replaces time.Now for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

func NewCodec(cfg Config, opts ...Option) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("tokens: signing secret is required")
	}
	if cfg.AccessTTL <= 0 || cfg.StreamTTL <= 0 {
		return nil, errors.New("tokens: token lifetimes must be positive")
	}
	c := &Codec{config: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Codec) AccessTTL() time.Duration { return c.config.AccessTTL }
func (c *Codec) StreamTTL() time.Duration { return c.config.StreamTTL }

// IssueAccessToken signs {userID, role} with the access lifetime.
func (c *Codec) IssueAccessToken(userID, role string) (string, error) {
	return c.sign(Claims{
		UserID:           userID,
		Role:             role,
		Scope:            ScopeAccess,
		RegisteredClaims: c.registered(userID, c.config.AccessTTL),
	})
}

// IssueStreamToken signs a token bound to exactly one episode.
func (c *Codec) IssueStreamToken(userID string, episodeID int64) (string, error) {
	return c.sign(Claims{
		UserID:           userID,
		EpisodeID:        episodeID,
		Scope:            ScopeStream,
		RegisteredClaims: c.registered(userID, c.config.StreamTTL),
	})
}

func (c *Codec) registered(userID string, ttl time.Duration) jwt.RegisteredClaims {
	now := c.now()
	return jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    c.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (c *Codec) sign(claims Claims) (string, error) {
	if claims.UserID == "" {
		return "", errors.New("tokens: user id is required")
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.config.Secret)
	if err != nil {
		return "", fmt.Errorf("tokens: sign: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry. Every failure is reported as ErrInvalid.
func (c *Codec) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalid
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return c.config.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

// VerifyAccess verifies a token and requires the access scope, so a stream
// token cannot authenticate general API calls.
func (c *Codec) VerifyAccess(token string) (*Claims, error) {
	claims, err := c.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Scope != ScopeAccess {
		return nil, fmt.Errorf("%w: scope %q is not an access token", ErrInvalid, claims.Scope)
	}
	return claims, nil
}

// VerifyStreamScope reports whether claims belong to a stream token issued
// for exactly this user and episode.
func VerifyStreamScope(claims *Claims, userID string, episodeID int64) bool {
	if claims == nil {
		return false
	}
	return claims.Scope == ScopeStream &&
		claims.UserID == userID &&
		claims.EpisodeID == episodeID
}
