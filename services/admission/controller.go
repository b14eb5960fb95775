// Package admission runs the login flow: it checks credentials, enforces the
// concurrent-user cap against the session registry, and issues access tokens.
//
// The capacity check and the session insert are two separate store calls with
// no lock around them. A burst of logins racing at the boundary can admit a
// few more than MaxConcurrentUsers distinct users; the cap is a soft limit.
// A hard limit would need a store-side conditional counter, not a mutex.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amyflash/audio-drama-system/metrics"
	"github.com/amyflash/audio-drama-system/models"
	"github.com/amyflash/audio-drama-system/services/sessions"
	"github.com/amyflash/audio-drama-system/services/tokens"
	"github.com/amyflash/audio-drama-system/utils"
)

var (
	ErrUnauthorized     = errors.New("invalid username or password")
	ErrForbidden        = errors.New("account is disabled")
	ErrCapacityExceeded = errors.New("online user limit reached, please try again later")
	// ErrUserNotFound is returned by UserDirectory implementations.
	ErrUserNotFound = models.ErrUserNotFound
)

//go:generate mockgen -source=controller.go -destination=directory_mock_test.go -package=admission

// UserDirectory resolves accounts. Lookups return ErrUserNotFound for
// unknown users.
type UserDirectory interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

type Config struct {
	MaxConcurrentUsers int
	SessionTTL         time.Duration
}

type Controller struct {
	users    UserDirectory
	registry sessions.Registry
	codec    *tokens.Codec
	config   Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewController(users UserDirectory, registry sessions.Registry, codec *tokens.Codec, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Controller, error) {
	if cfg.MaxConcurrentUsers <= 0 {
		return nil, errors.New("admission: max concurrent users must be positive")
	}
	if cfg.SessionTTL <= 0 {
		return nil, errors.New("admission: session ttl must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		users:    users,
		registry: registry,
		codec:    codec,
		config:   cfg,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}, nil
}

type LoginRequest struct {
	Username      string
	Password      string
	ClientAddress string
	ClientAgent   string
}

type LoginResult struct {
	AccessToken string
	ExpiresIn   time.Duration
	User        *models.User
}

// Login admits a user. Users who already hold a session are always
// re-admitted and their session is replaced; the old access token stays
// verifiable until it expires.
func (c *Controller) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	res, err := c.login(ctx, req)
	c.metrics.ObserveLogin(loginOutcome(err))
	return res, err
}

func (c *Controller) login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	user, err := c.users.FindByUsername(ctx, req.Username)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("admission: lookup user: %w", err)
	}
	if !utils.CheckPasswordHash(req.Password, user.PasswordHash) {
		return nil, ErrUnauthorized
	}
	if !user.IsActive {
		return nil, ErrForbidden
	}

	userID := user.ID.String()
	if err := c.checkCapacity(ctx, userID); err != nil {
		return nil, err
	}

	token, err := c.codec.IssueAccessToken(userID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("admission: issue token: %w", err)
	}

	now := c.now()
	session := models.Session{
		UserID:        userID,
		IssuedToken:   token,
		ClientAddress: req.ClientAddress,
		ClientAgent:   req.ClientAgent,
		ExpiresAt:     now.Add(c.config.SessionTTL),
	}
	if err := c.registry.Put(ctx, userID, session, c.config.SessionTTL); err != nil {
		return nil, err
	}

	if err := c.users.TouchLastLogin(ctx, userID, now); err != nil {
		c.logger.Warn("failed to record last login", "user_id", userID, "error", err)
	}
	c.logger.Info("login admitted", "user_id", userID, "ip", req.ClientAddress)

	return &LoginResult{
		AccessToken: token,
		ExpiresIn:   c.codec.AccessTTL(),
		User:        user,
	}, nil
}

func (c *Controller) checkCapacity(ctx context.Context, userID string) error {
	count, err := c.registry.Count(ctx)
	if err != nil {
		return err
	}
	c.metrics.SetOnline(count)
	if count < c.config.MaxConcurrentUsers {
		return nil
	}
	existing, err := c.registry.Exists(ctx, userID)
	if err != nil {
		return err
	}
	if !existing {
		c.logger.Warn("login rejected at capacity", "user_id", userID, "online", count, "max", c.config.MaxConcurrentUsers)
		return ErrCapacityExceeded
	}
	return nil
}

// Logout drops the user's session so it no longer counts as online. It does
// not revoke the access token.
func (c *Controller) Logout(ctx context.Context, userID string) error {
	if err := c.registry.Remove(ctx, userID); err != nil {
		return err
	}
	c.logger.Info("logout", "user_id", userID)
	return nil
}

// Heartbeat extends the session TTL. A missing session is left missing and
// reported as false, not as an error.
func (c *Controller) Heartbeat(ctx context.Context, userID string) (bool, error) {
	return c.registry.Renew(ctx, userID, c.config.SessionTTL)
}

// Online returns the live session count and the configured cap.
func (c *Controller) Online(ctx context.Context) (current, limit int, err error) {
	current, err = c.registry.Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	c.metrics.SetOnline(current)
	return current, c.config.MaxConcurrentUsers, nil
}

// Authorize resolves the account behind a verified access token and
// re-checks that it is still enabled.
func (c *Controller) Authorize(ctx context.Context, userID string) (*models.User, error) {
	user, err := c.users.FindByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("admission: lookup user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrForbidden
	}
	return user, nil
}

func (c *Controller) SessionTTL() time.Duration { return c.config.SessionTTL }

func loginOutcome(err error) string {
	switch {
	case err == nil:
		return "admitted"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, sessions.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}
