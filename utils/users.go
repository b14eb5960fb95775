package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amyflash/audio-drama-system/models"
)

// UserStore reads and writes accounts in Postgres. Lookups for unknown users
// return models.ErrUserNotFound.
type UserStore struct {
	db *pgxpool.Pool
}

func NewUserStore(db *pgxpool.Pool) *UserStore {
	return &UserStore{db: db}
}

const userColumns = "id::text, username, password_hash, role, is_active, created_at, last_login_at"

func scanUser(row pgx.Row) (*models.User, error) {
	var (
		u  models.User
		id string
	)
	err := row.Scan(&id, &u.Username, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.LastLoginAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if u.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("bad user id %q: %w", id, err)
	}
	return &u, nil
}

func (s *UserStore) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	stmt := "SELECT " + userColumns + " FROM users WHERE username = $1;"
	u, err := scanUser(s.db.QueryRow(ctx, stmt, username))
	if err != nil && !errors.Is(err, models.ErrUserNotFound) {
		return nil, fmt.Errorf("database error loading user: %w", err)
	}
	return u, err
}

func (s *UserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, models.ErrUserNotFound
	}
	stmt := "SELECT " + userColumns + " FROM users WHERE id = $1;"
	u, err := scanUser(s.db.QueryRow(ctx, stmt, uid.String()))
	if err != nil && !errors.Is(err, models.ErrUserNotFound) {
		return nil, fmt.Errorf("database error loading user: %w", err)
	}
	return u, err
}

func (s *UserStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	stmt := "UPDATE users SET last_login_at = $1 WHERE id = $2;"
	if _, err := s.db.Exec(ctx, stmt, at.UTC(), id); err != nil {
		return fmt.Errorf("error updating last login: %w", err)
	}
	return nil
}

// UpsertUser creates the account or, when the username exists, resets its
// password hash and role and re-enables it.
func (s *UserStore) UpsertUser(ctx context.Context, username, passwordHash, role string) (*models.User, error) {
	stmt := `INSERT INTO users (username, password_hash, role, is_active)
VALUES ($1, $2, $3, TRUE)
ON CONFLICT (username) DO UPDATE
SET password_hash = EXCLUDED.password_hash, role = EXCLUDED.role, is_active = TRUE
RETURNING ` + userColumns + ";"
	u, err := scanUser(s.db.QueryRow(ctx, stmt, username, passwordHash, role))
	if err != nil {
		return nil, fmt.Errorf("error saving user: %w", err)
	}
	return u, nil
}
