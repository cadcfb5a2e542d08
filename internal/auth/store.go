package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserNotFound is returned when no user matches a lookup.
var ErrUserNotFound = errors.New("user not found")

// Store provides database operations for console users.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new user store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts a user with the given role and hashed API key.
func (s *Store) Create(ctx context.Context, username, role string, key APIKey) (*User, error) {
	u := &User{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, role, api_key_hash, api_key_prefix)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, username, role`,
		username, role, key.Hash, key.Prefix,
	).Scan(&u.ID, &u.Username, &u.Role)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

// GetByKeyHash retrieves a user by API key hash, used for authentication.
func (s *Store) GetByKeyHash(ctx context.Context, hash string) (*User, error) {
	u := &User{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, role FROM users WHERE api_key_hash = $1`,
		hash,
	).Scan(&u.ID, &u.Username, &u.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by key hash: %w", err)
	}
	return u, nil
}

// GetByUsername retrieves a user by name.
func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, role FROM users WHERE username = $1`,
		username,
	).Scan(&u.ID, &u.Username, &u.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by username: %w", err)
	}
	return u, nil
}
