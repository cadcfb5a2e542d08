package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"

	keyPrefix = "ld_"
)

// User is an authenticated console user.
type User struct {
	ID       int64
	Username string
	Role     string
}

// IsAdmin reports whether the user may query every user's logs.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// APIKey holds the hashed key and a short prefix for identification.
type APIKey struct {
	Hash   string
	Prefix string // first 10 characters of the plaintext key
}

// UserLookup retrieves users by their API key hash.
type UserLookup interface {
	GetByKeyHash(ctx context.Context, hash string) (*User, error)
}

// Service resolves API keys to users, caching successful lookups.
type Service struct {
	store UserLookup
	cache *ristretto.Cache[string, *User]
	ttl   time.Duration
}

// NewService creates an authentication service. A nil cache disables caching.
func NewService(store UserLookup, cache *ristretto.Cache[string, *User], ttl time.Duration) *Service {
	return &Service{store: store, cache: cache, ttl: ttl}
}

// NewCache builds the ristretto cache used for key lookups.
func NewCache() (*ristretto.Cache[string, *User], error) {
	return ristretto.NewCache(&ristretto.Config[string, *User]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
}

// Authenticate resolves a plaintext API key to its user.
func (s *Service) Authenticate(ctx context.Context, plaintext string) (*User, error) {
	hash := HashKey(plaintext)

	if s.cache != nil {
		if u, ok := s.cache.Get(hash); ok {
			return u, nil
		}
	}

	u, err := s.store.GetByKeyHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("looking up api key: %w", err)
	}
	if u == nil {
		return nil, fmt.Errorf("looking up api key: not found")
	}

	if s.cache != nil {
		s.cache.SetWithTTL(hash, u, 1, s.ttl)
	}
	return u, nil
}

// GenerateAPIKey creates a new API key with the "ld_" prefix followed by 32
// URL-safe random characters. It returns the hashed form and the plaintext.
func GenerateAPIKey() (APIKey, string, error) {
	b := make([]byte, 24) // 24 bytes -> 32 base64url chars
	if _, err := rand.Read(b); err != nil {
		return APIKey{}, "", fmt.Errorf("generating random bytes: %w", err)
	}

	plaintext := keyPrefix + base64.RawURLEncoding.EncodeToString(b)

	return APIKey{
		Hash:   HashKey(plaintext),
		Prefix: plaintext[:10],
	}, plaintext, nil
}

// HashKey returns the hex-encoded SHA-256 hash of the given plaintext key.
func HashKey(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}
