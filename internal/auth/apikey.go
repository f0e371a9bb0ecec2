package auth

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// APIKey is a bearer credential with a permission set (spec §3 ApiKey).
// The plaintext secret is never stored — only its bcrypt hash and a short
// prefix kept for display/masking purposes.
type APIKey struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Permissions PermissionSet `json:"permissions"`
	KeyHash     string        `json:"-"`
	KeyPrefix   string        `json:"key_prefix"`
	KeySuffix   string        `json:"key_suffix"`
	CreatedAt   time.Time     `json:"created_at"`
	LastUsedAt  *time.Time    `json:"last_used_at,omitempty"`
}

// GeneratedKey is returned exactly once, at creation time (spec §4.9,
// §6.3 POST /api/keys): the plaintext token plus the record that was
// persisted for it.
type GeneratedKey struct {
	Token string  `json:"token"`
	Key   *APIKey `json:"key"`
}

// tokenBytes is chosen so the encoded token carries at least 192 bits of
// entropy (spec §3 ApiKey invariant, §4.9 bootstrap key).
const tokenBytes = 24

// GenerateToken returns a new random, printable bearer token with at
// least 192 bits of entropy.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

// NewAPIKey hashes token with bcrypt and builds the APIKey record to
// persist for it.
func NewAPIKey(name string, perms PermissionSet, token string) (*APIKey, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing token: %w", err)
	}
	return &APIKey{
		ID:          uuid.New().String(),
		Name:        name,
		Permissions: perms,
		KeyHash:     string(hash),
		KeyPrefix:   prefixOf(token),
		KeySuffix:   suffixOf(token),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Matches reports whether token hashes to this key's stored hash.
// bcrypt.CompareHashAndPassword runs in time independent of where the
// comparison fails, so this is already constant-time with respect to the
// presented token (spec §4.9 "constant-time comparison").
func (k *APIKey) Matches(token string) bool {
	return bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(token)) == nil
}

// Masked returns the token display form used by GET /api/keys: the first
// 8 and last 4 characters, with the middle elided (spec §6.3).
func (k *APIKey) Masked() string {
	return k.KeyPrefix + strings.Repeat("*", 8) + k.KeySuffix
}

func prefixOf(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}

func suffixOf(token string) string {
	if len(token) <= 4 {
		return token
	}
	return token[len(token)-4:]
}
