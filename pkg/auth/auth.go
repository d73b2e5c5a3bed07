package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidKey   = errors.New("invalid api key")
	ErrMalformedKey = errors.New("malformed api key")
)

// keyPrefix namespaces issued keys so they are recognizable in configs
// and logs
const keyPrefix = "pa"

// KeyInfo holds the stored metadata for one admin key. Only the bcrypt
// hash of the secret part is kept.
type KeyInfo struct {
	ID          string    `json:"id"`
	Hash        string    `json:"-"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at,omitempty"`
}

// KeyManager issues and validates admin API keys of the form
// pa_<id>_<secret>
type KeyManager struct {
	mu   sync.RWMutex
	keys map[string]*KeyInfo
}

// NewKeyManager creates an empty key manager
func NewKeyManager() *KeyManager {
	return &KeyManager{
		keys: make(map[string]*KeyInfo),
	}
}

// Generate creates a new key and returns its plaintext form. The secret
// is not recoverable afterwards.
func (km *KeyManager) Generate(description string) (string, error) {
	idBytes := make([]byte, 6)
	if _, err := rand.Read(idBytes); err != nil {
		return "", fmt.Errorf("failed to generate key id: %w", err)
	}
	id := hex.EncodeToString(idBytes)

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("failed to generate key secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}

	km.mu.Lock()
	km.keys[id] = &KeyInfo{
		ID:          id,
		Hash:        string(hash),
		Description: description,
		CreatedAt:   time.Now(),
	}
	km.mu.Unlock()

	return fmt.Sprintf("%s_%s_%s", keyPrefix, id, secret), nil
}

// Load registers a pre-provisioned key by id and bcrypt hash, as read
// from configuration
func (km *KeyManager) Load(id, hash, description string) {
	km.mu.Lock()
	defer km.mu.Unlock()

	km.keys[id] = &KeyInfo{
		ID:          id,
		Hash:        hash,
		Description: description,
		CreatedAt:   time.Now(),
	}
}

// Validate checks a plaintext key against the stored hashes
func (km *KeyManager) Validate(apiKey string) error {
	parts := strings.SplitN(apiKey, "_", 3)
	if len(parts) != 3 || parts[0] != keyPrefix || parts[1] == "" || parts[2] == "" {
		return ErrMalformedKey
	}
	id, secret := parts[1], parts[2]

	km.mu.RLock()
	info, ok := km.keys[id]
	var hash string
	if ok {
		hash = info.Hash
	}
	km.mu.RUnlock()

	if !ok {
		return ErrInvalidKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return ErrInvalidKey
	}

	km.mu.Lock()
	if info, ok := km.keys[id]; ok {
		info.LastUsedAt = time.Now()
	}
	km.mu.Unlock()

	return nil
}

// Revoke removes a key by id and reports whether it existed
func (km *KeyManager) Revoke(id string) bool {
	km.mu.Lock()
	defer km.mu.Unlock()

	if _, ok := km.keys[id]; !ok {
		return false
	}
	delete(km.keys, id)
	return true
}

// List returns key metadata ordered by creation time
func (km *KeyManager) List() []*KeyInfo {
	km.mu.RLock()
	defer km.mu.RUnlock()

	keys := make([]*KeyInfo, 0, len(km.keys))
	for _, info := range km.keys {
		copied := *info
		keys = append(keys, &copied)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.Before(keys[j].CreatedAt)
	})
	return keys
}

// Size returns the number of registered keys
func (km *KeyManager) Size() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.keys)
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
