// Package auth authenticates management API requests via HMAC-SHA256 hashed
// API keys. Raw keys are never stored; only their peppered hash is.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// ErrUnknownKey is returned when no active API key matches a hash.
var ErrUnknownKey = errors.New("unknown api key")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Hasher computes peppered HMAC-SHA256 hashes of raw API keys.
type Hasher struct {
	pepper []byte
}

// NewHasher creates a Hasher with the given pepper.
func NewHasher(pepper []byte) *Hasher {
	return &Hasher{pepper: pepper}
}

// Hash returns the hex-encoded HMAC-SHA256 of the raw key.
func (h *Hasher) Hash(rawKey string) string {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(rawKey))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify authenticates a raw key against the repository. The stored hash is
// compared in constant time to guard against timing side-channels.
func (h *Hasher) Verify(ctx context.Context, repo Repository, rawKey string) (*APIKeyInfo, error) {
	computed := h.Hash(rawKey)

	info, err := repo.FindByHash(ctx, computed)
	if err != nil {
		return nil, ErrUnknownKey
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, ErrUnknownKey
	}
	computedBytes, _ := hex.DecodeString(computed)
	if subtle.ConstantTimeCompare(computedBytes, stored) != 1 {
		return nil, ErrUnknownKey
	}
	return info, nil
}
