// Package auth describes the admin API keys that guard catalog writes.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ScopeCatalogWrite allows creating and updating products.
const ScopeCatalogWrite = "catalog:write"

// ErrUnauthorized is returned for unknown, malformed or under-scoped keys.
var ErrUnauthorized = errors.New("unauthorized")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key grants scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
	Upsert(ctx context.Context, info *APIKeyInfo) error
}

// Hash returns the HMAC-SHA256 of key under pepper.
func Hash(pepper []byte, key string) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

// HashHex is Hash encoded as lowercase hex, the form stored in the repository.
func HashHex(pepper []byte, key string) string {
	return hex.EncodeToString(Hash(pepper, key))
}

type keyCtx struct{}

// WithKey stores the authenticated key in ctx.
func WithKey(ctx context.Context, info *APIKeyInfo) context.Context {
	return context.WithValue(ctx, keyCtx{}, info)
}

// KeyFrom returns the authenticated key stored in ctx, if any.
func KeyFrom(ctx context.Context) (*APIKeyInfo, bool) {
	info, ok := ctx.Value(keyCtx{}).(*APIKeyInfo)
	return info, ok
}
