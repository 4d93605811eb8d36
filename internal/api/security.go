package api

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/grup/internal/domain/auth"
)

// errForbidden is returned when a valid key lacks the route's scope.
var errForbidden = errors.New("forbidden")

// apiKey extracts the key from the api_key header or a bearer token.
func apiKey(r *http.Request) string {
	if k := r.Header.Get("api_key"); k != "" {
		return k
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// authenticate hashes key with the configured pepper, looks the hash up and
// compares it in constant time with the stored one.
func (h *Handler) authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error) {
	if key == "" {
		return nil, auth.ErrUnauthorized
	}
	hash := auth.Hash(h.cfg.APIKeyPepper, key)

	info, err := h.apikeys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			return nil, auth.ErrUnauthorized
		}
		return nil, errors.Wrap(err, "find api key")
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, auth.ErrUnauthorized
	}
	return info, nil
}

// requireScope only lets requests through whose API key grants scope.
func (h *Handler) requireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := h.authenticate(r.Context(), apiKey(r))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if !info.HasScope(scope) {
			h.fail(w, r, errForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithKey(r.Context(), info)))
	})
}
