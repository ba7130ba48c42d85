package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/xenking/dealdesk/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "X-Api-Key"

type actorKey struct{}

// actorFrom returns the authenticated actor stored by the security middleware.
func actorFrom(ctx context.Context) auth.Actor {
	actor, _ := ctx.Value(actorKey{}).(auth.Actor)
	return actor
}

// SecurityMiddleware authenticates requests via HMAC-SHA256 hashed API keys
// and injects the resolved actor into the request context.
type SecurityMiddleware struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityMiddleware creates a SecurityMiddleware with the given API key
// repository and HMAC pepper.
func NewSecurityMiddleware(apikeys auth.Repository, pepper []byte) *SecurityMiddleware {
	return &SecurityMiddleware{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Authenticate computes the HMAC-SHA256 of the presented API key, looks it up,
// and performs a constant-time comparison to prevent timing attacks. Requests
// without a valid key are rejected with 401 before any handler runs.
func (s *SecurityMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			unauthorized(w)
			return
		}

		mac := hmac.New(sha256.New, s.pepper)
		mac.Write([]byte(key))
		hash := mac.Sum(nil)

		info, err := s.apikeys.FindByHash(r.Context(), hex.EncodeToString(hash))
		if err != nil {
			unauthorized(w)
			return
		}

		// Constant-time comparison guards against timing side-channels even
		// though the lookup already succeeded: the stored hash could differ
		// from what we computed if the repository returns a stale row.
		storedBytes, err := hex.DecodeString(info.KeyHash)
		if err != nil {
			unauthorized(w)
			return
		}
		if subtle.ConstantTimeCompare(hash, storedBytes) != 1 {
			unauthorized(w)
			return
		}

		actor := auth.Actor{
			ID:     info.ID,
			Name:   info.Name,
			Scopes: info.Scopes,
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:    http.StatusUnauthorized,
		Message: "unauthorized",
	})
}
