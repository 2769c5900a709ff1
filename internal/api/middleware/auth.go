package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/clipforge/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

const callerIDLen = 12

// AdminAuth guards the internal endpoints with a single bearer token whose
// bcrypt hash is configured at startup.
type AdminAuth struct {
	tokenHash []byte
}

// NewAdminAuth creates the middleware. An empty hash rejects every request.
func NewAdminAuth(tokenHash string) *AdminAuth {
	return &AdminAuth{tokenHash: []byte(tokenHash)}
}

// Authenticate validates the Bearer token and records a caller identity derived
// from a digest of it.
func (a *AdminAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.tokenHash) == 0 {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Admin access is not configured", nil)
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if bcrypt.CompareHashAndPassword(a.tokenHash, []byte(token)) != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid admin token", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(setCaller(r.Context(), callerID(token))))
	})
}

// callerID names a token in logs and rate-limit keys without revealing any of it.
func callerID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:callerIDLen]
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
