package security

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminGuard checks the administrative key for room management requests.
// An empty key disables the check.
type AdminGuard struct {
	key string
}

// NewAdminGuard creates a guard for key (normally the ADMIN_KEY env var).
func NewAdminGuard(key string) *AdminGuard {
	return &AdminGuard{key: key}
}

// Enabled reports whether a key is configured.
func (g *AdminGuard) Enabled() bool { return g.key != "" }

// Allow reports whether presented matches the configured key.
func (g *AdminGuard) Allow(presented string) bool {
	if g.key == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(g.key)) == 1
}

// Wrap returns an http.HandlerFunc that requires the admin key in the
// Authorization header, the X-Admin-Key header or the "admin_key" query
// parameter.
func (g *AdminGuard) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.Allow(ExtractAdminKey(r)) {
			http.Error(w, `{"error":"Invalid admin key"}`, http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// ExtractAdminKey gets the admin key from the request headers or query.
func ExtractAdminKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if k := r.Header.Get("X-Admin-Key"); k != "" {
		return k
	}
	return r.URL.Query().Get("admin_key")
}
