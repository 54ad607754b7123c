// guard.go - Optional bearer token protecting POST /upload.
//
// The token itself is never configured, only its bcrypt hash
// (see cmd/tokenhash).
package server

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// UploadGuard checks the bearer token of upload requests. A nil guard lets
// every request through.
type UploadGuard struct {
	hash []byte
}

// NewUploadGuard returns a guard for the given bcrypt hash, or nil when the
// hash is empty.
func NewUploadGuard(bcryptHash string) *UploadGuard {
	bcryptHash = strings.TrimSpace(bcryptHash)
	if bcryptHash == "" {
		return nil
	}
	return &UploadGuard{hash: []byte(bcryptHash)}
}

// Allow reports whether r carries "Authorization: Bearer <token>" with a
// token matching the configured hash.
func (g *UploadGuard) Allow(r *http.Request) bool {
	if g == nil {
		return true
	}

	token, ok := bearerToken(r)
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(g.hash, []byte(token)) == nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}
