// Package auth issues the process-wide bridge token and guards the compute
// endpoints with it. The token is a single static shared secret for a
// same-machine companion process; the companion reads it from the token file.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"prunejuice/internal/common/fsutil"
	"prunejuice/pkg/types"
)

// TokenFile is the name of the file the token is written to.
const TokenFile = ".bridge_token"

// HeaderToken is accepted as an alternative to a bearer Authorization header.
const HeaderToken = "X-Bridge-Token"

const tokenBytes = 32

// Gate holds the current token. Safe for concurrent use.
type Gate struct {
	path string

	mu    sync.RWMutex
	token string
}

// Issue creates a fresh token, writes it to dir/.bridge_token (mode 0600,
// replacing any previous file) and returns a Gate holding it.
func Issue(dir string) (*Gate, error) {
	if dir == "" {
		dir = "."
	}
	d, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	g := &Gate{path: filepath.Join(d, TokenFile)}
	if err := g.Rotate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Path returns the token file location.
func (g *Gate) Path() string { return g.path }

// Token returns the current secret.
func (g *Gate) Token() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token
}

// Rotate replaces the token and rewrites the token file. The previous token
// is rejected once Rotate returns.
func (g *Gate) Rotate() error {
	tok, err := newToken()
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(g.path, []byte(tok), 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	g.mu.Lock()
	g.token = tok
	g.mu.Unlock()
	log.Info().Str("path", g.path).Msg("auth: bridge token issued")
	return nil
}

// Authorize reports whether token exactly matches the current secret.
func (g *Gate) Authorize(token string) bool {
	cur := g.Token()
	if token == "" || cur == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(cur)) == 1
}

// Middleware rejects requests without a valid token with 403 before the
// wrapped handler runs.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Authorize(FromRequest(r)) {
			rejectedTotal.Inc()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: "invalid or missing bridge token", Code: http.StatusForbidden})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FromRequest extracts the presented token: a bearer Authorization header,
// else the X-Bridge-Token header.
func FromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get(HeaderToken))
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
