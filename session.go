package teelink

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ============================================================================
// Token storage
// ============================================================================

// TokenStore holds the bearer token between calls. The SDK only reads it;
// writes happen through the authentication flow (Login/Logout/SetToken).
type TokenStore interface {
	Token() (string, error)
	SetToken(token string) error
	Clear() error
}

// MemoryTokenStore keeps the token in memory for the process lifetime.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

func (s *MemoryTokenStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	return s.SetToken("")
}

// FileTokenStore persists the token to a 0600 file so the session survives
// restarts.
type FileTokenStore struct {
	mu   sync.Mutex
	path string
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

func (s *FileTokenStore) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FileTokenStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

func (s *FileTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

// ============================================================================
// Session bridging
// ============================================================================

// Cookie builds the http.Cookie described by the session triple.
func (s *Session) Cookie() *http.Cookie {
	return &http.Cookie{
		Name:   s.CookieName,
		Value:  s.ID,
		Domain: s.CookieDomain,
		Path:   "/",
	}
}

// BridgeSession injects the web-session cookie into jar for each base URL,
// typically one per language-subdomain variant, so embedded web pages under
// those domains see an authenticated session. Injection is best-effort:
// per-URL failures are logged and skipped, never fatal. Returns the number
// of URLs the cookie was applied to.
func (c *Client) BridgeSession(jar http.CookieJar, session *Session, baseURLs ...string) int {
	if jar == nil || session == nil || session.ID == "" || session.CookieName == "" {
		return 0
	}
	applied := 0
	for _, raw := range baseURLs {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			c.logf("bridge session: skip %q: invalid URL", raw)
			continue
		}
		cookie := session.Cookie()
		// A domain that doesn't cover this host would make SetCookies drop
		// the cookie silently; fall back to a host-only cookie instead.
		if cookie.Domain != "" && !domainCovers(cookie.Domain, u.Hostname()) {
			cookie.Domain = ""
		}
		jar.SetCookies(u, []*http.Cookie{cookie})
		if len(jar.Cookies(u)) == 0 {
			c.logf("bridge session: cookie for %s was not accepted", u.Host)
			continue
		}
		applied++
	}
	return applied
}

func domainCovers(domain, host string) bool {
	domain = strings.TrimPrefix(strings.ToLower(domain), ".")
	host = strings.ToLower(host)
	return host == domain || strings.HasSuffix(host, "."+domain)
}
