package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
)

// CookieName is the name of the session cookie.
const CookieName = "sid"

const sessionIDLen = 32

// Sessions maps session ids to usernames. It lives only in memory.
type Sessions struct {
	mu sync.Mutex
	m  map[string]string
}

// NewSessions creates an empty session table.
func NewSessions() *Sessions {
	return &Sessions{m: make(map[string]string)}
}

// Create mints a new session for username and returns its id.
func (s *Sessions) Create(username string) (string, error) {
	b := make([]byte, sessionIDLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	sid := base64.RawURLEncoding.EncodeToString(b)

	s.mu.Lock()
	s.m[sid] = username
	s.mu.Unlock()
	return sid, nil
}

// Lookup returns the username bound to sid.
func (s *Sessions) Lookup(sid string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.m[sid]
	return u, ok
}

// RevokeUser drops every session belonging to username and returns how many
// were removed.
func (s *Sessions) RevokeUser(username string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for sid, u := range s.m {
		if u == username {
			delete(s.m, sid)
			n++
		}
	}
	return n
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// SessionIDFromCookie extracts the sid value from a raw Cookie header. The
// first ';'-separated component starting with "sid=" wins.
func SessionIDFromCookie(header string) (string, bool) {
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if rest, ok := strings.CutPrefix(part, CookieName+"="); ok {
			return rest, true
		}
	}
	return "", false
}

// SessionCookie returns the Set-Cookie value for a fresh session.
func SessionCookie(sid string) string {
	return CookieName + "=" + sid + "; Path=/; HttpOnly; SameSite=Lax"
}

// ExpiredSessionCookie returns the Set-Cookie value that clears the session.
func ExpiredSessionCookie() string {
	return CookieName + "=; Path=/; HttpOnly; Max-Age=0; SameSite=Lax"
}
