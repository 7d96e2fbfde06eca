package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/puppycloud/puppycloud/internal/storage"
)

// MinPasswordLen is the shortest password SetPassword accepts.
const MinPasswordLen = 8

var (
	ErrInvalidInput       = errors.New("username and 8+ char password required")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPasswordExpired    = errors.New("password expired")
	ErrNoSession          = errors.New("no session")
	ErrInvalidSession     = errors.New("invalid session")
)

// UserStore is the persistence the auth service needs.
type UserStore interface {
	GetUser(username string) (*storage.User, error)
	UpsertUser(u *storage.User) error
	SetUserExpiry(username string, expiresTS *int64) error
}

// Service ties password storage to the in-memory session table.
type Service struct {
	users    UserStore
	sessions *Sessions
	now      func() time.Time
}

// NewService creates a Service. now may be nil, in which case time.Now is used.
func NewService(users UserStore, sessions *Sessions, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{users: users, sessions: sessions, now: now}
}

// Sessions returns the session table backing the service.
func (s *Service) Sessions() *Sessions { return s.sessions }

// SetPassword creates username or replaces its password and expiry.
func (s *Service) SetPassword(username, password string, expiresTS *int64) error {
	if strings.TrimSpace(username) == "" || len(password) < MinPasswordLen {
		return ErrInvalidInput
	}
	salt, err := NewSalt()
	if err != nil {
		return err
	}
	hash, err := HashPassword(password, salt)
	if err != nil {
		return err
	}
	return s.users.UpsertUser(&storage.User{
		Username:  username,
		PwdHash:   hash,
		Salt:      []byte(salt),
		CreatedTS: s.now().Unix(),
		ExpiresTS: expiresTS,
	})
}

// SetExpiry sets or clears the password expiry of username.
func (s *Service) SetExpiry(username string, expiresTS *int64) error {
	return s.users.SetUserExpiry(username, expiresTS)
}

// Login verifies the credentials and returns a new session id.
func (s *Service) Login(username, password string) (string, error) {
	u, err := s.users.GetUser(username)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if u.ExpiresTS != nil && s.now().Unix() > *u.ExpiresTS {
		return "", ErrPasswordExpired
	}
	ok, err := VerifyPassword(password, string(u.Salt), u.PwdHash)
	if err != nil {
		return "", fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return "", ErrInvalidCredentials
	}
	return s.sessions.Create(u.Username)
}

// Logout ends every session of username.
func (s *Service) Logout(username string) int {
	return s.sessions.RevokeUser(username)
}

// Authenticate resolves the raw Cookie header to a username.
func (s *Service) Authenticate(cookieHeader string) (string, error) {
	sid, ok := SessionIDFromCookie(cookieHeader)
	if !ok {
		return "", ErrNoSession
	}
	user, ok := s.sessions.Lookup(sid)
	if !ok {
		return "", ErrInvalidSession
	}
	return user, nil
}
