package server

import (
	"errors"
	"net/http"

	"github.com/puppycloud/puppycloud/internal/auth"
)

// Username and password must be present; their contents are checked by
// auth.Service.
type setPasswordRequest struct {
	Username  *string `json:"username" validate:"required"`
	Password  *string `json:"password" validate:"required"`
	ExpiresTS *int64  `json:"expires_ts"`
}

type loginRequest struct {
	Username *string `json:"username" validate:"required"`
	Password *string `json:"password" validate:"required"`
}

var okResponse = map[string]bool{"ok": true}

// handleSetPassword handles POST /auth/set_password.
func (s *Server) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if err := s.decodeJSON(r, &req); err != nil {
		if errors.Is(err, errInvalidJSON) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, auth.ErrInvalidInput.Error())
		return
	}

	err := s.auth.SetPassword(*req.Username, *req.Password, req.ExpiresTS)
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.writeInternal(w, r, err)
	default:
		writeJSON(w, http.StatusOK, okResponse)
	}
}

// handleLogin handles POST /auth/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decodeJSON(r, &req); err != nil {
		if errors.Is(err, errInvalidJSON) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}

	sid, err := s.auth.Login(*req.Username, *req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrPasswordExpired):
		writeError(w, http.StatusUnauthorized, err.Error())
	case err != nil:
		s.writeInternal(w, r, err)
	default:
		w.Header().Add("Set-Cookie", auth.SessionCookie(sid))
		writeJSON(w, http.StatusOK, okResponse)
	}
}

// handleLogout handles POST /auth/logout. Every session of the caller ends.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	user := sessionUser(r)
	n := s.auth.Logout(user)
	s.log.Info("logout", "user", user, "sessions", n)
	w.Header().Add("Set-Cookie", auth.ExpiredSessionCookie())
	writeJSON(w, http.StatusOK, okResponse)
}
