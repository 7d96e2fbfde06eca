// Package server exposes the node over HTTP: auth, uploads, chunk and
// manifest reads, and the p2p control surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/puppycloud/puppycloud/internal/auth"
	"github.com/puppycloud/puppycloud/internal/chunkstore"
	"github.com/puppycloud/puppycloud/internal/ratelimit"
	"github.com/puppycloud/puppycloud/internal/storage"
)

// Node is the part of the peer engine the HTTP surface drives.
type Node interface {
	Dial(ctx context.Context, addr string) error
	PeerID() string
	ListenAddrs() []string
	FirstListenAddr() (string, bool)
	Connected() int
}

// Deps are the components a Server serves. Events and Logger are optional.
type Deps struct {
	DB      *storage.DB
	Chunks  *chunkstore.Store
	Auth    *auth.Service
	Invites *auth.Invites
	Node    Node
	Events  http.Handler
	Logger  *slog.Logger
	Now     func() time.Time
}

// Server is the main HTTP server for the node API.
type Server struct {
	db       *storage.DB
	chunks   *chunkstore.Store
	auth     *auth.Service
	invites  *auth.Invites
	node     Node
	events   http.Handler
	log      *slog.Logger
	now      func() time.Time
	limiter  *ratelimit.Keyed
	validate *validator.Validate
	router   chi.Router
}

// Requests per minute per client IP on login and dial.
const limitPerMinute = 10

// New creates a new Server with all routes registered.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	s := &Server{
		db:       d.DB,
		chunks:   d.Chunks,
		auth:     d.Auth,
		invites:  d.Invites,
		node:     d.Node,
		events:   d.Events,
		log:      d.Logger.With("component", "http"),
		now:      d.Now,
		limiter:  ratelimit.NewKeyed(limitPerMinute, time.Minute),
		validate: validator.New(),
		router:   chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	limited := s.limiter.Middleware(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})

	// Public
	r.Post("/auth/set_password", s.handleSetPassword)
	r.With(limited).Post("/auth/login", s.handleLogin)
	r.Get("/chunks/{id}", s.handleGetChunk)
	r.Get("/manifests/{id}", s.handleGetManifest)
	r.Get("/p2p/info", s.handleP2PInfo)
	r.Get("/p2p/peers", s.handleP2PPeers)
	r.With(limited).Post("/p2p/dial", s.handleP2PDial)

	// Session required
	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Post("/auth/logout", s.handleLogout)
		r.Post("/upload", s.handleUpload)
		r.Post("/p2p/invite", s.handleP2PInvite)
		if s.events != nil {
			r.Get("/p2p/events", s.events.ServeHTTP)
		}
	})
}

// handleHealth returns a plain-text liveness response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

var errInvalidJSON = errors.New("invalid json")

// decodeJSON decodes the body into v and runs struct validation. Malformed
// bodies yield errInvalidJSON.
func (s *Server) decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errInvalidJSON
	}
	return s.validate.Struct(v)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeInternal logs err and answers 500 with its text.
func (s *Server) writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("request failed", "method", r.Method, "path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()), "err", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}
