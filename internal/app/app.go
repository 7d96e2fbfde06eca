// Package app wires the node together and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/puppycloud/puppycloud/internal/auth"
	"github.com/puppycloud/puppycloud/internal/chunkstore"
	"github.com/puppycloud/puppycloud/internal/config"
	"github.com/puppycloud/puppycloud/internal/mesh"
	"github.com/puppycloud/puppycloud/internal/p2p"
	"github.com/puppycloud/puppycloud/internal/server"
	"github.com/puppycloud/puppycloud/internal/storage"
)

const (
	// Addresses redialed at startup.
	recentPeerLimit  = 32
	recentPeerWindow = 7 * 24 * time.Hour

	shutdownTimeout = 5 * time.Second
)

// App is a fully wired node.
type App struct {
	cfg    *config.Config
	log    *slog.Logger
	db     *storage.DB
	engine *p2p.Engine
	srv    *server.Server
	ln     net.Listener
}

// New opens the data directory and database, loads the node identity and
// builds the peer engine and HTTP server. Nothing listens yet.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	chunks, err := chunkstore.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	priv, id, err := p2p.LoadOrCreateIdentity(db, time.Now())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load identity: %w", err)
	}
	logger.Info("node identity", "peer_id", id.String())

	hub := mesh.NewHub(logger)
	engine, err := p2p.New(priv, db, p2p.Config{
		ListenAddr: cfg.P2PListen,
		EnableMDNS: cfg.MDNS,
		Observer:   hub,
		Logger:     logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	srv := server.New(server.Deps{
		DB:      db,
		Chunks:  chunks,
		Auth:    auth.NewService(db, auth.NewSessions(), nil),
		Invites: auth.NewInvites(),
		Node:    engine,
		Events:  hub,
		Logger:  logger,
	})

	return &App{cfg: cfg, log: logger, db: db, engine: engine, srv: srv}, nil
}

// Start brings the peer engine up, queues bootstrap dials and binds the HTTP
// listener.
func (a *App) Start(ctx context.Context) error {
	if err := a.engine.Start(ctx); err != nil {
		return err
	}
	if err := a.dialBootstrap(ctx); err != nil {
		return err
	}
	ln, err := BindHTTP(a.cfg.HTTPBind, a.log)
	if err != nil {
		return err
	}
	a.ln = ln
	a.srv.StartWorkers(ctx)
	a.log.Info("HTTP listening", "addr", ln.Addr().String())
	return nil
}

// dialBootstrap queues recently seen peer addresses, then the configured ones.
func (a *App) dialBootstrap(ctx context.Context) error {
	since := time.Now().Add(-recentPeerWindow).Unix()
	recent, err := a.db.RecentPeerAddrs(recentPeerLimit, &since)
	if err != nil {
		a.log.Warn("load recent peers", "err", err)
	}
	for _, pa := range recent {
		if err := a.engine.Dial(ctx, pa.Addr); err != nil {
			return err
		}
	}
	for _, addr := range a.cfg.Peers {
		if err := a.engine.Dial(ctx, addr); err != nil {
			return err
		}
	}
	a.log.Info("bootstrap dials queued", "recent", len(recent), "configured", len(a.cfg.Peers))
	return nil
}

// Addr returns the bound HTTP address. It is nil before Start.
func (a *App) Addr() net.Addr {
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// PeerID returns the node's peer id.
func (a *App) PeerID() string { return a.engine.PeerID() }

// Serve handles HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Serve(ctx context.Context) error {
	if a.ln == nil {
		return errors.New("serve before start")
	}
	hs := &http.Server{
		Handler:           a.srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- hs.Serve(a.ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops the peer engine and closes the database.
func (a *App) Close() error {
	engErr := a.engine.Close()
	dbErr := a.db.Close()
	if a.ln != nil {
		a.ln.Close()
	}
	return errors.Join(engErr, dbErr)
}

// BindHTTP listens on addr. If the address is taken it retries once on an
// OS-chosen port of the same host.
func BindHTTP(addr string, log *slog.Logger) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err == nil {
		return ln, nil
	}
	if !errors.Is(err, syscall.EADDRINUSE) {
		return nil, fmt.Errorf("bind http %s: %w", addr, err)
	}

	host, _, splitErr := net.SplitHostPort(addr)
	if splitErr != nil {
		return nil, fmt.Errorf("bind http %s: %w", addr, err)
	}
	fallback := net.JoinHostPort(host, "0")
	log.Warn("HTTP address in use, falling back", "addr", addr, "fallback", fallback)
	ln, err = net.Listen("tcp", fallback)
	if err != nil {
		return nil, fmt.Errorf("bind http %s: %w", fallback, err)
	}
	return ln, nil
}
