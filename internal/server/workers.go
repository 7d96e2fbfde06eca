package server

import (
	"context"
	"time"
)

// StartWorkers launches all background goroutines. Call with a cancellable
// context for graceful shutdown.
func (s *Server) StartWorkers(ctx context.Context) {
	go s.runInvitePrune(ctx)
	go s.runLimiterCleanup(ctx)
}

// runInvitePrune drops expired invites every minute.
func (s *Server) runInvitePrune(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Minute):
			if n := s.pruneInvites(); n > 0 {
				s.log.Info("pruned expired invites", "count", n)
			}
		}
	}
}

func (s *Server) pruneInvites() int {
	return s.invites.Prune(s.now().Unix())
}

// runLimiterCleanup forgets clients whose rate window has passed.
func (s *Server) runLimiterCleanup(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Minute):
			s.limiter.Cleanup()
		}
	}
}
