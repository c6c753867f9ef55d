// Package auth determines the local user. The session itself lives in the backend's cookies; the last verified
// user is kept in the local cache so the client keeps working while the backend is unreachable.
package auth

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/walkingbuddy/globals"
	"github.com/tcriess/walkingbuddy/normalize"
	"github.com/tcriess/walkingbuddy/persistence"
	"github.com/tcriess/walkingbuddy/types"
)

type Backend interface {
	Verify(ctx context.Context) (types.Record, error)
	Logout(ctx context.Context) error
}

// Source tells where the user returned by Verify came from.
type Source int

const (
	SourceNone Source = iota
	SourceServer
	SourceCache
)

func (s Source) String() string {
	switch s {
	case SourceServer:
		return "server"
	case SourceCache:
		return "cache"
	}
	return "none"
}

type Session struct {
	backend Backend
	cache   *persistence.LocalCache
	logger  hclog.Logger

	mu   sync.RWMutex
	user *types.User
}

func NewSession(backend Backend, cache *persistence.LocalCache) *Session {
	return &Session{
		backend: backend,
		cache:   cache,
		logger:  globals.AppLogger.Named("auth"),
	}
}

// Verify asks the backend for the session's user and stores it. If the backend does not confirm a session, the
// stored user is used instead. A nil user means logged out.
func (s *Session) Verify(ctx context.Context) (*types.User, Source) {
	raw, err := s.backend.Verify(ctx)
	if err == nil && len(raw) > 0 {
		s.cache.SaveUser(raw)
		return s.set(normalize.User(raw)), SourceServer
	}
	if err != nil {
		s.logger.Debug("session not verified", "error", err)
	}
	if raw, ok := s.cache.LoadUser(); ok {
		return s.set(normalize.User(raw)), SourceCache
	}
	return s.set(nil), SourceNone
}

// User returns the user determined by the last Verify.
func (s *Session) User() *types.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Logout ends the server session (errors are ignored) and forgets the stored user.
func (s *Session) Logout(ctx context.Context) {
	if err := s.backend.Logout(ctx); err != nil {
		s.logger.Info("logout failed", "error", err)
	}
	s.cache.ClearUser()
	s.set(nil)
}

func (s *Session) set(user *types.User) *types.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
	return user
}
