package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/layer-3/passport"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

type verifierEntry struct {
	verifier ports.OAuthVerifier
	expiry   time.Time
}

// MemoryStore is an in-memory implementation of the Store interface
type MemoryStore struct {
	mu                sync.RWMutex
	invalidatedTokens map[string]time.Time
	verifiers         map[string]verifierEntry
	sessions          map[string]core.CurrentSession
	now               func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invalidatedTokens: make(map[string]time.Time),
		verifiers:         make(map[string]verifierEntry),
		sessions:          make(map[string]core.CurrentSession),
		now:               time.Now,
	}
}

var _ ports.Store = (*MemoryStore)(nil)

// InvalidateToken marks a token as invalidated
func (s *MemoryStore) InvalidateToken(_ context.Context, tokenID string, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invalidatedTokens[tokenID] = s.now().Add(expiry)
	s.sweepLocked()
	return nil
}

// IsTokenInvalidated checks if a token is invalidated
func (s *MemoryStore) IsTokenInvalidated(_ context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiryTime, exists := s.invalidatedTokens[tokenID]
	if !exists {
		return false, nil
	}
	return s.now().Before(expiryTime), nil
}

// SaveVerifier keeps v under state for ttl
func (s *MemoryStore) SaveVerifier(_ context.Context, state string, v ports.OAuthVerifier, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.verifiers[state] = verifierEntry{verifier: v, expiry: s.now().Add(ttl)}
	s.sweepLocked()
	return nil
}

// ConsumeVerifier returns the verifier stored under state and forgets it
func (s *MemoryStore) ConsumeVerifier(_ context.Context, state string) (ports.OAuthVerifier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.verifiers[state]
	delete(s.verifiers, state)
	if !ok || !s.now().Before(e.expiry) {
		return ports.OAuthVerifier{}, fmt.Errorf("oauth state %q: %w", state, passport.ErrKeyNotFound)
	}
	return e.verifier, nil
}

func (s *MemoryStore) SaveCurrentSession(_ context.Context, uid string, cs core.CurrentSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[uid] = cs
	return nil
}

func (s *MemoryStore) CurrentSession(_ context.Context, uid string) (core.CurrentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.sessions[uid]
	if !ok {
		return core.CurrentSession{}, fmt.Errorf("current session of %s: %w", uid, passport.ErrKeyNotFound)
	}
	return cs, nil
}

// sweepLocked drops expired entries. Callers hold the write lock.
func (s *MemoryStore) sweepLocked() {
	now := s.now()
	for id, exp := range s.invalidatedTokens {
		if !now.Before(exp) {
			delete(s.invalidatedTokens, id)
		}
	}
	for state, e := range s.verifiers {
		if !now.Before(e.expiry) {
			delete(s.verifiers, state)
		}
	}
}
