package session

import (
	"context"
	"sync"
	"time"

	"github.com/farmaflow/farmaflow-backend/pkg/logger"
)

// MemoryStore keeps sessions in process memory. Suitable for single
// instance deployments; sessions do not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *logger.Logger
	cancel   context.CancelFunc
}

// NewMemoryStore creates an in-memory session store
func NewMemoryStore(log *logger.Logger) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		logger:   log,
	}
}

// Put stores a session with the given TTL
func (s *MemoryStore) Put(ctx context.Context, sess *Session, ttl time.Duration) error {
	sess.ExpiresAt = time.Now().Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = clone(sess)
	return nil
}

// Get fetches a live session. Expired sessions are treated as missing
// even before the sweeper has evicted them. The returned session is a
// copy: callers mutate it freely and persist changes through Put, the
// same contract the Redis store gets from its JSON round-trip.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok || sess.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return clone(sess), nil
}

func clone(sess *Session) *Session {
	out := *sess
	if sess.Product != nil {
		p := *sess.Product
		out.Product = &p
	}
	if sess.Lot != nil {
		l := *sess.Lot
		out.Lot = &l
	}
	return &out
}

// Delete removes a session
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// StartSweeper evicts expired sessions on a timer until the context is
// cancelled or Stop is called.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		s.logger.Info().Dur("interval", interval).Msg("session sweeper started")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("session sweeper stopped")
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// Stop stops the sweeper goroutine
func (s *MemoryStore) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *MemoryStore) sweep() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			evicted++
		}
	}

	if evicted > 0 {
		s.logger.Debug().Int("evicted", evicted).Msg("expired sessions evicted")
	}
}

// Len returns the number of stored sessions, including not-yet-swept
// expired ones. Used by tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
