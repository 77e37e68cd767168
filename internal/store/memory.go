// ABOUTME: In-process implementations of the permanent and session tiers
// ABOUTME: Session records expire after an idle period, mirroring a closed browser tab

package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a PermanentTier held in process memory. Used for tests and
// ephemeral runs.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
	// FailWrites makes every Put return the given error. Test hook for
	// storage-quota style failures.
	FailWrites error
	// FailReads makes every Get return the given error
	FailReads error
}

// NewMemoryStore creates an empty in-memory permanent tier
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads != nil {
		return nil, m.FailReads
	}
	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// sessionBucket holds one tab session's records
type sessionBucket struct {
	values   map[string][]byte
	lastUsed time.Time
}

// MemorySessionStore is a SessionTier held in process memory. Sessions idle
// for longer than the configured TTL are swept by a background goroutine.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionBucket
	idleTTL  time.Duration
	now      func() time.Time
	done     chan struct{}
	closed   bool
	logger   *slog.Logger
}

// NewMemorySessionStore creates a session tier whose sessions expire after
// idleTTL without activity. A zero idleTTL disables expiry.
func NewMemorySessionStore(idleTTL time.Duration) *MemorySessionStore {
	s := &MemorySessionStore{
		sessions: make(map[string]*sessionBucket),
		idleTTL:  idleTTL,
		now:      time.Now,
		done:     make(chan struct{}),
		logger:   slog.Default().With("component", "store", "tier", "session"),
	}
	if idleTTL > 0 {
		go s.cleanupLoop()
	}
	return s
}

// bucket returns the bucket for sessionID, creating it when create is set.
// Must be called with mu held.
func (s *MemorySessionStore) bucket(sessionID string, create bool) *sessionBucket {
	b, ok := s.sessions[sessionID]
	if !ok {
		if !create {
			return nil
		}
		b = &sessionBucket{values: make(map[string][]byte)}
		s.sessions[sessionID] = b
	}
	b.lastUsed = s.now()
	return b
}

func (s *MemorySessionStore) Get(_ context.Context, sessionID, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(sessionID, false)
	if b == nil {
		return nil, ErrNotFound
	}
	v, ok := b.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemorySessionStore) Put(_ context.Context, sessionID, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(sessionID, true).values[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, sessionID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.bucket(sessionID, false); b != nil {
		delete(b.values, key)
	}
	return nil
}

func (s *MemorySessionStore) Keys(_ context.Context, sessionID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(sessionID, false)
	if b == nil {
		return nil, nil
	}
	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// cleanupLoop periodically removes idle sessions
func (s *MemorySessionStore) cleanupLoop() {
	interval := s.idleTTL / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

// sweep removes sessions idle for longer than idleTTL
func (s *MemorySessionStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, b := range s.sessions {
		if now.Sub(b.lastUsed) > s.idleTTL {
			delete(s.sessions, id)
			s.logger.Debug("session expired", "session_id", id)
		}
	}
}

// Close stops the sweeper. It is safe to call multiple times.
func (s *MemorySessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.done)
		s.closed = true
	}
	return nil
}
