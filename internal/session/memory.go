// Package session stores in-progress conversations between turns.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"home-orchestrator/internal/domain"
)

// MemoryStore keeps sessions in process memory. Sessions idle for longer
// than the idle timeout are treated as absent and evicted by the sweeper.
type MemoryStore struct {
	idle   time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*domain.Session
	onExpire func(*domain.Session)
}

func NewMemoryStore(idle time.Duration, logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		idle:     idle,
		now:      time.Now,
		logger:   logger,
		sessions: make(map[string]*domain.Session),
	}
}

// OnExpire registers fn to be called with every session dropped for idleness.
func (m *MemoryStore) OnExpire(fn func(*domain.Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = fn
}

func (m *MemoryStore) Load(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok && m.expired(s) {
		delete(m.sessions, id)
		hook := m.onExpire
		m.mu.Unlock()
		m.expire(hook, s)
		return domain.NewSession(id), nil
	}
	m.mu.Unlock()

	if !ok {
		return domain.NewSession(id), nil
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, s *domain.Session) error {
	c := s.Clone()
	c.UpdatedAt = m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = c
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep evicts idle sessions and returns how many were dropped.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	var dropped []*domain.Session
	for id, s := range m.sessions {
		if m.expired(s) {
			delete(m.sessions, id)
			dropped = append(dropped, s)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, s := range dropped {
		m.expire(hook, s)
	}
	return len(dropped)
}

// StartSweeper runs Sweep every interval until ctx is done.
func (m *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Sweep(); n > 0 {
					m.logger.Info("evicted idle sessions", "count", n)
				}
			}
		}
	}()
}

func (m *MemoryStore) expired(s *domain.Session) bool {
	return m.idle > 0 && m.now().Sub(s.UpdatedAt) > m.idle
}

func (m *MemoryStore) expire(hook func(*domain.Session), s *domain.Session) {
	m.logger.Debug("session idle, resetting", "session_id", s.ID, "pending", s.PendingQuestion)
	if hook != nil {
		hook(s)
	}
}
