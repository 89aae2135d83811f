package services

import (
	"context"
	"sync"
	"time"

	"travelflow-backend/metrics"
	"travelflow-backend/repository"

	"go.uber.org/zap"
)

// SessionManager owns one TripRepository per signed-in user.
type SessionManager struct {
	store repository.DocumentStore
	opts  []repository.RepositoryOption

	mu       sync.Mutex
	sessions map[string]*repository.TripRepository
}

func NewSessionManager(store repository.DocumentStore, opts ...repository.RepositoryOption) *SessionManager {
	return &SessionManager{
		store:    store,
		opts:     opts,
		sessions: make(map[string]*repository.TripRepository),
	}
}

// Get returns the user's repository, creating and loading it on first use.
func (m *SessionManager) Get(ctx context.Context, userID string) (*repository.TripRepository, error) {
	m.mu.Lock()
	repo, ok := m.sessions[userID]
	if !ok {
		repo = repository.NewTripRepository(m.store, repository.Session{UserID: userID, StartedAt: time.Now()}, m.opts...)
		m.sessions[userID] = repo
		metrics.ActiveSessions.Inc()
	}
	m.mu.Unlock()

	if err := repo.Load(ctx); err != nil {
		m.mu.Lock()
		if m.sessions[userID] == repo {
			delete(m.sessions, userID)
			metrics.ActiveSessions.Dec()
		}
		m.mu.Unlock()
		repo.Teardown()
		return nil, err
	}
	return repo, nil
}

// End tears down the user's repository, dropping all of their trip data from
// memory. Unsynced changes are flushed first.
func (m *SessionManager) End(ctx context.Context, userID string) {
	m.mu.Lock()
	repo, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if !ok {
		return
	}

	metrics.ActiveSessions.Dec()
	repo.Flush(ctx)
	repo.Teardown()
	zap.L().Info("Session ended", zap.String("user_id", userID))
}

// FlushAll re-sends every repository that holds unsynced changes.
func (m *SessionManager) FlushAll(ctx context.Context) {
	for _, repo := range m.snapshot() {
		repo.Flush(ctx)
	}
}

// RunFlusher calls FlushAll every interval until ctx is done.
func (m *SessionManager) RunFlusher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.FlushAll(ctx)
		}
	}
}

// Close flushes and tears down every session.
func (m *SessionManager) Close(ctx context.Context) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*repository.TripRepository)
	m.mu.Unlock()

	for _, repo := range sessions {
		repo.Flush(ctx)
		repo.Teardown()
		metrics.ActiveSessions.Dec()
	}
}

func (m *SessionManager) snapshot() []*repository.TripRepository {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*repository.TripRepository, 0, len(m.sessions))
	for _, repo := range m.sessions {
		out = append(out, repo)
	}
	return out
}
