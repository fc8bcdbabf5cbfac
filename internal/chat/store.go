package chat

import (
	"context"
	"sync"

	"github.com/samer-khoury/mizan/models"
)

// Store is the durable keyed collection of chat sessions plus per-user
// ordering metadata and a current-session pointer. Operations are
// last-write-wins; no cross-session transaction exists or is needed because
// the engine serializes writes per session.
type Store interface {
	// Get returns the session or models.ErrSessionNotFound.
	Get(ctx context.Context, userID, sessionID string) (*models.Session, error)
	// Put writes the whole session value.
	Put(ctx context.Context, sess *models.Session) error
	// List returns every session of the user keyed by id.
	List(ctx context.Context, userID string) (map[string]*models.Session, error)
	// Order returns session ids newest-first.
	Order(ctx context.Context, userID string) ([]string, error)
	// SaveOrder replaces the ordering list.
	SaveOrder(ctx context.Context, userID string, ids []string) error
	// Current returns the current-session pointer, "" when unset.
	Current(ctx context.Context, userID string) (string, error)
	// SetCurrent moves the current-session pointer.
	SetCurrent(ctx context.Context, userID, sessionID string) error
	// Delete removes one session. Removing a missing session is a no-op.
	Delete(ctx context.Context, userID, sessionID string) error
	// ClearAll removes every session, the order list and the current pointer.
	// Idempotent.
	ClearAll(ctx context.Context, userID string) error
}

// MemoryStore keeps sessions in process memory. Used by tests and as the
// degraded mode when Redis is unavailable.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*models.Session // userID -> sessionID -> session
	order    map[string][]string
	current  map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]map[string]*models.Session),
		order:    make(map[string][]string),
		current:  make(map[string]string),
	}
}

func cloneSession(s *models.Session) *models.Session {
	out := *s
	out.Messages = make([]models.Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return &out
}

func (m *MemoryStore) Get(_ context.Context, userID, sessionID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[userID][sessionID]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return cloneSession(sess), nil
}

func (m *MemoryStore) Put(_ context.Context, sess *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[sess.UserID] == nil {
		m.sessions[sess.UserID] = make(map[string]*models.Session)
	}
	m.sessions[sess.UserID][sess.ID] = cloneSession(sess)
	return nil
}

func (m *MemoryStore) List(_ context.Context, userID string) (map[string]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*models.Session, len(m.sessions[userID]))
	for id, sess := range m.sessions[userID] {
		out[id] = cloneSession(sess)
	}
	return out, nil
}

func (m *MemoryStore) Order(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order[userID]...), nil
}

func (m *MemoryStore) SaveOrder(_ context.Context, userID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order[userID] = append([]string(nil), ids...)
	return nil
}

func (m *MemoryStore) Current(_ context.Context, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current[userID], nil
}

func (m *MemoryStore) SetCurrent(_ context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current[userID] = sessionID
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions[userID], sessionID)
	order := m.order[userID]
	for i, id := range order {
		if id == sessionID {
			m.order[userID] = append(order[:i], order[i+1:]...)
			break
		}
	}
	if m.current[userID] == sessionID {
		delete(m.current, userID)
	}
	return nil
}

func (m *MemoryStore) ClearAll(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	delete(m.order, userID)
	delete(m.current, userID)
	return nil
}
