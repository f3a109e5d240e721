package conversation

import (
	"context"
	"sync"
	"time"
)

type managed struct {
	mu      sync.Mutex
	session *Session
	touched time.Time
}

// Manager holds live sessions for a process. Messages to one session are
// processed one at a time; different sessions run in parallel. Sessions idle
// for longer than TTL are dropped the next time the registry is accessed.
type Manager struct {
	Engine Engine
	TTL    time.Duration

	mu       sync.Mutex
	sessions map[string]*managed
}

func NewManager(e Engine, ttl time.Duration) *Manager {
	return &Manager{Engine: e, TTL: ttl, sessions: map[string]*managed{}}
}

// Create starts a new session and returns its snapshot.
func (m *Manager) Create(memberID string) Snapshot {
	s := m.Engine.NewSession(memberID)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked()
	if m.sessions == nil {
		m.sessions = map[string]*managed{}
	}
	m.sessions[s.ID] = &managed{session: s, touched: m.Engine.now()}
	return s.Snapshot()
}

func (m *Manager) Get(id string) (Snapshot, error) {
	var snap Snapshot
	err := m.with(id, func(s *Session) error {
		snap = s.Snapshot()
		return nil
	})
	return snap, err
}

// Message processes text on session id.
func (m *Manager) Message(ctx context.Context, id, text string) (Reply, error) {
	var reply Reply
	err := m.with(id, func(s *Session) error {
		reply = m.Engine.ProcessMessage(ctx, s, text)
		return nil
	})
	return reply, err
}

func (m *Manager) Reset(id string) (Snapshot, error) {
	var snap Snapshot
	err := m.with(id, func(s *Session) error {
		m.Engine.Reset(s)
		snap = s.Snapshot()
		return nil
	})
	return snap, err
}

// Submit persists session id. The snapshot reflects the session after the
// attempt, successful or not.
func (m *Manager) Submit(ctx context.Context, id string) (string, Snapshot, error) {
	var (
		reqID string
		snap  Snapshot
	)
	err := m.with(id, func(s *Session) error {
		var err error
		reqID, err = m.Engine.Submit(ctx, s)
		snap = s.Snapshot()
		return err
	})
	return reqID, snap, err
}

// Authorize checks that memberID may act on session id. Sessions started
// without a member are open to any caller.
func (m *Manager) Authorize(id, memberID string) error {
	return m.with(id, func(s *Session) error {
		if s.MemberID != "" && s.MemberID != memberID {
			return ErrSessionForbidden
		}
		return nil
	})
}

func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked()
	return len(m.sessions)
}

func (m *Manager) with(id string, fn func(*Session) error) error {
	m.mu.Lock()
	m.evictLocked()
	entry, ok := m.sessions[id]
	if ok {
		entry.touched = m.Engine.now()
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return fn(entry.session)
}

func (m *Manager) evictLocked() {
	if m.TTL <= 0 {
		return
	}
	cutoff := m.Engine.now().Add(-m.TTL)
	for id, entry := range m.sessions {
		if entry.touched.Before(cutoff) {
			delete(m.sessions, id)
		}
	}
}
