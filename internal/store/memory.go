package store

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process repository. Sessions expire lazily on read;
// there is no background sweep because the session count tracks active
// users, not arbitrary client IPs.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]*User // by ID
	byName   map[string]*User // by username
	sessions map[string]*Session
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*User),
		byName:   make(map[string]*User),
		sessions: make(map[string]*Session),
	}
}

func (m *Memory) GetByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, ErrNotFound
}

func (m *Memory) GetByUsername(_ context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.byName[username]; ok {
		return u, nil
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateUser(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[user.Username]; ok {
		return ErrAlreadyExists
	}
	m.users[user.ID] = user
	m.byName[user.Username] = user
	return nil
}

func (m *Memory) CreateSession(_ context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(s.ExpiresAt) {
		delete(m.sessions, id)
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
