package session

import (
	"context"
	"slices"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	current Session
	lock    sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) AccessToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.current.AccessToken, nil
}

func (m *MemoryStore) RefreshToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.current.RefreshToken, nil
}

func (m *MemoryStore) SaveAll(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.current = Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		User:         slices.Clone(s.User),
	}
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.current = Session{}
	return nil
}

// Load returns a copy of the whole session.
func (m *MemoryStore) Load(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.lock.RLock()
	defer m.lock.RUnlock()
	s := m.current
	s.User = slices.Clone(s.User)
	return s, nil
}
