package directory

import (
	"context"
	"sync"
)

// Memory is an in-process Reader for dev mode and tests.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewMemory returns a directory seeded with profiles.
func NewMemory(profiles ...Profile) *Memory {
	m := &Memory{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		m.profiles[p.ID] = p
	}
	return m
}

// Put inserts or replaces a profile.
func (m *Memory) Put(p Profile) {
	m.mu.Lock()
	m.profiles[p.ID] = p
	m.mu.Unlock()
}

func (m *Memory) Get(ctx context.Context, id string) (*ProfileSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok {
		return nil, nil
	}
	s := p.ProfileSummary
	return &s, nil
}

func (m *Memory) GetMany(ctx context.Context, ids []string) (map[string]ProfileSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ProfileSummary, len(ids))
	for _, id := range ids {
		if p, ok := m.profiles[id]; ok {
			out[id] = p.ProfileSummary
		}
	}
	return out, nil
}

func (m *Memory) Email(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.profiles[id].Email, nil
}
