package subscription

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory subscription store for development and tests
type MemoryStore struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	byUser map[string]string // userID -> subscription ID
	tiers  map[string]string
}

// NewMemoryStore creates an empty in-memory subscription store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:   make(map[string]*Subscription),
		byUser: make(map[string]string),
		tiers:  make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *sub
	m.subs[sub.ID] = &cp
	m.byUser[sub.UserID] = sub.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[sub.ID]; !ok {
		return ErrSubscriptionNotFound
	}
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemoryStore) GetByUser(ctx context.Context, userID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUser[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *m.subs[id]
	return &cp, nil
}

func (m *MemoryStore) SetTier(ctx context.Context, userID, tier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tiers[userID] = tier
	return nil
}

func (m *MemoryStore) GetTier(ctx context.Context, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.tiers[userID], nil
}
