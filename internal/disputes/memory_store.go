package disputes

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory dispute store for development and tests
type MemoryStore struct {
	mu       sync.RWMutex
	disputes map[string]*Dispute
	order    []string
}

// NewMemoryStore creates an empty in-memory dispute store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{disputes: make(map[string]*Dispute)}
}

func (m *MemoryStore) Create(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *d
	m.disputes[d.ID] = &cp
	m.order = append(m.order, d.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[d.ID]; !ok {
		return ErrDisputeNotFound
	}
	cp := *d
	m.disputes[d.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status string, limit int) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Dispute
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		d := m.disputes[m.order[i]]
		if status == "" || d.Status == status {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Dispute
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		d := m.disputes[m.order[i]]
		if d.ComplainantID == userID || d.RespondentID == userID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}
