package payments

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory maps (for development/testing)
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Intent
	byRef   map[string]*Intent
	ordered []*Intent
}

// NewMemoryStore creates a new in-memory intent store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*Intent),
		byRef: make(map[string]*Intent),
	}
}

// Create stores a new intent
func (s *MemoryStore) Create(ctx context.Context, intent *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	copied := *intent
	copied.CreatedAt = now
	copied.UpdatedAt = now
	s.byID[copied.ID] = &copied
	s.byRef[copied.Reference] = &copied
	s.ordered = append(s.ordered, &copied)

	intent.CreatedAt = now
	intent.UpdatedAt = now
	return nil
}

// GetByID retrieves an intent by ID
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intent, ok := s.byID[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	copied := *intent
	return &copied, nil
}

// GetByReference retrieves an intent by gateway reference
func (s *MemoryStore) GetByReference(ctx context.Context, reference string) (*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intent, ok := s.byRef[reference]
	if !ok {
		return nil, ErrIntentNotFound
	}
	copied := *intent
	return &copied, nil
}

// MarkStatus transitions an intent's status
func (s *MemoryStore) MarkStatus(ctx context.Context, id, status string, paidAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.byID[id]
	if !ok {
		return ErrIntentNotFound
	}
	intent.Status = status
	intent.PaidAt = paidAt
	intent.UpdatedAt = time.Now()
	return nil
}

// ListByUser returns a user's intents, newest first
func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Intent
	for i := len(s.ordered) - 1; i >= 0 && len(result) < limit; i-- {
		if s.ordered[i].UserID != userID {
			continue
		}
		copied := *s.ordered[i]
		result = append(result, &copied)
	}
	return result, nil
}
