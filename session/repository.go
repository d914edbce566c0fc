package session

import (
	"context"
	"sync"
	"time"
)

// Repository persists session records. Implementations return ErrNotFound
// for unknown or expired sessions and wrap backend failures with
// ErrStoreUnavailable.
type Repository interface {
	Insert(ctx context.Context, r *Record) error
	Get(ctx context.Context, sessionID string) (*Record, error)
	// Touch sets LastSeenAt. Revoked sessions yield ErrRevoked.
	Touch(ctx context.Context, sessionID string, at time.Time) error
	// MarkRevoked is idempotent; the first revocation time is kept.
	MarkRevoked(ctx context.Context, sessionID string, at time.Time) error
	// ListByOwner returns every unexpired record of owner, revoked or not,
	// in no particular order.
	ListByOwner(ctx context.Context, owner string) ([]*Record, error)
}

// MemoryRepository keeps records in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
	byOwner map[string]map[string]struct{}
	now     func() time.Time
}

// NewMemoryRepository creates an empty MemoryRepository. A nil now selects
// time.Now.
func NewMemoryRepository(now func() time.Time) *MemoryRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryRepository{
		records: make(map[string]*Record),
		byOwner: make(map[string]map[string]struct{}),
		now:     now,
	}
}

func (m *MemoryRepository) Insert(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[r.SessionID] = r.clone()
	ids, ok := m.byOwner[r.Owner]
	if !ok {
		ids = make(map[string]struct{})
		m.byOwner[r.Owner] = ids
	}
	ids[r.SessionID] = struct{}{}
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, sessionID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[sessionID]
	if !ok || !m.now().Before(r.ExpiresAt) {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

func (m *MemoryRepository) Touch(_ context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[sessionID]
	if !ok || !m.now().Before(r.ExpiresAt) {
		return ErrNotFound
	}
	if r.Revoked {
		return ErrRevoked
	}
	r.LastSeenAt = at
	return nil
}

func (m *MemoryRepository) MarkRevoked(_ context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[sessionID]
	if !ok || !m.now().Before(r.ExpiresAt) {
		return ErrNotFound
	}
	if !r.Revoked {
		r.Revoked = true
		r.RevokedAt = at
	}
	return nil
}

func (m *MemoryRepository) ListByOwner(_ context.Context, owner string) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	ids := m.byOwner[owner]
	out := make([]*Record, 0, len(ids))
	for id := range ids {
		r, ok := m.records[id]
		if !ok || !now.Before(r.ExpiresAt) {
			delete(m.records, id)
			delete(ids, id)
			continue
		}
		out = append(out, r.clone())
	}
	if len(ids) == 0 {
		delete(m.byOwner, owner)
	}
	return out, nil
}
