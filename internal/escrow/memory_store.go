package escrow

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore is an in-memory deal store for demo/development mode.
type MemoryStore struct {
	deals    map[string]*Deal
	disputes map[string]*Dispute
	order    []string // deal IDs in creation order
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory deal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deals:    make(map[string]*Deal),
		disputes: make(map[string]*Dispute),
	}
}

func (m *MemoryStore) Create(ctx context.Context, deal *Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.deals[deal.ID]; ok {
		return errors.New("deal id already exists")
	}
	cp := *deal
	m.deals[deal.ID] = &cp
	m.order = append(m.order, deal.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.deals[id]
	if !ok {
		return nil, ErrDealNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, deal *Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.deals[deal.ID]; !ok {
		return ErrDealNotFound
	}
	cp := *deal
	m.deals[deal.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Deal
	for _, id := range m.order {
		if len(out) >= limit {
			break
		}
		if d := m.deals[id]; d.Status == status {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListByParticipant(ctx context.Context, userID string, limit int) ([]*Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Deal
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		d := m.deals[m.order[i]]
		if d.BuyerID == userID || d.SellerID == userID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateDispute(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[d.ID]; ok {
		return errors.New("dispute id already exists")
	}
	cp := *d
	m.disputes[d.ID] = &cp
	return nil
}

func (m *MemoryStore) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) UpdateDispute(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[d.ID]; !ok {
		return ErrDisputeNotFound
	}
	cp := *d
	m.disputes[d.ID] = &cp
	return nil
}
