package ledger

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore is an in-memory wallet store for demo/development mode.
type MemoryStore struct {
	wallets map[string]*Wallet
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{wallets: make(map[string]*Wallet)}
}

func (m *MemoryStore) Insert(ctx context.Context, w *Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.wallets[w.ID]; ok {
		return errors.New("wallet id already exists")
	}
	cp := *w
	m.wallets[w.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[id]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) GetByOwner(ctx context.Context, ownerID, asset string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.wallets {
		if w.OwnerID == ownerID && w.Asset == asset && ownerID != "" {
			cp := *w
			return &cp, nil
		}
	}
	return nil, ErrWalletNotFound
}

func (m *MemoryStore) List(ctx context.Context) ([]*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

// Apply writes all updates or none. Every wallet is checked before any
// balance is touched.
func (m *MemoryStore) Apply(ctx context.Context, updates []BalanceUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range updates {
		if _, ok := m.wallets[u.WalletID]; !ok {
			return ErrWalletNotFound
		}
	}
	for _, u := range updates {
		w := m.wallets[u.WalletID]
		w.ConfirmedSats = u.ConfirmedSats
		w.PendingSats = u.PendingSats
		if !u.SyncedAt.IsZero() {
			w.LastSyncAt = u.SyncedAt
		}
	}
	return nil
}
