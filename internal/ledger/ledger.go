// Package ledger is the authoritative record of per-wallet balances.
//
// Flow:
//  1. A wallet is registered with a freshly generated key (user or escrow)
//  2. Deal operations move confirmed/pending satoshis between wallets
//  3. The reconciliation sweep overwrites confirmed balances from chain state
//
// Confirmed balances never go negative. Pending balances are bookkeeping
// for counterpart-side credits, not chain state; reductions clamp at zero.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/safeswap/escrowcore/internal/idgen"
	"github.com/safeswap/escrowcore/internal/keycodec"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// Kind distinguishes single-key wallets from multisig ones. Multisig is
// metadata only; the engine never coordinates multisig spends.
type Kind string

const (
	KindSingle   Kind = "single"
	KindMultisig Kind = "multisig"
)

// Wallet is a ledger-tracked wallet. OwnerID is empty for escrow wallets,
// which belong to no user.
type Wallet struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId,omitempty"`
	Asset         string    `json:"asset"`
	Address       string    `json:"address"`
	PrivateKey    string    `json:"-"` // WIF
	Kind          Kind      `json:"kind"`
	RequiredSigs  int       `json:"requiredSigs,omitempty"`
	TotalKeys     int       `json:"totalKeys,omitempty"`
	PublicKeys    []string  `json:"publicKeys,omitempty"`
	ConfirmedSats int64     `json:"confirmedSats"`
	PendingSats   int64     `json:"pendingSats"`
	CreatedAt     time.Time `json:"createdAt"`
	LastSyncAt    time.Time `json:"lastSyncAt"`
}

// Change is one wallet's balance adjustment within an atomic unit.
type Change struct {
	WalletID       string
	ConfirmedDelta int64
	PendingDelta   int64
}

// Store persists wallets. Apply commits a set of balance updates as one
// all-or-nothing unit.
type Store interface {
	Insert(ctx context.Context, w *Wallet) error
	Get(ctx context.Context, id string) (*Wallet, error)
	GetByOwner(ctx context.Context, ownerID, asset string) (*Wallet, error)
	List(ctx context.Context) ([]*Wallet, error)
	Apply(ctx context.Context, updates []BalanceUpdate) error
}

// BalanceUpdate is the committed result of a Change: absolute balances to
// write for one wallet.
type BalanceUpdate struct {
	WalletID      string
	ConfirmedSats int64
	PendingSats   int64
	SyncedAt      time.Time
}

// Ledger serializes all balance mutations behind one process-wide mutex.
// Every mutation is read-compute-write under the lock and commits via a
// single Store.Apply call. The lock is never held across a network call.
type Ledger struct {
	store Store
	mu    sync.Mutex
}

// New creates a ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// NewWallet generates a key pair, derives its address, and registers a
// wallet for the owner.
func (l *Ledger) NewWallet(ctx context.Context, ownerID, asset string) (*Wallet, error) {
	return l.createWallet(ctx, ownerID, asset)
}

// NewEscrowWallet generates an intermediary wallet owned by no user. One is
// created per deal to hold funds in custody.
func (l *Ledger) NewEscrowWallet(ctx context.Context, asset string) (*Wallet, error) {
	return l.createWallet(ctx, "", asset)
}

func (l *Ledger) createWallet(ctx context.Context, ownerID, asset string) (*Wallet, error) {
	key, err := keycodec.Generate()
	if err != nil {
		return nil, err
	}
	addr, err := key.Address()
	if err != nil {
		return nil, err
	}
	wif, err := key.WIF()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	w := &Wallet{
		ID:         idgen.WithPrefix("wal_"),
		OwnerID:    ownerID,
		Asset:      asset,
		Address:    addr,
		PrivateKey: wif,
		Kind:       KindSingle,
		CreatedAt:  now,
		LastSyncAt: now,
	}
	if err := l.store.Insert(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Register inserts a wallet whose key material already exists (imports,
// multisig metadata wallets).
func (l *Ledger) Register(ctx context.Context, w *Wallet) error {
	if w.ID == "" {
		w.ID = idgen.WithPrefix("wal_")
	}
	if w.Kind == "" {
		w.Kind = KindSingle
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	return l.store.Insert(ctx, w)
}

// Get returns a snapshot of a wallet. Reads are unsynchronized.
func (l *Ledger) Get(ctx context.Context, id string) (*Wallet, error) {
	return l.store.Get(ctx, id)
}

// GetByOwner returns the owner's wallet for an asset.
func (l *Ledger) GetByOwner(ctx context.Context, ownerID, asset string) (*Wallet, error) {
	return l.store.GetByOwner(ctx, ownerID, asset)
}

// List returns snapshots of all wallets.
func (l *Ledger) List(ctx context.Context) ([]*Wallet, error) {
	return l.store.List(ctx)
}

// Credit adds sats to a wallet's confirmed balance.
func (l *Ledger) Credit(ctx context.Context, walletID string, sats int64) error {
	if sats <= 0 {
		return ErrInvalidAmount
	}
	return l.Adjust(ctx, Change{WalletID: walletID, ConfirmedDelta: sats})
}

// Debit removes sats from a wallet's confirmed balance. Fails with
// ErrInsufficientBalance if the balance would go negative.
func (l *Ledger) Debit(ctx context.Context, walletID string, sats int64) error {
	if sats <= 0 {
		return ErrInvalidAmount
	}
	return l.Adjust(ctx, Change{WalletID: walletID, ConfirmedDelta: -sats})
}

// AddPending records a counterpart-side promised credit.
func (l *Ledger) AddPending(ctx context.Context, walletID string, sats int64) error {
	if sats <= 0 {
		return ErrInvalidAmount
	}
	return l.Adjust(ctx, Change{WalletID: walletID, PendingDelta: sats})
}

// SubPending removes a promised credit. Clamps at zero.
func (l *Ledger) SubPending(ctx context.Context, walletID string, sats int64) error {
	if sats <= 0 {
		return ErrInvalidAmount
	}
	return l.Adjust(ctx, Change{WalletID: walletID, PendingDelta: -sats})
}

// Move debits one wallet and credits another in a single atomic unit.
func (l *Ledger) Move(ctx context.Context, fromID, toID string, sats int64) error {
	if sats <= 0 {
		return ErrInvalidAmount
	}
	return l.Adjust(ctx,
		Change{WalletID: fromID, ConfirmedDelta: -sats},
		Change{WalletID: toID, ConfirmedDelta: sats},
	)
}

// SetConfirmed overwrites a wallet's confirmed balance with a fresh
// chain-derived value and stamps LastSyncAt. Used by reconciliation.
func (l *Ledger) SetConfirmed(ctx context.Context, walletID string, sats int64) error {
	if sats < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	w, err := l.store.Get(ctx, walletID)
	if err != nil {
		return err
	}
	return l.store.Apply(ctx, []BalanceUpdate{{
		WalletID:      w.ID,
		ConfirmedSats: sats,
		PendingSats:   w.PendingSats,
		SyncedAt:      time.Now(),
	}})
}

// Adjust applies a set of balance deltas as one atomic unit. All wallets
// are read, new balances computed and validated, then committed in a single
// store call. Any failure leaves every balance untouched.
func (l *Ledger) Adjust(ctx context.Context, changes ...Change) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	updates := make([]BalanceUpdate, 0, len(changes))
	for _, c := range changes {
		w, err := l.store.Get(ctx, c.WalletID)
		if err != nil {
			return err
		}
		confirmed := w.ConfirmedSats + c.ConfirmedDelta
		if confirmed < 0 {
			return ErrInsufficientBalance
		}
		pending := w.PendingSats + c.PendingDelta
		if pending < 0 {
			pending = 0
		}
		updates = append(updates, BalanceUpdate{
			WalletID:      w.ID,
			ConfirmedSats: confirmed,
			PendingSats:   pending,
			SyncedAt:      w.LastSyncAt,
		})
	}
	return l.store.Apply(ctx, updates)
}
