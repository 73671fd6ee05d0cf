//go:build integration

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/safeswap/escrowcore/internal/testutil"
)

func setupTestDB(t *testing.T) (*PostgresStore, *sql.DB, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	return NewPostgresStore(db), db, cleanup
}

func testWallet(id, owner string) *Wallet {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Wallet{
		ID:         id,
		OwnerID:    owner,
		Asset:      "BTC",
		Address:    "bc1qtest" + id,
		PrivateKey: "wif-material",
		Kind:       KindSingle,
		CreatedAt:  now,
		LastSyncAt: now,
	}
}

func TestPostgresInsertGet(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	w := testWallet("wal_pg1", "alice")
	if err := store.Insert(ctx, w); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := store.Get(ctx, "wal_pg1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OwnerID != "alice" || got.Asset != "BTC" || got.Address != w.Address {
		t.Errorf("round trip mismatch: %+v", got)
	}

	byOwner, err := store.GetByOwner(ctx, "alice", "BTC")
	if err != nil {
		t.Fatalf("GetByOwner: %v", err)
	}
	if byOwner.ID != "wal_pg1" {
		t.Errorf("GetByOwner id = %q", byOwner.ID)
	}
}

func TestPostgresEscrowWalletNullOwner(t *testing.T) {
	store, db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Insert(ctx, testWallet("wal_pg2", "")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	var owner sql.NullString
	if err := db.QueryRowContext(ctx, "SELECT owner_id FROM wallets WHERE id = 'wal_pg2'").Scan(&owner); err != nil {
		t.Fatalf("query: %v", err)
	}
	if owner.Valid {
		t.Errorf("owner_id stored as %q, want NULL", owner.String)
	}

	got, err := store.Get(ctx, "wal_pg2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OwnerID != "" {
		t.Errorf("OwnerID = %q, want empty", got.OwnerID)
	}
}

func TestPostgresApplyAllOrNothing(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Insert(ctx, testWallet("wal_pg3", "alice")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	err := store.Apply(ctx, []BalanceUpdate{
		{WalletID: "wal_pg3", ConfirmedSats: 500, SyncedAt: time.Now()},
		{WalletID: "wal_missing", ConfirmedSats: 500, SyncedAt: time.Now()},
	})
	if !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("Apply err = %v, want ErrWalletNotFound", err)
	}

	got, err := store.Get(ctx, "wal_pg3")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ConfirmedSats != 0 {
		t.Errorf("confirmed = %d after rolled-back unit, want 0", got.ConfirmedSats)
	}
}
