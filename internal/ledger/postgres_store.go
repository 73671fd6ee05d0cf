package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Insert(ctx context.Context, w *Wallet) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallets (id, owner_id, asset, address, private_key, kind,
			required_sigs, total_keys, public_keys,
			confirmed_sats, pending_sats, created_at, last_sync_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, w.ID, nullEmpty(w.OwnerID), w.Asset, w.Address, w.PrivateKey, string(w.Kind),
		w.RequiredSigs, w.TotalKeys, pq.Array(w.PublicKeys),
		w.ConfirmedSats, w.PendingSats, w.CreatedAt, w.LastSyncAt)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Wallet, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `
		SELECT id, owner_id, asset, address, private_key, kind,
			required_sigs, total_keys, public_keys,
			confirmed_sats, pending_sats, created_at, last_sync_at
		FROM wallets WHERE id = $1
	`, id))
}

func (p *PostgresStore) GetByOwner(ctx context.Context, ownerID, asset string) (*Wallet, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `
		SELECT id, owner_id, asset, address, private_key, kind,
			required_sigs, total_keys, public_keys,
			confirmed_sats, pending_sats, created_at, last_sync_at
		FROM wallets WHERE owner_id = $1 AND asset = $2
	`, ownerID, asset))
}

func (p *PostgresStore) List(ctx context.Context) ([]*Wallet, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, owner_id, asset, address, private_key, kind,
			required_sigs, total_keys, public_keys,
			confirmed_sats, pending_sats, created_at, last_sync_at
		FROM wallets ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Apply writes all balance updates in one transaction. The confirmed_sats
// CHECK constraint backstops the ledger's own non-negative guard.
func (p *PostgresStore) Apply(ctx context.Context, updates []BalanceUpdate) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, u := range updates {
		res, err := tx.ExecContext(ctx, `
			UPDATE wallets
			SET confirmed_sats = $2, pending_sats = $3, last_sync_at = $4
			WHERE id = $1
		`, u.WalletID, u.ConfirmedSats, u.PendingSats, u.SyncedAt)
		if err != nil {
			return fmt.Errorf("update wallet %s: %w", u.WalletID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrWalletNotFound
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *PostgresStore) scanOne(row rowScanner) (*Wallet, error) {
	w, err := scanWallet(row)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func scanWallet(row rowScanner) (*Wallet, error) {
	var (
		w     Wallet
		owner sql.NullString
		kind  string
		keys  pq.StringArray
	)
	err := row.Scan(&w.ID, &owner, &w.Asset, &w.Address, &w.PrivateKey, &kind,
		&w.RequiredSigs, &w.TotalKeys, &keys,
		&w.ConfirmedSats, &w.PendingSats, &w.CreatedAt, &w.LastSyncAt)
	if err != nil {
		return nil, err
	}
	w.OwnerID = owner.String
	w.Kind = Kind(kind)
	w.PublicKeys = []string(keys)
	return &w, nil
}

func nullEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
