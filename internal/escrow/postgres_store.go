package escrow

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists deals and disputes in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed deal store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const dealColumns = `id, seller_id, buyer_id, initiator_id, asset, amount_sats,
	fee_sats, status, group_id, funding_wallet_id, escrow_wallet_id,
	deducted_sats, auto_transferred, funded_notified, last_partial_notified_sats,
	created_at, updated_at, completed_at`

func (p *PostgresStore) Create(ctx context.Context, deal *Deal) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO deals (`+dealColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, deal.ID, deal.SellerID, deal.BuyerID, deal.InitiatorID, deal.Asset, deal.AmountSats,
		deal.FeeSats, string(deal.Status), nullStr(deal.GroupID),
		nullStr(deal.FundingWalletID), nullStr(deal.EscrowWalletID),
		deal.DeductedSats, deal.AutoTransferred, deal.FundedNotified, deal.LastPartialNotifiedSats,
		deal.CreatedAt, deal.UpdatedAt, deal.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert deal: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Deal, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id)
	deal, err := scanDeal(row)
	if err == sql.ErrNoRows {
		return nil, ErrDealNotFound
	}
	if err != nil {
		return nil, err
	}
	return deal, nil
}

func (p *PostgresStore) Update(ctx context.Context, deal *Deal) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE deals SET status = $2, funding_wallet_id = $3, escrow_wallet_id = $4,
			deducted_sats = $5, auto_transferred = $6, funded_notified = $7,
			last_partial_notified_sats = $8, updated_at = $9, completed_at = $10
		WHERE id = $1
	`, deal.ID, string(deal.Status), nullStr(deal.FundingWalletID), nullStr(deal.EscrowWalletID),
		deal.DeductedSats, deal.AutoTransferred, deal.FundedNotified,
		deal.LastPartialNotifiedSats, deal.UpdatedAt, deal.CompletedAt)
	if err != nil {
		return fmt.Errorf("update deal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDealNotFound
	}
	return nil
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Deal, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE status = $1 ORDER BY created_at LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeals(rows)
}

func (p *PostgresStore) ListByParticipant(ctx context.Context, userID string, limit int) ([]*Deal, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeals(rows)
}

func (p *PostgresStore) CreateDispute(ctx context.Context, d *Dispute) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes (id, deal_id, initiator_id, reason, evidence,
			resolved, outcome, notes, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, d.ID, d.DealID, d.InitiatorID, d.Reason, nullStr(d.Evidence),
		d.Resolved, nullStr(string(d.Outcome)), nullStr(d.Notes), d.CreatedAt, d.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert dispute: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	var (
		d       Dispute
		evid    sql.NullString
		outcome sql.NullString
		notes   sql.NullString
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id, deal_id, initiator_id, reason, evidence, resolved, outcome, notes,
			created_at, resolved_at
		FROM disputes WHERE id = $1
	`, id).Scan(&d.ID, &d.DealID, &d.InitiatorID, &d.Reason, &evid, &d.Resolved,
		&outcome, &notes, &d.CreatedAt, &d.ResolvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Evidence = evid.String
	d.Outcome = Status(outcome.String)
	d.Notes = notes.String
	return &d, nil
}

func (p *PostgresStore) UpdateDispute(ctx context.Context, d *Dispute) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET resolved = $2, outcome = $3, notes = $4, resolved_at = $5
		WHERE id = $1
	`, d.ID, d.Resolved, nullStr(string(d.Outcome)), nullStr(d.Notes), d.ResolvedAt)
	if err != nil {
		return fmt.Errorf("update dispute: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func scanDeal(row interface{ Scan(...any) error }) (*Deal, error) {
	var (
		d             Deal
		status        string
		group         sql.NullString
		fundingWallet sql.NullString
		escrowWallet  sql.NullString
	)
	err := row.Scan(&d.ID, &d.SellerID, &d.BuyerID, &d.InitiatorID, &d.Asset, &d.AmountSats,
		&d.FeeSats, &status, &group, &fundingWallet, &escrowWallet,
		&d.DeductedSats, &d.AutoTransferred, &d.FundedNotified, &d.LastPartialNotifiedSats,
		&d.CreatedAt, &d.UpdatedAt, &d.CompletedAt)
	if err != nil {
		return nil, err
	}
	d.Status = Status(status)
	d.GroupID = group.String
	d.FundingWalletID = fundingWallet.String
	d.EscrowWalletID = escrowWallet.String
	return &d, nil
}

func collectDeals(rows *sql.Rows) ([]*Deal, error) {
	var out []*Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
