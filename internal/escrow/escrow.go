// Package escrow manages the deal lifecycle.
//
// Flow:
//  1. Initiator creates a deal → PENDING, escrow wallet generated, initiator
//     funds deducted per role/balance
//  2. Buyer deposits (directly or via the auto-forward monitor) until the
//     escrow wallet crosses the funding threshold
//  3. Buyer releases → 95/5 payout to seller and fee wallet → COMPLETED
//  4. Either party disputes → DISPUTED; resolution pays out or just updates
//     status
//  5. Decline/cancel while PENDING → CANCELLED, bookkeeping reversed
package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/safeswap/escrowcore/internal/custody"
	"github.com/safeswap/escrowcore/internal/idgen"
	"github.com/safeswap/escrowcore/internal/ledger"
	"github.com/safeswap/escrowcore/internal/metrics"
	"github.com/safeswap/escrowcore/internal/settlement"
	"github.com/safeswap/escrowcore/internal/traces"
)

var (
	ErrDealNotFound        = errors.New("deal not found")
	ErrDisputeNotFound     = errors.New("dispute not found")
	ErrInvalidStatus       = errors.New("invalid deal status for this operation")
	ErrUnauthorized        = errors.New("not authorized for this deal operation")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrSellerWalletMissing = errors.New("seller has no wallet for this asset")
)

// UnderfundedError reports how many satoshis the escrow wallet is short of
// the release threshold.
type UnderfundedError struct {
	Shortfall int64
}

func (e *UnderfundedError) Error() string {
	return fmt.Sprintf("escrow underfunded: %d sats below release threshold", e.Shortfall)
}

// Status represents the state of a deal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDisputed  Status = "disputed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"

	// Dispute resolution outcomes become the deal status.
	StatusRefunded Status = "refunded"
	StatusReleased Status = "released"
)

// AssetBTC is the only asset with on-chain custody. Deals in other assets
// take the status-only path.
const AssetBTC = "BTC"

// FeePercent is the platform fee applied to the deal amount.
const FeePercent = 5

// Fee returns the platform fee for a deal amount.
func Fee(amountSats int64) int64 {
	return amountSats * FeePercent / 100
}

// FundingThreshold is the escrow balance at which a deal counts as funded:
// 99% of amount plus fee.
func FundingThreshold(amountSats, feeSats int64) int64 {
	return (amountSats + feeSats) * 99 / 100
}

// Deal is an escrow agreement between a buyer and a seller.
type Deal struct {
	ID          string `json:"id"`
	SellerID    string `json:"sellerId"`
	BuyerID     string `json:"buyerId"`
	InitiatorID string `json:"initiatorId"`
	Asset       string `json:"asset"`
	AmountSats  int64  `json:"amountSats"`
	FeeSats     int64  `json:"feeSats"`
	Status      Status `json:"status"`

	// GroupID is the opaque notification target for deal events.
	GroupID string `json:"groupId,omitempty"`

	FundingWalletID string `json:"fundingWalletId,omitempty"`
	EscrowWalletID  string `json:"escrowWalletId,omitempty"`

	// DeductedSats is what actually reached the escrow wallet from the
	// initiator at creation: zero, partial, or the full amount plus fee.
	DeductedSats    int64 `json:"deductedSats"`
	AutoTransferred bool  `json:"autoTransferred"`

	// Notification bookkeeping, driven by the monitor.
	FundedNotified          bool  `json:"fundedNotified"`
	LastPartialNotifiedSats int64 `json:"lastPartialNotifiedSats"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Total returns the amount the buyer must fund: amount plus fee.
func (d *Deal) Total() int64 {
	return d.AmountSats + d.FeeSats
}

// SufficientlyFunded reports whether the given escrow balance crosses the
// funding threshold.
func (d *Deal) SufficientlyFunded(balanceSats int64) bool {
	return balanceSats >= FundingThreshold(d.AmountSats, d.FeeSats)
}

// IsTerminal returns true if the deal is in a final state.
func (d *Deal) IsTerminal() bool {
	switch d.Status {
	case StatusCompleted, StatusCancelled, StatusExpired, StatusRefunded, StatusReleased:
		return true
	}
	return false
}

// counterpart returns the party that did not initiate the deal.
func (d *Deal) counterpart() string {
	if d.InitiatorID == d.BuyerID {
		return d.SellerID
	}
	return d.BuyerID
}

// Dispute records a contested deal.
type Dispute struct {
	ID          string     `json:"id"`
	DealID      string     `json:"dealId"`
	InitiatorID string     `json:"initiatorId"`
	Reason      string     `json:"reason"`
	Evidence    string     `json:"evidence,omitempty"`
	Resolved    bool       `json:"resolved"`
	Outcome     Status     `json:"outcome,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
}

// Store persists deals and disputes.
type Store interface {
	Create(ctx context.Context, deal *Deal) error
	Get(ctx context.Context, id string) (*Deal, error)
	Update(ctx context.Context, deal *Deal) error
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Deal, error)
	ListByParticipant(ctx context.Context, userID string, limit int) ([]*Deal, error)

	CreateDispute(ctx context.Context, d *Dispute) error
	GetDispute(ctx context.Context, id string) (*Dispute, error)
	UpdateDispute(ctx context.Context, d *Dispute) error
}

// Spender executes on-chain spends from engine-held wallets.
type Spender interface {
	SendMax(ctx context.Context, wif, dest string) (*custody.Transfer, error)
	SendExact(ctx context.Context, wif, dest string, amount int64) (*custody.Transfer, error)
	Payout(ctx context.Context, wif, seller string) (*custody.Transfer, error)
	DisputeSplit(ctx context.Context, wif, seller string) (*custody.Transfer, error)
}

// CreateRequest contains the parameters for creating a deal.
type CreateRequest struct {
	SellerID    string `json:"sellerId"`
	BuyerID     string `json:"buyerId"`
	InitiatorID string `json:"initiatorId"`
	Asset       string `json:"asset"`
	AmountSats  int64  `json:"amountSats"`
	GroupID     string `json:"groupId"`
}

// Service implements the deal state machine.
type Service struct {
	store   Store
	ledger  *ledger.Ledger
	spender Spender
	locks   sync.Map // per-deal ID locks to prevent concurrent transitions
}

// NewService creates a new deal service.
func NewService(store Store, l *ledger.Ledger, spender Spender) *Service {
	return &Service{
		store:   store,
		ledger:  l,
		spender: spender,
	}
}

// dealLock returns a mutex for the given deal ID.
func (s *Service) dealLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Create opens a new PENDING deal. For BTC deals it generates an escrow
// wallet and applies the initiation deduction: sellers and broke buyers pay
// nothing now; funded buyers forward up to amount+fee on-chain immediately.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Deal, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.create", traces.AmountSats(req.AmountSats))
	defer span.End()

	if req.AmountSats <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.BuyerID == req.SellerID {
		return nil, errors.New("buyer and seller cannot be the same user")
	}
	if req.InitiatorID != req.BuyerID && req.InitiatorID != req.SellerID {
		return nil, ErrUnauthorized
	}

	now := time.Now()
	deal := &Deal{
		ID:          idgen.WithPrefix("deal_"),
		SellerID:    req.SellerID,
		BuyerID:     req.BuyerID,
		InitiatorID: req.InitiatorID,
		Asset:       req.Asset,
		AmountSats:  req.AmountSats,
		FeeSats:     Fee(req.AmountSats),
		Status:      StatusPending,
		GroupID:     req.GroupID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if deal.Asset == AssetBTC {
		if err := s.fundBTCDeal(ctx, deal); err != nil {
			return nil, err
		}
		span.SetAttributes(traces.WalletID(deal.EscrowWalletID))
	}

	if err := s.store.Create(ctx, deal); err != nil {
		return nil, fmt.Errorf("create deal record: %w", err)
	}
	metrics.DealsTotal.WithLabelValues(string(StatusPending)).Inc()
	return deal, nil
}

// fundBTCDeal generates the escrow wallet and moves the initiator's opening
// contribution, mirroring the spend in the ledger.
func (s *Service) fundBTCDeal(ctx context.Context, deal *Deal) error {
	escrowWallet, err := s.ledger.NewEscrowWallet(ctx, AssetBTC)
	if err != nil {
		return fmt.Errorf("create escrow wallet: %w", err)
	}
	deal.EscrowWalletID = escrowWallet.ID

	funding, err := s.ledger.GetByOwner(ctx, deal.InitiatorID, AssetBTC)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return nil // nothing to deduct; buyer funds by deposit later
		}
		return err
	}
	deal.FundingWalletID = funding.ID

	role := settlement.RoleSeller
	if deal.InitiatorID == deal.BuyerID {
		role = settlement.RoleBuyer
	}
	ded := settlement.InitiationDeduction(role, funding.ConfirmedSats, deal.Total())

	var transfer *custody.Transfer
	switch ded.Kind {
	case settlement.DeductNone:
		// Seller-initiated or empty buyer wallet: await deposits.
	case settlement.DeductFull:
		transfer, err = s.spender.SendExact(ctx, funding.PrivateKey, escrowWallet.Address, deal.Total())
	case settlement.DeductPartial:
		transfer, err = s.spender.SendMax(ctx, funding.PrivateKey, escrowWallet.Address)
	}
	if err != nil {
		return fmt.Errorf("initiation transfer: %w", err)
	}

	if transfer != nil {
		deal.DeductedSats = transfer.Sent
		err := s.ledger.Adjust(ctx,
			ledger.Change{WalletID: funding.ID, ConfirmedDelta: -transfer.Sent},
			ledger.Change{WalletID: escrowWallet.ID, ConfirmedDelta: transfer.Sent},
		)
		if err != nil {
			return fmt.Errorf("record initiation transfer: %w", err)
		}
	}

	// The counterpart is promised the deal amount.
	if cp, err := s.ledger.GetByOwner(ctx, deal.counterpart(), AssetBTC); err == nil {
		if err := s.ledger.AddPending(ctx, cp.ID, deal.AmountSats); err != nil {
			return err
		}
	}
	return nil
}

// Accept lets the buyer commit ledger funds to a seller-initiated deal:
// debit buyer, credit escrow wallet, one atomic unit. The deal stays
// PENDING until release.
func (s *Service) Accept(ctx context.Context, dealID, callerID string) (*Deal, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.accept", traces.DealID(dealID))
	defer span.End()

	mu := s.dealLock(dealID)
	mu.Lock()
	defer mu.Unlock()

	deal, err := s.store.Get(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if callerID != deal.BuyerID {
		return nil, ErrUnauthorized
	}
	if deal.Status != StatusPending {
		return nil, ErrInvalidStatus
	}

	if deal.Asset == AssetBTC {
		buyer, err := s.ledger.GetByOwner(ctx, deal.BuyerID, AssetBTC)
		if err != nil {
			return nil, err
		}
		if err := s.ledger.Move(ctx, buyer.ID, deal.EscrowWalletID, deal.AmountSats); err != nil {
			return nil, err
		}
	}

	deal.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, deal); err != nil {
		return nil, err
	}
	return deal, nil
}

// Decline cancels a PENDING deal on behalf of the counterparty.
func (s *Service) Decline(ctx context.Context, dealID, callerID string) (*Deal, error) {
	return s.cancel(ctx, dealID, callerID, false)
}

// Cancel cancels a PENDING deal on behalf of the initiator.
func (s *Service) Cancel(ctx context.Context, dealID, callerID string) (*Deal, error) {
	return s.cancel(ctx, dealID, callerID, true)
}

func (s *Service) cancel(ctx context.Context, dealID, callerID string, byInitiator bool) (*Deal, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.cancel", traces.DealID(dealID))
	defer span.End()

	mu := s.dealLock(dealID)
	mu.Lock()
	defer mu.Unlock()

	deal, err := s.store.Get(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if byInitiator && callerID != deal.InitiatorID {
		return nil, ErrUnauthorized
	}
	if !byInitiator && callerID != deal.counterpart() {
		return nil, ErrUnauthorized
	}
	if deal.Status != StatusPending {
		return nil, ErrInvalidStatus
	}

	// Reverse creation bookkeeping in one atomic unit: deducted funds back
	// to the initiator, promised credit off the counterpart. Summed
	// confirmed balances are unchanged.
	if deal.Asset == AssetBTC {
		var changes []ledger.Change
		if deal.DeductedSats > 0 && deal.FundingWalletID != "" {
			changes = append(changes,
				ledger.Change{WalletID: deal.FundingWalletID, ConfirmedDelta: deal.DeductedSats},
				ledger.Change{WalletID: deal.EscrowWalletID, ConfirmedDelta: -deal.DeductedSats},
			)
		}
		if cp, err := s.ledger.GetByOwner(ctx, deal.counterpart(), AssetBTC); err == nil {
			changes = append(changes, ledger.Change{WalletID: cp.ID, PendingDelta: -deal.AmountSats})
		}
		if len(changes) > 0 {
			if err := s.ledger.Adjust(ctx, changes...); err != nil {
				return nil, fmt.Errorf("reverse deal bookkeeping: %w", err)
			}
		}
	}

	deal.Status = StatusCancelled
	deal.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, deal); err != nil {
		return nil, err
	}
	metrics.DealsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	return deal, nil
}

// OpenDispute moves a PENDING deal to DISPUTED, blocking release until
// resolution.
func (s *Service) OpenDispute(ctx context.Context, dealID, callerID, reason, evidence string) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.open_dispute", traces.DealID(dealID))
	defer span.End()

	mu := s.dealLock(dealID)
	mu.Lock()
	defer mu.Unlock()

	deal, err := s.store.Get(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if callerID != deal.BuyerID && callerID != deal.SellerID {
		return nil, ErrUnauthorized
	}
	if deal.Status != StatusPending {
		return nil, ErrInvalidStatus
	}

	dispute := &Dispute{
		ID:          idgen.WithPrefix("dsp_"),
		DealID:      deal.ID,
		InitiatorID: callerID,
		Reason:      reason,
		Evidence:    evidence,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateDispute(ctx, dispute); err != nil {
		return nil, err
	}

	deal.Status = StatusDisputed
	deal.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, deal); err != nil {
		return nil, err
	}
	metrics.DealsTotal.WithLabelValues(string(StatusDisputed)).Inc()
	return dispute, nil
}

// ResolveDispute closes a dispute with the given outcome. A REFUNDED
// outcome on a BTC deal executes the 50/50 dispute settlement from the
// escrow wallet to the seller and the platform fee wallet. Every outcome
// sets the deal status to the outcome itself.
func (s *Service) ResolveDispute(ctx context.Context, disputeID string, outcome Status, notes string) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.resolve_dispute", traces.DisputeID(disputeID))
	defer span.End()

	dispute, err := s.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Resolved {
		return nil, ErrInvalidStatus
	}

	mu := s.dealLock(dispute.DealID)
	mu.Lock()
	defer mu.Unlock()

	deal, err := s.store.Get(ctx, dispute.DealID)
	if err != nil {
		return nil, err
	}
	if deal.Status != StatusDisputed {
		return nil, ErrInvalidStatus
	}

	if outcome == StatusRefunded && deal.Asset == AssetBTC {
		if err := s.settleDispute(ctx, deal); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	dispute.Resolved = true
	dispute.Outcome = outcome
	dispute.Notes = notes
	dispute.ResolvedAt = &now
	if err := s.store.UpdateDispute(ctx, dispute); err != nil {
		return nil, err
	}

	deal.Status = outcome
	deal.UpdatedAt = now
	deal.CompletedAt = &now
	if err := s.store.Update(ctx, deal); err != nil {
		return nil, err
	}
	metrics.DealsTotal.WithLabelValues(string(outcome)).Inc()
	return dispute, nil
}

// settleDispute runs the 50/50 split from the escrow wallet and records the
// drain in the ledger.
func (s *Service) settleDispute(ctx context.Context, deal *Deal) error {
	escrowWallet, err := s.ledger.Get(ctx, deal.EscrowWalletID)
	if err != nil {
		return err
	}
	seller, err := s.ledger.GetByOwner(ctx, deal.SellerID, AssetBTC)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return ErrSellerWalletMissing
		}
		return err
	}

	transfer, err := s.spender.DisputeSplit(ctx, escrowWallet.PrivateKey, seller.Address)
	if err != nil {
		return fmt.Errorf("dispute settlement: %w", err)
	}

	if err := s.ledger.SetConfirmed(ctx, escrowWallet.ID, 0); err != nil {
		return err
	}
	if len(transfer.Outputs) > 0 {
		if err := s.ledger.Credit(ctx, seller.ID, transfer.Outputs[0].Value); err != nil {
			return err
		}
	}
	return s.ledger.SubPending(ctx, seller.ID, deal.AmountSats)
}

// Release pays the deal out 95/5 to the seller and the platform fee wallet.
// Buyer only, PENDING only, and the escrow wallet's last-synced balance
// must be at or above the funding threshold.
func (s *Service) Release(ctx context.Context, dealID, callerID string) (*Deal, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.release", traces.DealID(dealID))
	defer span.End()

	mu := s.dealLock(dealID)
	mu.Lock()
	defer mu.Unlock()

	deal, err := s.store.Get(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if callerID != deal.BuyerID {
		return nil, ErrUnauthorized
	}
	if deal.Status != StatusPending {
		return nil, ErrInvalidStatus
	}

	if deal.Asset == AssetBTC {
		if err := s.payout(ctx, deal); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	deal.Status = StatusCompleted
	deal.UpdatedAt = now
	deal.CompletedAt = &now
	if err := s.store.Update(ctx, deal); err != nil {
		return nil, err
	}
	metrics.DealsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	return deal, nil
}

func (s *Service) payout(ctx context.Context, deal *Deal) error {
	escrowWallet, err := s.ledger.Get(ctx, deal.EscrowWalletID)
	if err != nil {
		return err
	}

	threshold := FundingThreshold(deal.AmountSats, deal.FeeSats)
	if escrowWallet.ConfirmedSats < threshold {
		return &UnderfundedError{Shortfall: threshold - escrowWallet.ConfirmedSats}
	}

	seller, err := s.ledger.GetByOwner(ctx, deal.SellerID, AssetBTC)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return ErrSellerWalletMissing
		}
		return err
	}

	transfer, err := s.spender.Payout(ctx, escrowWallet.PrivateKey, seller.Address)
	if err != nil {
		return fmt.Errorf("payout: %w", err)
	}

	if err := s.ledger.SetConfirmed(ctx, escrowWallet.ID, 0); err != nil {
		return err
	}
	if len(transfer.Outputs) > 0 {
		if err := s.ledger.Credit(ctx, seller.ID, transfer.Outputs[0].Value); err != nil {
			return err
		}
	}
	return s.ledger.SubPending(ctx, seller.ID, deal.AmountSats)
}

// Get returns a deal by ID.
func (s *Service) Get(ctx context.Context, id string) (*Deal, error) {
	return s.store.Get(ctx, id)
}

// ListByParticipant returns deals involving a user (as buyer or seller).
func (s *Service) ListByParticipant(ctx context.Context, userID string, limit int) ([]*Deal, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByParticipant(ctx, userID, limit)
}

// ListPending returns PENDING deals for the monitors.
func (s *Service) ListPending(ctx context.Context, limit int) ([]*Deal, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListByStatus(ctx, StatusPending, limit)
}

// MarkAutoTransferred records that the buyer's deposit was forwarded to the
// escrow wallet, so the monitor never forwards twice.
func (s *Service) MarkAutoTransferred(ctx context.Context, dealID string) error {
	return s.updateFlags(ctx, dealID, func(d *Deal) {
		d.AutoTransferred = true
	})
}

// MarkFundedNotified records the one-time funded notification.
func (s *Service) MarkFundedNotified(ctx context.Context, dealID string) error {
	return s.updateFlags(ctx, dealID, func(d *Deal) {
		d.FundedNotified = true
	})
}

// SetLastPartialNotified records the balance announced by the most recent
// partial-deposit notification.
func (s *Service) SetLastPartialNotified(ctx context.Context, dealID string, balanceSats int64) error {
	return s.updateFlags(ctx, dealID, func(d *Deal) {
		d.LastPartialNotifiedSats = balanceSats
	})
}

func (s *Service) updateFlags(ctx context.Context, dealID string, apply func(*Deal)) error {
	mu := s.dealLock(dealID)
	mu.Lock()
	defer mu.Unlock()

	deal, err := s.store.Get(ctx, dealID)
	if err != nil {
		return err
	}
	apply(deal)
	deal.UpdatedAt = time.Now()
	return s.store.Update(ctx, deal)
}
