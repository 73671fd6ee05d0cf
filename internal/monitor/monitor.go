// Package monitor reconciles ledger state against chain state.
//
// Three independent loops:
//   - buyer_forward: moves fresh buyer deposits into the deal's escrow wallet
//   - escrow_threshold: emits funding notifications as escrow balances move
//   - full_sweep: re-syncs every wallet's ledger balance from chain
//
// A broken provider or a failed cycle degrades monitoring; it never stops
// future cycles.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/safeswap/escrowcore/internal/custody"
	"github.com/safeswap/escrowcore/internal/escrow"
	"github.com/safeswap/escrowcore/internal/ledger"
	"github.com/safeswap/escrowcore/internal/metrics"
	"github.com/safeswap/escrowcore/internal/satoshi"
)

// ForwardDustThreshold is the minimum buyer balance worth forwarding; at or
// below it, a forward could not clear the network fee.
const ForwardDustThreshold = 250

// DriftToleranceSats is how far ledger and chain may disagree before the
// sweep rewrites the ledger value.
const DriftToleranceSats = 1

// Default intervals for the three loops.
const (
	DefaultForwardInterval   = 30 * time.Second
	DefaultThresholdInterval = 30 * time.Second
	DefaultSweepInterval     = 60 * time.Second
)

// ChainBalance reads an address's confirmed on-chain balance.
type ChainBalance interface {
	Balance(ctx context.Context, address string) (int64, error)
}

// Forwarder moves funds from a buyer wallet into an escrow wallet.
type Forwarder interface {
	SendMax(ctx context.Context, wif, dest string) (*custody.Transfer, error)
	SendExact(ctx context.Context, wif, dest string, amount int64) (*custody.Transfer, error)
}

// Notifier delivers a message to an opaque user or group target. Implemented
// by the presentation layer.
type Notifier interface {
	Notify(ctx context.Context, target, message string) error
}

// Monitor owns the reconciliation loops.
type Monitor struct {
	deals    *escrow.Service
	ledger   *ledger.Ledger
	chain    ChainBalance
	spender  Forwarder
	notifier Notifier
	logger   *slog.Logger

	mu        sync.Mutex
	monitored map[string]struct{} // wallet IDs under sweep observation
}

// New creates a monitor. notifier may be nil; notifications are then
// dropped.
func New(deals *escrow.Service, l *ledger.Ledger, chain ChainBalance, spender Forwarder, notifier Notifier, logger *slog.Logger) *Monitor {
	return &Monitor{
		deals:     deals,
		ledger:    l,
		chain:     chain,
		spender:   spender,
		notifier:  notifier,
		logger:    logger.With("component", "monitor"),
		monitored: make(map[string]struct{}),
	}
}

// Timers returns the three loops at their default intervals. Start each in
// its own goroutine.
func (m *Monitor) Timers() []*Timer {
	return []*Timer{
		NewTimer("buyer_forward", DefaultForwardInterval, m.logger, m.ForwardCycle),
		NewTimer("escrow_threshold", DefaultThresholdInterval, m.logger, m.ThresholdCycle),
		NewTimer("full_sweep", DefaultSweepInterval, m.logger, m.SweepCycle),
	}
}

// ForwardCycle forwards buyer deposits into escrow wallets for PENDING
// deals that have not yet auto-transferred.
func (m *Monitor) ForwardCycle(ctx context.Context) error {
	deals, err := m.deals.ListPending(ctx, 200)
	if err != nil {
		return fmt.Errorf("list pending deals: %w", err)
	}

	for _, deal := range deals {
		if deal.Asset != escrow.AssetBTC || deal.AutoTransferred || deal.EscrowWalletID == "" {
			continue
		}
		if err := m.forwardDeal(ctx, deal); err != nil {
			m.logger.Warn("buyer forward failed", "dealId", deal.ID, "error", err)
		}
	}
	return nil
}

func (m *Monitor) forwardDeal(ctx context.Context, deal *escrow.Deal) error {
	buyer, err := m.ledger.GetByOwner(ctx, deal.BuyerID, escrow.AssetBTC)
	if err != nil {
		return nil // buyer has no wallet yet; nothing to forward
	}

	balance, err := m.chain.Balance(ctx, buyer.Address)
	if err != nil {
		return err
	}
	if balance <= ForwardDustThreshold {
		return nil
	}

	escrowWallet, err := m.ledger.Get(ctx, deal.EscrowWalletID)
	if err != nil {
		return err
	}

	required := deal.Total()
	var transfer *custody.Transfer
	if balance <= required {
		transfer, err = m.spender.SendMax(ctx, buyer.PrivateKey, escrowWallet.Address)
	} else {
		transfer, err = m.spender.SendExact(ctx, buyer.PrivateKey, escrowWallet.Address, required)
	}
	if err != nil {
		return err
	}

	// Mirror the spend: the buyer wallet keeps only change, the escrow
	// wallet gains what was sent.
	remaining := balance - transfer.Sent - transfer.Fee
	if remaining < 0 {
		remaining = 0
	}
	if err := m.ledger.SetConfirmed(ctx, buyer.ID, remaining); err != nil {
		return err
	}
	if err := m.ledger.Credit(ctx, escrowWallet.ID, transfer.Sent); err != nil {
		return err
	}
	if err := m.deals.MarkAutoTransferred(ctx, deal.ID); err != nil {
		return err
	}

	m.logger.Info("forwarded buyer deposit",
		"dealId", deal.ID,
		"txid", transfer.TxID,
		"sent_sats", transfer.Sent)

	msg := fmt.Sprintf("Received %s BTC, moved to escrow for deal %s",
		satoshi.Format(transfer.Sent), deal.ID)
	m.notify(ctx, deal.BuyerID, msg)
	m.notify(ctx, deal.GroupID, msg)
	return nil
}

// ThresholdCycle emits funding notifications for PENDING deals: a one-time
// funded message at the 99% threshold, and partial-deposit messages while
// below it whenever the balance has moved.
func (m *Monitor) ThresholdCycle(ctx context.Context) error {
	deals, err := m.deals.ListPending(ctx, 200)
	if err != nil {
		return fmt.Errorf("list pending deals: %w", err)
	}

	for _, deal := range deals {
		if deal.Asset != escrow.AssetBTC || deal.EscrowWalletID == "" || deal.GroupID == "" {
			continue
		}
		if err := m.checkThreshold(ctx, deal); err != nil {
			m.logger.Warn("threshold check failed", "dealId", deal.ID, "error", err)
		}
	}
	return nil
}

func (m *Monitor) checkThreshold(ctx context.Context, deal *escrow.Deal) error {
	escrowWallet, err := m.ledger.Get(ctx, deal.EscrowWalletID)
	if err != nil {
		return err
	}
	balance, err := m.chain.Balance(ctx, escrowWallet.Address)
	if err != nil {
		return err
	}

	if deal.SufficientlyFunded(balance) {
		if deal.FundedNotified {
			return nil
		}
		m.notify(ctx, deal.GroupID, fmt.Sprintf(
			"Escrow for deal %s is sufficiently funded (%s BTC). Buyer can release when ready.",
			deal.ID, satoshi.Format(balance)))
		return m.deals.MarkFundedNotified(ctx, deal.ID)
	}

	moved := balance - deal.LastPartialNotifiedSats
	if moved < 0 {
		moved = -moved
	}
	if balance > 0 && moved > DriftToleranceSats {
		m.notify(ctx, deal.GroupID, fmt.Sprintf(
			"Partial deposit for deal %s: %s of %s BTC received.",
			deal.ID, satoshi.Format(balance), satoshi.Format(deal.Total())))
		return m.deals.SetLastPartialNotified(ctx, deal.ID, balance)
	}
	return nil
}

// SweepCycle re-syncs every monitored wallet from chain and adopts wallets
// not yet in the monitoring set.
func (m *Monitor) SweepCycle(ctx context.Context) error {
	wallets, err := m.ledger.List(ctx)
	if err != nil {
		return fmt.Errorf("list wallets: %w", err)
	}

	for _, w := range wallets {
		if w.Asset != escrow.AssetBTC {
			continue
		}
		m.adopt(w.ID)

		balance, err := m.chain.Balance(ctx, w.Address)
		if err != nil {
			m.logger.Warn("sweep balance lookup failed", "walletId", w.ID, "error", err)
			continue
		}

		drift := balance - w.ConfirmedSats
		if drift < 0 {
			drift = -drift
		}
		if drift <= DriftToleranceSats {
			continue
		}

		if err := m.ledger.SetConfirmed(ctx, w.ID, balance); err != nil {
			m.logger.Warn("sweep update failed", "walletId", w.ID, "error", err)
			continue
		}
		metrics.BalanceDriftSats.Observe(float64(drift))
		m.logger.Info("synced wallet balance from chain",
			"walletId", w.ID,
			"ledger_sats", w.ConfirmedSats,
			"chain_sats", balance)
	}
	return nil
}

func (m *Monitor) adopt(walletID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.monitored[walletID]; !ok {
		m.monitored[walletID] = struct{}{}
		metrics.MonitoredWallets.Set(float64(len(m.monitored)))
		m.logger.Debug("now monitoring wallet", "walletId", walletID)
	}
}

func (m *Monitor) notify(ctx context.Context, target, message string) {
	if m.notifier == nil || target == "" {
		return
	}
	if err := m.notifier.Notify(ctx, target, message); err != nil {
		m.logger.Warn("notification failed", "target", target, "error", err)
	}
}
