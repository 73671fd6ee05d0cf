package monitor

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/safeswap/escrowcore/internal/custody"
	"github.com/safeswap/escrowcore/internal/escrow"
	"github.com/safeswap/escrowcore/internal/ledger"
)

type fakeChain struct {
	balances map[string]int64
}

func (f *fakeChain) Balance(_ context.Context, address string) (int64, error) {
	b, ok := f.balances[address]
	if !ok {
		return 0, errors.New("unknown address")
	}
	return b, nil
}

type forwardCall struct {
	op     string
	wif    string
	dest   string
	amount int64
}

type fakeForwarder struct {
	calls   []forwardCall
	maxSent int64
}

func (f *fakeForwarder) SendMax(_ context.Context, wif, dest string) (*custody.Transfer, error) {
	f.calls = append(f.calls, forwardCall{op: "send_max", wif: wif, dest: dest})
	return &custody.Transfer{TxID: "tx_max", Sent: f.maxSent, Fee: 250}, nil
}

func (f *fakeForwarder) SendExact(_ context.Context, wif, dest string, amount int64) (*custody.Transfer, error) {
	f.calls = append(f.calls, forwardCall{op: "send_exact", wif: wif, dest: dest, amount: amount})
	return &custody.Transfer{TxID: "tx_exact", Sent: amount, Fee: 250}, nil
}

func (f *fakeForwarder) Payout(context.Context, string, string) (*custody.Transfer, error) {
	return nil, errors.New("not used")
}

func (f *fakeForwarder) DisputeSplit(context.Context, string, string) (*custody.Transfer, error) {
	return nil, errors.New("not used")
}

type notification struct {
	target  string
	message string
}

type fakeNotifier struct {
	sent []notification
}

func (f *fakeNotifier) Notify(_ context.Context, target, message string) error {
	f.sent = append(f.sent, notification{target: target, message: message})
	return nil
}

func (f *fakeNotifier) targets() []string {
	out := make([]string, len(f.sent))
	for i, n := range f.sent {
		out[i] = n.target
	}
	return out
}

type testEnv struct {
	monitor   *Monitor
	deals     *escrow.Service
	ledger    *ledger.Ledger
	chain     *fakeChain
	forwarder *fakeForwarder
	notifier  *fakeNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	l := ledger.New(ledger.NewMemoryStore())
	fw := &fakeForwarder{}
	deals := escrow.NewService(escrow.NewMemoryStore(), l, fw)
	chain := &fakeChain{balances: map[string]int64{}}
	nt := &fakeNotifier{}
	return &testEnv{
		monitor:   New(deals, l, chain, fw, nt, slog.New(slog.DiscardHandler)),
		deals:     deals,
		ledger:    l,
		chain:     chain,
		forwarder: fw,
		notifier:  nt,
	}
}

func (e *testEnv) wallet(t *testing.T, ownerID string) *ledger.Wallet {
	t.Helper()
	w, err := e.ledger.NewWallet(context.Background(), ownerID, escrow.AssetBTC)
	if err != nil {
		t.Fatalf("create wallet for %s: %v", ownerID, err)
	}
	return w
}

// sellerDeal creates a seller-initiated PENDING BTC deal for 100000 sats, so
// creation itself moves no funds.
func (e *testEnv) sellerDeal(t *testing.T) *escrow.Deal {
	t.Helper()
	deal, err := e.deals.Create(context.Background(), escrow.CreateRequest{
		SellerID:    "alice",
		BuyerID:     "bob",
		InitiatorID: "alice",
		Asset:       escrow.AssetBTC,
		AmountSats:  100_000,
		GroupID:     "grp-1",
	})
	if err != nil {
		t.Fatalf("create deal: %v", err)
	}
	return deal
}

func (e *testEnv) mustGet(t *testing.T, walletID string) *ledger.Wallet {
	t.Helper()
	w, err := e.ledger.Get(context.Background(), walletID)
	if err != nil {
		t.Fatalf("get wallet %s: %v", walletID, err)
	}
	return w
}

func TestForwardDrainsUnderfundedBuyer(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.wallet(t, "alice")
	buyer := e.wallet(t, "bob")
	deal := e.sellerDeal(t)

	// 50000 on chain is below the 105000 the deal needs: drain everything.
	e.chain.balances[buyer.Address] = 50_000
	e.forwarder.maxSent = 49_750
	e.chain.balances[e.mustGet(t, deal.EscrowWalletID).Address] = 0

	if err := e.monitor.ForwardCycle(ctx); err != nil {
		t.Fatalf("ForwardCycle: %v", err)
	}

	if len(e.forwarder.calls) != 1 || e.forwarder.calls[0].op != "send_max" {
		t.Fatalf("calls = %+v, want single send_max", e.forwarder.calls)
	}
	if e.forwarder.calls[0].wif != buyer.PrivateKey {
		t.Error("forward did not spend from the buyer wallet key")
	}
	if got := e.mustGet(t, buyer.ID).ConfirmedSats; got != 0 {
		t.Errorf("buyer confirmed = %d, want 0 after draining", got)
	}
	if got := e.mustGet(t, deal.EscrowWalletID).ConfirmedSats; got != 49_750 {
		t.Errorf("escrow confirmed = %d, want forwarded amount", got)
	}

	after, err := e.deals.Get(ctx, deal.ID)
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	if !after.AutoTransferred {
		t.Error("deal not marked auto-transferred")
	}

	// Buyer and group are both told.
	if got := e.notifier.targets(); len(got) != 2 || got[0] != "bob" || got[1] != "grp-1" {
		t.Errorf("notified %v, want buyer then group", got)
	}

	// A second cycle must not forward again.
	if err := e.monitor.ForwardCycle(ctx); err != nil {
		t.Fatalf("second ForwardCycle: %v", err)
	}
	if len(e.forwarder.calls) != 1 {
		t.Errorf("calls after second cycle = %d, want still 1", len(e.forwarder.calls))
	}
}

func TestForwardSendsExactWhenOverfunded(t *testing.T) {
	e := newTestEnv(t)
	e.wallet(t, "alice")
	buyer := e.wallet(t, "bob")
	deal := e.sellerDeal(t)

	e.chain.balances[buyer.Address] = 200_000

	if err := e.monitor.ForwardCycle(context.Background()); err != nil {
		t.Fatalf("ForwardCycle: %v", err)
	}

	if len(e.forwarder.calls) != 1 || e.forwarder.calls[0].op != "send_exact" {
		t.Fatalf("calls = %+v, want single send_exact", e.forwarder.calls)
	}
	if e.forwarder.calls[0].amount != 105_000 {
		t.Errorf("forwarded %d, want amount plus fee", e.forwarder.calls[0].amount)
	}
	// 200000 minus 105000 sent minus 250 network fee stays with the buyer.
	if got := e.mustGet(t, buyer.ID).ConfirmedSats; got != 94_750 {
		t.Errorf("buyer confirmed = %d, want 94750", got)
	}
	if got := e.mustGet(t, deal.EscrowWalletID).ConfirmedSats; got != 105_000 {
		t.Errorf("escrow confirmed = %d, want 105000", got)
	}
}

func TestForwardSkipsDustAndMissingWallets(t *testing.T) {
	e := newTestEnv(t)
	e.wallet(t, "alice")

	// No buyer wallet at all.
	e.sellerDeal(t)
	if err := e.monitor.ForwardCycle(context.Background()); err != nil {
		t.Fatalf("ForwardCycle: %v", err)
	}
	if len(e.forwarder.calls) != 0 {
		t.Errorf("calls = %+v, want none without a buyer wallet", e.forwarder.calls)
	}

	// Buyer wallet holding only dust.
	buyer := e.wallet(t, "bob")
	e.chain.balances[buyer.Address] = ForwardDustThreshold
	if err := e.monitor.ForwardCycle(context.Background()); err != nil {
		t.Fatalf("ForwardCycle: %v", err)
	}
	if len(e.forwarder.calls) != 0 {
		t.Errorf("calls = %+v, want none at the dust threshold", e.forwarder.calls)
	}
}

func TestThresholdFundedNotifiesOnce(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.wallet(t, "alice")
	e.wallet(t, "bob")
	deal := e.sellerDeal(t)
	escrowAddr := e.mustGet(t, deal.EscrowWalletID).Address

	// 103950 is the 99% threshold for 100000 plus the 5000 fee.
	e.chain.balances[escrowAddr] = 103_950

	if err := e.monitor.ThresholdCycle(ctx); err != nil {
		t.Fatalf("ThresholdCycle: %v", err)
	}
	if len(e.notifier.sent) != 1 || e.notifier.sent[0].target != "grp-1" {
		t.Fatalf("notifications = %+v, want one funded message to the group", e.notifier.sent)
	}

	after, err := e.deals.Get(ctx, deal.ID)
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	if !after.FundedNotified {
		t.Error("deal not marked funded-notified")
	}

	if err := e.monitor.ThresholdCycle(ctx); err != nil {
		t.Fatalf("second ThresholdCycle: %v", err)
	}
	if len(e.notifier.sent) != 1 {
		t.Errorf("notifications after second cycle = %d, want still 1", len(e.notifier.sent))
	}
}

func TestThresholdPartialDeposits(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.wallet(t, "alice")
	e.wallet(t, "bob")
	deal := e.sellerDeal(t)
	escrowAddr := e.mustGet(t, deal.EscrowWalletID).Address

	// Empty escrow: nothing to announce.
	e.chain.balances[escrowAddr] = 0
	if err := e.monitor.ThresholdCycle(ctx); err != nil {
		t.Fatalf("ThresholdCycle: %v", err)
	}
	if len(e.notifier.sent) != 0 {
		t.Fatalf("notifications = %+v, want none for an empty escrow", e.notifier.sent)
	}

	// First deposit below the threshold.
	e.chain.balances[escrowAddr] = 50_000
	if err := e.monitor.ThresholdCycle(ctx); err != nil {
		t.Fatalf("ThresholdCycle: %v", err)
	}
	if len(e.notifier.sent) != 1 {
		t.Fatalf("notifications = %+v, want one partial message", e.notifier.sent)
	}
	after, err := e.deals.Get(ctx, deal.ID)
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	if after.LastPartialNotifiedSats != 50_000 {
		t.Errorf("last partial = %d, want 50000", after.LastPartialNotifiedSats)
	}

	// Unchanged balance: stay quiet.
	if err := e.monitor.ThresholdCycle(ctx); err != nil {
		t.Fatalf("ThresholdCycle: %v", err)
	}
	if len(e.notifier.sent) != 1 {
		t.Errorf("notifications = %d, want no repeat for an unchanged balance", len(e.notifier.sent))
	}

	// A one-sat wobble is inside the tolerance.
	e.chain.balances[escrowAddr] = 50_001
	if err := e.monitor.ThresholdCycle(ctx); err != nil {
		t.Fatalf("ThresholdCycle: %v", err)
	}
	if len(e.notifier.sent) != 1 {
		t.Errorf("notifications = %d, want no message for a one-sat move", len(e.notifier.sent))
	}

	// A real further deposit is announced.
	e.chain.balances[escrowAddr] = 75_000
	if err := e.monitor.ThresholdCycle(ctx); err != nil {
		t.Fatalf("ThresholdCycle: %v", err)
	}
	if len(e.notifier.sent) != 2 {
		t.Errorf("notifications = %d, want second partial message", len(e.notifier.sent))
	}
}

func TestThresholdSkipsDealsWithoutGroup(t *testing.T) {
	e := newTestEnv(t)
	e.wallet(t, "alice")
	e.wallet(t, "bob")
	deal, err := e.deals.Create(context.Background(), escrow.CreateRequest{
		SellerID:    "alice",
		BuyerID:     "bob",
		InitiatorID: "alice",
		Asset:       escrow.AssetBTC,
		AmountSats:  100_000,
	})
	if err != nil {
		t.Fatalf("create deal: %v", err)
	}
	e.chain.balances[e.mustGet(t, deal.EscrowWalletID).Address] = 200_000

	if err := e.monitor.ThresholdCycle(context.Background()); err != nil {
		t.Fatalf("ThresholdCycle: %v", err)
	}
	if len(e.notifier.sent) != 0 {
		t.Errorf("notifications = %+v, want none without a group target", e.notifier.sent)
	}
}

func TestSweepSyncsDriftedWallets(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	drifted := e.wallet(t, "alice")
	if err := e.ledger.Credit(ctx, drifted.ID, 100); err != nil {
		t.Fatalf("credit: %v", err)
	}
	steady := e.wallet(t, "bob")
	if err := e.ledger.Credit(ctx, steady.ID, 100); err != nil {
		t.Fatalf("credit: %v", err)
	}

	e.chain.balances[drifted.Address] = 105
	e.chain.balances[steady.Address] = 101 // within tolerance

	if err := e.monitor.SweepCycle(ctx); err != nil {
		t.Fatalf("SweepCycle: %v", err)
	}

	if got := e.mustGet(t, drifted.ID).ConfirmedSats; got != 105 {
		t.Errorf("drifted wallet confirmed = %d, want synced to chain", got)
	}
	if e.mustGet(t, drifted.ID).LastSyncAt.IsZero() {
		t.Error("drifted wallet LastSyncAt not stamped")
	}
	if got := e.mustGet(t, steady.ID).ConfirmedSats; got != 100 {
		t.Errorf("steady wallet confirmed = %d, want untouched inside tolerance", got)
	}

	if got := len(e.monitor.monitored); got != 2 {
		t.Errorf("monitored wallets = %d, want both adopted", got)
	}
}

func TestSweepSkipsOtherAssets(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	w, err := e.ledger.NewWallet(ctx, "carol", "USDT")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	// No chain entry for the address: a lookup would error, a skip won't.
	if err := e.monitor.SweepCycle(ctx); err != nil {
		t.Fatalf("SweepCycle: %v", err)
	}
	if len(e.monitor.monitored) != 0 {
		t.Errorf("monitored = %d, want non-BTC wallet %s ignored", len(e.monitor.monitored), w.ID)
	}
}
