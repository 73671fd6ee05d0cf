// Package custody executes spends from engine-held wallets. It composes key
// decoding, UTXO discovery, settlement planning, transaction construction,
// and broadcast into the operations the escrow service and monitors invoke.
package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/safeswap/escrowcore/internal/chainquery"
	"github.com/safeswap/escrowcore/internal/keycodec"
	"github.com/safeswap/escrowcore/internal/metrics"
	"github.com/safeswap/escrowcore/internal/settlement"
	"github.com/safeswap/escrowcore/internal/traces"
	"github.com/safeswap/escrowcore/internal/txbuilder"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNoUTXO is returned when the source address holds no spendable outputs.
	ErrNoUTXO = errors.New("no spendable outputs for address")
)

// UTXOSource supplies confirmed unspent outputs and balances for an address.
type UTXOSource interface {
	UTXOs(ctx context.Context, address string) ([]chainquery.UTXO, error)
	Balance(ctx context.Context, address string) (int64, error)
}

// Submitter relays a signed raw transaction to the network.
type Submitter interface {
	Submit(ctx context.Context, rawHex string) (string, error)
}

// Transfer describes a completed spend.
type Transfer struct {
	TxID    string
	Sent    int64 // total satoshis paid to destinations, excluding change
	Fee     int64
	Outputs []settlement.Output
}

// Spender signs and broadcasts transactions from wallets whose keys the
// engine holds.
type Spender struct {
	source    UTXOSource
	caster    Submitter
	feeWallet string
	logger    *slog.Logger
}

// New creates a Spender. feeWallet receives the platform share of payouts
// and dispute settlements.
func New(source UTXOSource, caster Submitter, feeWallet string, logger *slog.Logger) *Spender {
	return &Spender{
		source:    source,
		caster:    caster,
		feeWallet: feeWallet,
		logger:    logger.With("component", "custody"),
	}
}

// SendMax drains the wallet to dest, leaving nothing behind.
func (s *Spender) SendMax(ctx context.Context, wif, dest string) (*Transfer, error) {
	ctx, span := traces.StartSpan(ctx, "custody.send_max", traces.Address(dest))
	defer span.End()

	return s.spend(ctx, "send_max", wif, func(balance int64) (*settlement.Plan, error) {
		return settlement.SendMax(balance, dest)
	})
}

// SendExact pays amount to dest and returns any remainder above the dust
// limit to the source address as change.
func (s *Spender) SendExact(ctx context.Context, wif, dest string, amount int64) (*Transfer, error) {
	ctx, span := traces.StartSpan(ctx, "custody.send_exact",
		traces.Address(dest), traces.AmountSats(amount))
	defer span.End()

	key, err := keycodec.Decode(wif)
	if err != nil {
		return nil, err
	}
	changeAddr, err := key.Address()
	if err != nil {
		return nil, err
	}
	return s.spend(ctx, "send_exact", wif, func(balance int64) (*settlement.Plan, error) {
		return settlement.SendExact(balance, amount, dest, changeAddr)
	})
}

// Payout splits the wallet 95/5 between seller and the platform fee wallet.
func (s *Spender) Payout(ctx context.Context, wif, seller string) (*Transfer, error) {
	ctx, span := traces.StartSpan(ctx, "custody.payout", traces.Address(seller))
	defer span.End()

	return s.spend(ctx, "payout_95_5", wif, func(balance int64) (*settlement.Plan, error) {
		return settlement.Split95(balance, seller, s.feeWallet)
	})
}

// DisputeSplit splits the wallet 50/50 between seller and the platform fee
// wallet when a dispute resolves.
func (s *Spender) DisputeSplit(ctx context.Context, wif, seller string) (*Transfer, error) {
	ctx, span := traces.StartSpan(ctx, "custody.dispute_split", traces.Address(seller))
	defer span.End()

	return s.spend(ctx, "dispute_settlement_50_50", wif, func(balance int64) (*settlement.Plan, error) {
		return settlement.Split50(balance, seller, s.feeWallet)
	})
}

// spend runs the common pipeline: decode the key, fetch UTXOs, plan the
// settlement against the summed UTXO value, build and sign the transaction,
// then broadcast it.
func (s *Spender) spend(ctx context.Context, op, wif string, plan func(balance int64) (*settlement.Plan, error)) (*Transfer, error) {
	key, err := keycodec.Decode(wif)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	source, err := key.Address()
	if err != nil {
		return nil, fmt.Errorf("derive source address: %w", err)
	}

	utxos, err := s.source.UTXOs(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("fetch utxos for %s: %w", source, err)
	}
	if len(utxos) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoUTXO, source)
	}

	var balance int64
	for _, u := range utxos {
		balance += u.Value
	}

	p, err := plan(balance)
	if err != nil {
		return nil, err
	}

	outputs := make([]txbuilder.Output, len(p.Outputs))
	for i, o := range p.Outputs {
		outputs[i] = txbuilder.Output{Address: o.Address, Value: o.Value}
	}

	rawHex, err := txbuilder.Build(utxos, outputs, key)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}

	txid, err := s.caster.Submit(ctx, rawHex)
	if err != nil {
		metrics.BroadcastsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.BroadcastsTotal.WithLabelValues("ok").Inc()
	metrics.TransfersTotal.WithLabelValues(op).Inc()
	trace.SpanFromContext(ctx).SetAttributes(traces.TxID(txid))

	sent := p.Total()
	// Change back to the source address is not part of the amount sent.
	for _, o := range p.Outputs {
		if o.Address == source {
			sent -= o.Value
		}
	}

	s.logger.Info("transfer broadcast",
		"operation", op,
		"source", source,
		"txid", txid,
		"sent_sats", sent,
		"fee_sats", p.Fee)

	return &Transfer{TxID: txid, Sent: sent, Fee: p.Fee, Outputs: p.Outputs}, nil
}
