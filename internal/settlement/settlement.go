// Package settlement computes spend amounts, network fees, and payout
// splits. All arithmetic is in integer satoshis; nothing here touches the
// network or the ledger, so every doomed spend fails before a transaction
// is ever built.
package settlement

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
)

const (
	// DustLimit is the minimum output value considered spendable.
	DustLimit = 546

	// MaxFee caps the flat network fee on engine transactions.
	MaxFee = 250
)

// Output is one planned payment: a destination address and a satoshi value.
type Output struct {
	Address string
	Value   int64
}

// Plan is the result of a policy computation, ready to hand to the
// transaction builder.
type Plan struct {
	Outputs []Output
	Fee     int64 // network fee implied by inputs minus outputs
}

// Total returns the sum of planned output values.
func (p *Plan) Total() int64 {
	var sum int64
	for _, o := range p.Outputs {
		sum += o.Value
	}
	return sum
}

// SendMax plans spending the whole balance to one destination:
// fee = min(MaxFee, balance-dust), amount = balance-fee.
func SendMax(balance int64, dest string) (*Plan, error) {
	fee := min(MaxFee, balance-DustLimit)
	if fee < 1 {
		return nil, fmt.Errorf("%w: balance %d sats cannot cover the network fee", ErrInsufficientFunds, balance)
	}
	amount := balance - fee
	if amount < DustLimit {
		return nil, fmt.Errorf("%w: sendable %d sats is below the %d sat dust limit", ErrInsufficientFunds, amount, DustLimit)
	}
	return &Plan{
		Outputs: []Output{{Address: dest, Value: amount}},
		Fee:     fee,
	}, nil
}

// SendExact plans spending a specific amount with a flat MaxFee. Change at
// or above the dust limit goes back to changeAddr; sub-dust change is folded
// into the fee.
func SendExact(balance, amount int64, dest, changeAddr string) (*Plan, error) {
	if amount < DustLimit {
		return nil, fmt.Errorf("%w: amount %d sats is below the %d sat dust limit", ErrInvalidAmount, amount, DustLimit)
	}
	fee := int64(MaxFee)
	needed := amount + fee
	if balance < needed {
		return nil, fmt.Errorf("%w: need %d sats, have %d sats", ErrInsufficientFunds, needed, balance)
	}

	outputs := []Output{{Address: dest, Value: amount}}
	change := balance - amount - fee
	if change >= DustLimit {
		outputs = append(outputs, Output{Address: changeAddr, Value: change})
	} else {
		fee += change
	}
	return &Plan{Outputs: outputs, Fee: fee}, nil
}

// splitAll plans spending the whole balance split between two destinations
// at the given numerator out of 100. Used by the 95/5 payout and the 50/50
// dispute settlement.
func splitAll(balance int64, pctFirst int64, first, second string) (*Plan, error) {
	fee := min(MaxFee, balance-2*DustLimit)
	if fee < 1 {
		return nil, fmt.Errorf("%w: balance %d sats cannot cover the network fee", ErrInsufficientFunds, balance)
	}
	remainder := balance - fee
	if remainder < 2*DustLimit {
		return nil, fmt.Errorf("%w: sendable %d sats is below the %d sat two-output minimum", ErrInsufficientFunds, remainder, 2*DustLimit)
	}

	firstAmount := remainder * pctFirst / 100
	secondAmount := remainder - firstAmount

	if firstAmount < DustLimit {
		return nil, fmt.Errorf("%w: primary share %d sats is below the %d sat dust limit", ErrInsufficientFunds, firstAmount, DustLimit)
	}
	if secondAmount < DustLimit {
		return nil, fmt.Errorf("%w: fee-wallet share %d sats is below the %d sat dust limit", ErrInsufficientFunds, secondAmount, DustLimit)
	}

	return &Plan{
		Outputs: []Output{
			{Address: first, Value: firstAmount},
			{Address: second, Value: secondAmount},
		},
		Fee: fee,
	}, nil
}

// Split95 plans the release payout: 95% of the spendable balance to the
// seller and 5% to the platform fee wallet.
func Split95(balance int64, seller, feeWallet string) (*Plan, error) {
	return splitAll(balance, 95, seller, feeWallet)
}

// Split50 plans the dispute settlement: half the spendable balance to the
// seller and half to the platform fee wallet. The buyer is intentionally
// absent from this split.
func Split50(balance int64, seller, feeWallet string) (*Plan, error) {
	return splitAll(balance, 50, seller, feeWallet)
}

