// Package satoshi provides shared satoshi parsing and formatting utilities.
//
// Bitcoin amounts use 8 decimal places. All amounts are carried as int64
// satoshis internally (1 BTC = 100,000,000 satoshis); decimal BTC strings
// exist only at the presentation boundary.
package satoshi

import (
	"errors"
	"fmt"
	"strings"
)

const Decimals = 8

// PerBTC is the number of satoshis in one bitcoin.
const PerBTC = 100_000_000

var ErrInvalidAmount = errors.New("invalid amount")

// Parse converts a decimal BTC string (e.g. "0.00012345") to satoshis.
//
// Rules:
//   - Empty string parses to 0
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - More than 8 fractional digits are rejected (no silent truncation of
//     sub-satoshi amounts)
func Parse(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}

	if strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}
	if len(frac) > Decimals {
		return 0, ErrInvalidAmount
	}
	for len(frac) < Decimals {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}

	var n int64
	for _, c := range whole + frac {
		if c < '0' || c > '9' {
			return 0, ErrInvalidAmount
		}
		d := int64(c - '0')
		if n > (1<<63-1-d)/10 {
			return 0, ErrInvalidAmount
		}
		n = n*10 + d
	}
	return n, nil
}

// Format converts satoshis to a decimal BTC string with exactly 8 decimal
// places (e.g. 12345 -> "0.00012345").
func Format(sats int64) string {
	sign := ""
	if sats < 0 {
		sign = "-"
		sats = -sats
	}
	return fmt.Sprintf("%s%d.%08d", sign, sats/PerBTC, sats%PerBTC)
}
