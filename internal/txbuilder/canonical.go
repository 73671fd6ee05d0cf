package txbuilder

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
)

// halfOrder is curve_order / 2, the BIP62 low-S boundary.
var halfOrder = new(big.Int).Rsh(btcec.S256().N, 1)

// canonicalizeDER parses a DER signature and enforces the low-S rule:
// if s > curve_order/2, s is replaced with curve_order - s. The result is
// re-encoded as DER. High-S signatures are valid ECDSA but malleable, and
// modern nodes reject them as non-standard.
func canonicalizeDER(der []byte) ([]byte, error) {
	r, s, err := parseDERSignature(der)
	if err != nil {
		return nil, err
	}
	if s.Cmp(halfOrder) > 0 {
		s = new(big.Int).Sub(btcec.S256().N, s)
	}
	return encodeDERSignature(r, s), nil
}

// parseDERSignature extracts r and s from a DER SEQUENCE of two INTEGERs.
func parseDERSignature(der []byte) (r, s *big.Int, err error) {
	if len(der) < 8 || der[0] != 0x30 {
		return nil, nil, fmt.Errorf("malformed DER signature")
	}
	if int(der[1]) != len(der)-2 {
		return nil, nil, fmt.Errorf("DER signature length mismatch")
	}
	rest := der[2:]

	r, rest, err = parseDERInt(rest)
	if err != nil {
		return nil, nil, err
	}
	s, rest, err = parseDERInt(rest)
	if err != nil {
		return nil, nil, err
	}
	if len(rest) != 0 {
		return nil, nil, fmt.Errorf("trailing bytes after DER signature")
	}
	return r, s, nil
}

func parseDERInt(b []byte) (*big.Int, []byte, error) {
	if len(b) < 2 || b[0] != 0x02 {
		return nil, nil, fmt.Errorf("malformed DER integer")
	}
	n := int(b[1])
	if n == 0 || len(b) < 2+n {
		return nil, nil, fmt.Errorf("malformed DER integer length")
	}
	return new(big.Int).SetBytes(b[2 : 2+n]), b[2+n:], nil
}

// encodeDERSignature serializes r and s as a DER SEQUENCE, padding with a
// leading zero byte where the high bit would read as a sign bit.
func encodeDERSignature(r, s *big.Int) []byte {
	rb := derIntBytes(r)
	sb := derIntBytes(s)

	out := make([]byte, 0, 6+len(rb)+len(sb))
	out = append(out, 0x30, byte(4+len(rb)+len(sb)))
	out = append(out, 0x02, byte(len(rb)))
	out = append(out, rb...)
	out = append(out, 0x02, byte(len(sb)))
	out = append(out, sb...)
	return out
}

func derIntBytes(v *big.Int) []byte {
	b := v.Bytes()
	if len(b) == 0 {
		return []byte{0}
	}
	if b[0]&0x80 != 0 {
		return append([]byte{0}, b...)
	}
	return b
}
