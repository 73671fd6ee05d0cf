// Package keycodec decodes WIF private keys and derives P2WPKH addresses.
//
// Flow:
//  1. Decode(wif) -> 32-byte secp256k1 scalar + compression flag
//  2. Key.PubKey() -> compressed SEC public key
//  3. Key.Address() -> bech32 "bc" mainnet P2WPKH address
//
// Everything here is pure; no I/O, no persistence.
package keycodec

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg"
)

var (
	ErrInvalidKey     = errors.New("invalid private key")
	ErrInvalidAddress = errors.New("invalid address")
)

// HRP is the human-readable part for mainnet segwit addresses (BIP173).
const HRP = "bc"

// WitnessProgramLen is the P2WPKH witness program length (hash160 of the key).
const WitnessProgramLen = 20

// Key is a decoded private key together with its compression flag.
type Key struct {
	priv       *btcec.PrivateKey
	compressed bool
}

// Decode parses a WIF-encoded private key. Malformed text or a failed
// base58check checksum yields ErrInvalidKey.
func Decode(wifStr string) (*Key, error) {
	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if !wif.IsForNet(&chaincfg.MainNetParams) {
		return nil, fmt.Errorf("%w: not a mainnet key", ErrInvalidKey)
	}
	return &Key{priv: wif.PrivKey, compressed: wif.CompressPubKey}, nil
}

// Generate creates a fresh compressed key for a new wallet.
func Generate() (*Key, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Key{priv: priv, compressed: true}, nil
}

// WIF returns the interchange text form of the key.
func (k *Key) WIF() (string, error) {
	wif, err := btcutil.NewWIF(k.priv, &chaincfg.MainNetParams, k.compressed)
	if err != nil {
		return "", err
	}
	return wif.String(), nil
}

// Compressed reports whether the key encodes a compressed public key.
func (k *Key) Compressed() bool { return k.compressed }

// Bytes returns the 32-byte scalar.
func (k *Key) Bytes() []byte { return k.priv.Serialize() }

// Priv exposes the underlying signing key for the transaction builder.
func (k *Key) Priv() *btcec.PrivateKey { return k.priv }

// PubKey returns the compressed SEC form of the public key. The compressed
// form is used throughout regardless of the WIF flag, matching the witness
// program derivation.
func (k *Key) PubKey() []byte {
	return k.priv.PubKey().SerializeCompressed()
}

// PubKeyHash returns hash160 of the compressed public key, i.e. the P2WPKH
// witness program.
func (k *Key) PubKeyHash() []byte {
	return btcutil.Hash160(k.PubKey())
}

// Address derives the bech32 mainnet P2WPKH address for the key.
func (k *Key) Address() (string, error) {
	return EncodeAddress(k.PubKeyHash())
}

// EncodeAddress encodes a 20-byte witness program as a bech32 "bc" address
// with witness version 0.
func EncodeAddress(program []byte) (string, error) {
	if len(program) != WitnessProgramLen {
		return "", fmt.Errorf("%w: witness program must be %d bytes, got %d",
			ErrInvalidAddress, WitnessProgramLen, len(program))
	}
	converted, err := bech32.ConvertBits(program, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	addr, err := bech32.Encode(HRP, append([]byte{0}, converted...))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return addr, nil
}

// DecodeAddress decodes a bech32 "bc" P2WPKH address into its 20-byte
// witness program, verifying the checksum per BIP173.
func DecodeAddress(addr string) ([]byte, error) {
	hrp, data, err := bech32.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if hrp != HRP {
		return nil, fmt.Errorf("%w: expected hrp %q, got %q", ErrInvalidAddress, HRP, hrp)
	}
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: missing witness version", ErrInvalidAddress)
	}
	if data[0] != 0 {
		return nil, fmt.Errorf("%w: unsupported witness version %d", ErrInvalidAddress, data[0])
	}
	program, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(program) != WitnessProgramLen {
		return nil, fmt.Errorf("%w: witness program must be %d bytes, got %d",
			ErrInvalidAddress, WitnessProgramLen, len(program))
	}
	return program, nil
}
