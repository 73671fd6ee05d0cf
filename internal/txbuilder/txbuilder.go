// Package txbuilder assembles, signs, and serializes segwit v0 transactions.
//
// The wire format is produced by hand: version 2, segwit marker/flag, one
// input per UTXO with an empty legacy script, P2WPKH outputs, per-input
// BIP143 sighash digests signed with ECDSA over secp256k1, and a
// [signature, pubkey] witness stack. The builder is a pure function of
// (UTXOs, outputs, key); it holds no state and performs no I/O.
package txbuilder

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/safeswap/escrowcore/internal/chainquery"
	"github.com/safeswap/escrowcore/internal/keycodec"
)

var (
	ErrNoUTXOs   = errors.New("no utxos to spend")
	ErrNoOutputs = errors.New("no outputs to create")
)

// Sequence signals non-final inputs without RBF (0xfffffffd).
const Sequence uint32 = 0xfffffffd

// SigHashAll is the only sighash type the engine produces.
const SigHashAll uint32 = 1

// Output is one payment in the transaction being built.
type Output struct {
	Address string // bech32 P2WPKH destination
	Value   int64  // satoshis
}

// Build assembles and signs a transaction spending the given UTXOs (all
// locked to the signer's P2WPKH address) into the given outputs, and
// returns the serialized transaction as hex.
func Build(utxos []chainquery.UTXO, outputs []Output, key *keycodec.Key) (string, error) {
	if len(utxos) == 0 {
		return "", ErrNoUTXOs
	}
	if len(outputs) == 0 {
		return "", ErrNoOutputs
	}

	// Resolve destinations up front so no signing happens for a doomed build.
	scripts := make([][]byte, len(outputs))
	for i, out := range outputs {
		program, err := keycodec.DecodeAddress(out.Address)
		if err != nil {
			return "", fmt.Errorf("output %d: %w", i, err)
		}
		scripts[i] = p2wpkhScript(program)
	}

	outpoints := make([][]byte, len(utxos))
	for i, u := range utxos {
		op, err := outpoint(u)
		if err != nil {
			return "", fmt.Errorf("input %d: %w", i, err)
		}
		outpoints[i] = op
	}

	var inputsData bytes.Buffer
	for _, op := range outpoints {
		inputsData.Write(op)
		inputsData.WriteByte(0) // empty scriptSig
		putUint32(&inputsData, Sequence)
	}

	var outputsData bytes.Buffer
	for i, out := range outputs {
		putUint64(&outputsData, uint64(out.Value))
		writeVarBytes(&outputsData, scripts[i])
	}

	hashPrevouts := chainhash.DoubleHashB(bytes.Join(outpoints, nil))
	hashSequence := doubleHashSequences(len(utxos))
	hashOutputs := chainhash.DoubleHashB(outputsData.Bytes())
	scriptCode := p2pkhScriptCode(key.PubKeyHash())
	pubKey := key.PubKey()

	var witnessData bytes.Buffer
	for i, u := range utxos {
		digest := sighash(hashPrevouts, hashSequence, hashOutputs, outpoints[i], scriptCode, u.Value)

		sig, err := signCanonical(key, digest)
		if err != nil {
			return "", fmt.Errorf("input %d: %w", i, err)
		}
		sig = append(sig, byte(SigHashAll))

		witnessData.WriteByte(2) // stack items
		writeVarBytes(&witnessData, sig)
		writeVarBytes(&witnessData, pubKey)
	}

	var tx bytes.Buffer
	putUint32(&tx, 2) // version
	tx.WriteByte(0x00)
	tx.WriteByte(0x01)
	writeVarInt(&tx, uint64(len(utxos)))
	tx.Write(inputsData.Bytes())
	writeVarInt(&tx, uint64(len(outputs)))
	tx.Write(outputsData.Bytes())
	tx.Write(witnessData.Bytes())
	putUint32(&tx, 0) // locktime

	return hex.EncodeToString(tx.Bytes()), nil
}

// sighash computes the BIP143 double-SHA256 digest for one input.
func sighash(hashPrevouts, hashSequence, hashOutputs, outpoint, scriptCode []byte, amount int64) []byte {
	var pre bytes.Buffer
	putUint32(&pre, 2) // version
	pre.Write(hashPrevouts)
	pre.Write(hashSequence)
	pre.Write(outpoint)
	pre.Write(scriptCode)
	putUint64(&pre, uint64(amount))
	putUint32(&pre, Sequence)
	pre.Write(hashOutputs)
	putUint32(&pre, 0) // locktime
	putUint32(&pre, SigHashAll)
	return chainhash.DoubleHashB(pre.Bytes())
}

// signCanonical signs a digest and DER-encodes the signature with low-S
// enforcement.
func signCanonical(key *keycodec.Key, digest []byte) ([]byte, error) {
	sig := ecdsa.Sign(key.Priv(), digest)
	return canonicalizeDER(sig.Serialize())
}

// outpoint serializes txid (byte-reversed) plus output index.
func outpoint(u chainquery.UTXO) ([]byte, error) {
	txid, err := hex.DecodeString(u.TxID)
	if err != nil || len(txid) != 32 {
		return nil, fmt.Errorf("invalid txid %q", u.TxID)
	}
	for i, j := 0, len(txid)-1; i < j; i, j = i+1, j-1 {
		txid[i], txid[j] = txid[j], txid[i]
	}
	var b bytes.Buffer
	b.Write(txid)
	putUint32(&b, u.Vout)
	return b.Bytes(), nil
}

// p2wpkhScript builds OP_0 <20-byte program>.
func p2wpkhScript(program []byte) []byte {
	script := make([]byte, 0, 22)
	script = append(script, 0x00, 0x14)
	return append(script, program...)
}

// p2pkhScriptCode builds the length-prefixed BIP143 script code for a
// P2WPKH input: 0x19 OP_DUP OP_HASH160 <20-byte pkh> OP_EQUALVERIFY OP_CHECKSIG.
func p2pkhScriptCode(pkh []byte) []byte {
	code := make([]byte, 0, 26)
	code = append(code, 0x19, 0x76, 0xa9, 0x14)
	code = append(code, pkh...)
	return append(code, 0x88, 0xac)
}

func doubleHashSequences(n int) []byte {
	var b bytes.Buffer
	for i := 0; i < n; i++ {
		putUint32(&b, Sequence)
	}
	return chainhash.DoubleHashB(b.Bytes())
}

func putUint32(b *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.Write(buf[:])
}

func putUint64(b *bytes.Buffer, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	b.Write(buf[:])
}

func writeVarInt(b *bytes.Buffer, v uint64) {
	switch {
	case v < 0xfd:
		b.WriteByte(byte(v))
	case v <= 0xffff:
		b.WriteByte(0xfd)
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(v))
		b.Write(buf[:])
	case v <= 0xffffffff:
		b.WriteByte(0xfe)
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(v))
		b.Write(buf[:])
	default:
		b.WriteByte(0xff)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], v)
		b.Write(buf[:])
	}
}

func writeVarBytes(b *bytes.Buffer, data []byte) {
	writeVarInt(b, uint64(len(data)))
	b.Write(data)
}
