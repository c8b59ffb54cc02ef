package tx

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-statechain/pkg/types"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Version is the transaction version used for backup transactions.
const Version = 2

// sequenceEnableLockTime makes nLockTime enforceable without opting into RBF.
const sequenceEnableLockTime = wire.MaxTxInSequenceNum - 1

// Builder constructs transactions incrementally.
type Builder struct {
	tx *wire.MsgTx
}

// NewBuilder creates a new transaction builder.
func NewBuilder() *Builder {
	return &Builder{tx: wire.NewMsgTx(Version)}
}

// AddInput adds an input spending prevOut with locktime enforcement enabled.
func (b *Builder) AddInput(prevOut types.Outpoint) *Builder {
	in := wire.NewTxIn(wire.NewOutPoint(&prevOut.TxID, prevOut.Index), nil, nil)
	in.Sequence = sequenceEnableLockTime
	b.tx.AddTxIn(in)
	return b
}

// AddOutput adds an output with a value and script.
func (b *Builder) AddOutput(value int64, pkScript []byte) *Builder {
	b.tx.AddTxOut(wire.NewTxOut(value, pkScript))
	return b
}

// SetLockTime sets the absolute block-height lock time.
func (b *Builder) SetLockTime(height uint32) *Builder {
	b.tx.LockTime = height
	return b
}

// Build returns the unsigned transaction.
func (b *Builder) Build() (*wire.MsgTx, error) {
	if len(b.tx.TxIn) == 0 {
		return nil, ErrNoInputs
	}
	if len(b.tx.TxOut) == 0 {
		return nil, ErrNoOutputs
	}
	return b.tx.Copy(), nil
}

// SigHash computes the BIP-341 key-path signature hash (SIGHASH_DEFAULT) for
// input idx, which spends prevOut.
func SigHash(msg *wire.MsgTx, idx int, prevOut *wire.TxOut) ([]byte, error) {
	if idx < 0 || idx >= len(msg.TxIn) {
		return nil, fmt.Errorf("input index %d out of range", idx)
	}
	fetcher := txscript.NewCannedPrevOutputFetcher(prevOut.PkScript, prevOut.Value)
	hashes := txscript.NewTxSigHashes(msg, fetcher)
	h, err := txscript.CalcTaprootSignatureHash(hashes, txscript.SigHashDefault, msg, idx, fetcher)
	if err != nil {
		return nil, fmt.Errorf("taproot sighash: %w", err)
	}
	return h, nil
}

// SetKeyPathSignature places a 64-byte Schnorr signature as the sole
// witness element of input idx.
func SetKeyPathSignature(msg *wire.MsgTx, idx int, sig []byte) error {
	if idx < 0 || idx >= len(msg.TxIn) {
		return fmt.Errorf("input index %d out of range", idx)
	}
	if len(sig) != 64 {
		return fmt.Errorf("signature must be 64 bytes, got %d", len(sig))
	}
	msg.TxIn[idx].Witness = wire.TxWitness{append([]byte(nil), sig...)}
	return nil
}

// KeyPathSignature returns the Schnorr signature from input idx's witness.
func KeyPathSignature(msg *wire.MsgTx, idx int) ([]byte, error) {
	if idx < 0 || idx >= len(msg.TxIn) {
		return nil, fmt.Errorf("input index %d out of range", idx)
	}
	w := msg.TxIn[idx].Witness
	if len(w) != 1 || len(w[0]) != 64 {
		return nil, ErrMissingWitness
	}
	return w[0], nil
}
