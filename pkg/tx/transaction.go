// Package tx builds, decodes and measures the Bitcoin transactions that make
// up a statecoin's backup chain.
package tx

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/Klingon-tech/klingnet-statechain/pkg/types"
	"github.com/btcsuite/btcd/wire"
)

// Decode parses a hex-encoded serialized transaction (witness or legacy).
func Decode(txHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("decode tx hex: %w", err)
	}
	var msg wire.MsgTx
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("deserialize tx: %w", err)
	}
	return &msg, nil
}

// Encode serializes a transaction, witness included, to hex.
func Encode(msg *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	buf.Grow(msg.SerializeSize())
	if err := msg.Serialize(&buf); err != nil {
		return "", fmt.Errorf("serialize tx: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// LockTime returns the nLockTime of a hex-encoded transaction.
func LockTime(txHex string) (uint32, error) {
	msg, err := Decode(txHex)
	if err != nil {
		return 0, err
	}
	return msg.LockTime, nil
}

// FundingOutpoint returns the outpoint spent by the first input. Every
// backup transaction spends the statecoin's funding output this way.
func FundingOutpoint(msg *wire.MsgTx) (types.Outpoint, error) {
	if len(msg.TxIn) == 0 {
		return types.Outpoint{}, ErrNoInputs
	}
	prev := msg.TxIn[0].PreviousOutPoint
	return types.Outpoint{TxID: prev.Hash, Index: prev.Index}, nil
}

// OutputAt returns output idx or an error if it does not exist.
func OutputAt(msg *wire.MsgTx, idx uint32) (*wire.TxOut, error) {
	if int(idx) >= len(msg.TxOut) {
		return nil, fmt.Errorf("%w: index %d, tx has %d outputs", ErrOutputNotFound, idx, len(msg.TxOut))
	}
	return msg.TxOut[idx], nil
}
