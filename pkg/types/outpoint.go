// Package types holds the small value types shared across the client:
// funding outpoints and statechain transfer addresses.
package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Outpoint references a specific output in a Bitcoin transaction.
type Outpoint struct {
	TxID  chainhash.Hash
	Index uint32
}

// NewOutpoint builds an outpoint from a txid in display (big-endian) hex.
func NewOutpoint(txid string, index uint32) (Outpoint, error) {
	h, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return Outpoint{}, fmt.Errorf("invalid txid %q: %w", txid, err)
	}
	if len(txid) != 2*chainhash.HashSize {
		return Outpoint{}, fmt.Errorf("invalid txid %q: want %d hex chars", txid, 2*chainhash.HashSize)
	}
	return Outpoint{TxID: *h, Index: index}, nil
}

// ParseOutpoint parses "txid:index".
func ParseOutpoint(s string) (Outpoint, error) {
	txid, idx, ok := strings.Cut(s, ":")
	if !ok {
		return Outpoint{}, fmt.Errorf("invalid outpoint %q: expected txid:index", s)
	}
	n, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return Outpoint{}, fmt.Errorf("invalid outpoint index %q: %w", idx, err)
	}
	return NewOutpoint(txid, uint32(n))
}

// IsZero returns true if the outpoint has a zero TxID and zero index.
func (o Outpoint) IsZero() bool {
	return o.TxID == chainhash.Hash{} && o.Index == 0
}

// String returns "txid:index" with the txid in display hex.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Index)
}
