package engine

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/Klingon-tech/klingnet-statechain/internal/protocol"
	"github.com/Klingon-tech/klingnet-statechain/internal/wallet"
	"github.com/Klingon-tech/klingnet-statechain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-statechain/pkg/tx"
	"github.com/Klingon-tech/klingnet-statechain/pkg/types"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// KeyInfo describes a claimed statecoin under its new key pair.
type KeyInfo struct {
	AggregatePubkey    string
	AggregateAddress   string
	SignedStatechainID string
	Amount             uint64
}

// CreateTransferReceiverRequest computes t2 = t1 - o2 with the receiving
// coin's user key and signs it with the coin's auth key.
func (e *Engine) CreateTransferReceiverRequest(msg *protocol.TransferMsg, coin *wallet.Coin) (*protocol.TransferReceiverRequest, error) {
	t1, err := crypto.ParseScalarHex(msg.T1)
	if err != nil {
		return nil, fmt.Errorf("t1: %w", err)
	}
	o2, err := crypto.ParseScalarHex(coin.UserPrivkey)
	if err != nil {
		return nil, fmt.Errorf("user key: %w", err)
	}
	var t2 secp256k1.ModNScalar
	t2.NegateVal(o2).Add(t1)
	o2.Zero()

	t2Bytes := t2.Bytes()
	authSig, err := signDigest(coin.AuthPrivkey, crypto.SHA256(t2Bytes[:]))
	if err != nil {
		return nil, err
	}
	return &protocol.TransferReceiverRequest{
		StatechainID: msg.StatechainID,
		T2:           hex.EncodeToString(t2Bytes[:]),
		AuthSig:      authSig,
	}, nil
}

// NewKeyInfo derives the aggregate key of the coin's user key and the
// entity's new key, checks it still controls the funding output, and
// returns the coin's new public data.
func (e *Engine) NewKeyInfo(serverPubkey string, coin *wallet.Coin, statechainID string, op types.Outpoint, tx0Hex, network string) (*KeyInfo, error) {
	out, err := fundingOutput(op, tx0Hex)
	if err != nil {
		return nil, err
	}
	user, err := crypto.ParsePubKeyHex(coin.UserPubkey)
	if err != nil {
		return nil, fmt.Errorf("user key: %w", err)
	}
	server, err := crypto.ParsePubKeyHex(serverPubkey)
	if err != nil {
		return nil, fmt.Errorf("server key: %w", err)
	}
	agg, err := crypto.AddPubKeys(user, server)
	if err != nil {
		return nil, err
	}
	outputKey, err := tx.TaprootOutputKey(out.PkScript)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(crypto.XOnly(agg), crypto.XOnly(outputKey)) {
		return nil, fmt.Errorf("%w: new key pair does not control the funding output", ErrOutputKeyMismatch)
	}

	address, err := tx.Address(out.PkScript, network)
	if err != nil {
		return nil, err
	}
	signedID, err := e.SignMessage(coin.AuthPrivkey, statechainID)
	if err != nil {
		return nil, err
	}
	return &KeyInfo{
		AggregatePubkey:    hex.EncodeToString(agg.SerializeCompressed()),
		AggregateAddress:   address,
		SignedStatechainID: signedID,
		Amount:             uint64(out.Value),
	}, nil
}
