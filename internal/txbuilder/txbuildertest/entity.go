// Package txbuildertest provides an in-memory statechain entity for tests:
// it holds the server key share of funded coins, answers co-signing
// requests and rotates its share on transfer.
package txbuildertest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-statechain/internal/protocol"
	"github.com/Klingon-tech/klingnet-statechain/internal/wallet"
	"github.com/Klingon-tech/klingnet-statechain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-statechain/pkg/tx"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ErrUnknownCoin is returned for statechain ids the entity never funded.
var ErrUnknownCoin = errors.New("unknown statechain id")

type coinState struct {
	key   secp256k1.ModNScalar
	x1    *secp256k1.ModNScalar
	nonce *secp256k1.PrivateKey
	info  []protocol.StatechainInfo
}

// Entity is a test double for the statechain entity's signing side.
type Entity struct {
	Interval uint32
	InitLock uint32
	// FeeRate is returned by EstimateFee, in BTC/kB.
	FeeRate float64
	// FeeTarget is the confirmation target of the last EstimateFee call.
	FeeTarget int

	mu    sync.Mutex
	coins map[string]*coinState
}

// NewEntity returns an entity with the given locktime interval and a
// 2 sat/vB fee estimate.
func NewEntity(interval uint32) *Entity {
	return &Entity{
		Interval: interval,
		InitLock: 10 * interval,
		FeeRate:  0.00002,
		coins:    make(map[string]*coinState),
	}
}

// InfoConfig implements txbuilder.Cosigner.
func (e *Entity) InfoConfig(context.Context) (*protocol.ServerConfig, error) {
	return &protocol.ServerConfig{InitLock: e.InitLock, Interval: e.Interval}, nil
}

// EstimateFee implements txbuilder.FeeEstimator.
func (e *Entity) EstimateFee(_ context.Context, target int) (float64, error) {
	e.mu.Lock()
	e.FeeTarget = target
	e.mu.Unlock()
	return e.FeeRate, nil
}

// SignFirst implements txbuilder.Cosigner.
func (e *Entity) SignFirst(_ context.Context, req *protocol.SignFirstRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.coins[req.StatechainID]
	if !ok {
		return "", ErrUnknownCoin
	}
	nonce, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return "", err
	}
	c.nonce = nonce
	return hex.EncodeToString(nonce.PubKey().SerializeCompressed()), nil
}

// SignSecond implements txbuilder.Cosigner and records the challenge.
func (e *Entity) SignSecond(_ context.Context, req *protocol.SignSecondRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.coins[req.StatechainID]
	if !ok {
		return "", ErrUnknownCoin
	}
	if c.nonce == nil {
		return "", errors.New("sign/second without sign/first")
	}
	challenge, err := crypto.ParseScalarHex(req.Challenge)
	if err != nil {
		return "", err
	}

	k := c.nonce.Key
	x := c.key
	if req.NegateNonce {
		k.Negate()
	}
	if req.NegateSeckey {
		x.Negate()
	}
	var s secp256k1.ModNScalar
	s.Mul2(challenge, &x).Add(&k)

	c.info = append(c.info, protocol.StatechainInfo{
		StatechainID:   req.StatechainID,
		ServerPubNonce: req.ServerPubNonce,
		Challenge:      req.Challenge,
		TxN:            uint32(len(c.info) + 1),
	})
	c.nonce = nil
	return crypto.ScalarHex(&s), nil
}

// Fund creates a server share for coin, builds a funding transaction
// paying amount to the aggregate key and fills in the coin's statechain
// fields. It returns the funding transaction hex.
func (e *Entity) Fund(coin *wallet.Coin, statechainID string, amount uint64, network string) (string, error) {
	server, err := crypto.GenerateKey()
	if err != nil {
		return "", err
	}
	user, err := crypto.ParsePubKeyHex(coin.UserPubkey)
	if err != nil {
		return "", err
	}
	agg, err := crypto.AddPubKeys(user, server.PubKey())
	if err != nil {
		return "", err
	}
	script, err := tx.KeyPathScript(agg)
	if err != nil {
		return "", err
	}
	address, err := tx.Address(script, network)
	if err != nil {
		return "", err
	}

	var prev chainhash.Hash
	if _, err := rand.Read(prev[:]); err != nil {
		return "", err
	}
	tx0 := wire.NewMsgTx(tx.Version)
	tx0.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prev, 0), nil, nil))
	tx0.AddTxOut(wire.NewTxOut(int64(amount), script))
	raw, err := tx.Encode(tx0)
	if err != nil {
		return "", err
	}

	auth, err := crypto.PrivateKeyFromHex(coin.AuthPrivkey)
	if err != nil {
		return "", err
	}
	signed, err := auth.Sign(crypto.SHA256([]byte(statechainID)))
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.coins[statechainID] = &coinState{key: server.Scalar()}
	e.mu.Unlock()

	coin.StatechainID = statechainID
	coin.SignedStatechainID = hex.EncodeToString(signed)
	coin.ServerPubkey = hex.EncodeToString(server.PublicKey())
	coin.AggregatedPubkey = hex.EncodeToString(agg.SerializeCompressed())
	coin.AggregatedAddress = address
	coin.Amount = amount
	coin.UTXOTxid = tx0.TxHash().String()
	coin.UTXOVout = 0
	return raw, nil
}

// PublicKey returns the entity's current key share for a coin.
func (e *Entity) PublicKey(statechainID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.coins[statechainID]
	if !ok {
		return "", ErrUnknownCoin
	}
	return hex.EncodeToString(secp256k1.NewPrivateKey(&c.key).PubKey().SerializeCompressed()), nil
}

// StatechainInfo returns the co-signing record of a coin.
func (e *Entity) StatechainInfo(statechainID string) (*protocol.StatechainInfoResponse, error) {
	pub, err := e.PublicKey(statechainID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.coins[statechainID]
	return &protocol.StatechainInfoResponse{
		EnclavePublicKey: pub,
		NumSigs:          len(c.info),
		StatechainInfo:   append([]protocol.StatechainInfo(nil), c.info...),
	}, nil
}

// NewX1 draws the one-time transfer value for a coin.
func (e *Entity) NewX1(statechainID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.coins[statechainID]
	if !ok {
		return "", ErrUnknownCoin
	}
	x1, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return "", err
	}
	c.x1 = &x1.Key
	return crypto.ScalarHex(c.x1), nil
}

// Rotate applies a receiver's t2: the new share is s + t2 - x1, so the
// aggregate key is unchanged. It returns the new public share.
func (e *Entity) Rotate(statechainID, t2Hex string) (string, error) {
	t2, err := crypto.ParseScalarHex(t2Hex)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	c, ok := e.coins[statechainID]
	if !ok {
		e.mu.Unlock()
		return "", ErrUnknownCoin
	}
	if c.x1 == nil {
		e.mu.Unlock()
		return "", fmt.Errorf("no pending transfer for %s", statechainID)
	}
	var negX1 secp256k1.ModNScalar
	negX1.NegateVal(c.x1)
	c.key.Add(t2).Add(&negX1)
	c.x1 = nil
	e.mu.Unlock()
	return e.PublicKey(statechainID)
}

// NewCoin derives a fresh INITIALISED coin from a random seed.
func NewCoin(network string) (*wallet.Coin, error) {
	seed := make([]byte, wallet.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	master, err := wallet.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	return wallet.NewCoin(master, network, 0)
}
