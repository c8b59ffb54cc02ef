// Package txbuilder builds the next backup transaction of a statecoin and
// co-signs it with the statechain entity in a blinded two-party Schnorr
// session.
package txbuilder

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-statechain/internal/log"
	"github.com/Klingon-tech/klingnet-statechain/internal/protocol"
	"github.com/Klingon-tech/klingnet-statechain/internal/wallet"
	"github.com/Klingon-tech/klingnet-statechain/pkg/tx"
	"github.com/Klingon-tech/klingnet-statechain/pkg/types"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Builder errors.
var (
	ErrNetworkMismatch = errors.New("transfer address is for another network")
	ErrMissingKeyData  = errors.New("coin has no co-signing key data")
	ErrCosignFailed    = errors.New("co-signed signature does not verify")
)

// Cosigner is the entity side of the signing session.
type Cosigner interface {
	InfoConfig(ctx context.Context) (*protocol.ServerConfig, error)
	SignFirst(ctx context.Context, req *protocol.SignFirstRequest) (string, error)
	SignSecond(ctx context.Context, req *protocol.SignSecondRequest) (string, error)
}

// FeeEstimator returns a fee estimate in BTC/kB.
type FeeEstimator interface {
	EstimateFee(ctx context.Context, blocks int) (float64, error)
}

// Builder produces co-signed backup transactions.
type Builder struct {
	cosigner Cosigner
	fees     FeeEstimator
}

// New creates a builder.
func New(cosigner Cosigner, fees FeeEstimator) *Builder {
	return &Builder{cosigner: cosigner, fees: fees}
}

// NewBackupTx builds backup transaction txN for coin, paying the coin's
// value minus fee to the backup script of toAddress's user key, locked at
// basis minus the entity's interval.
func (b *Builder) NewBackupTx(ctx context.Context, coin *wallet.Coin, toAddress string, txN, basis uint32, network string) (*wallet.BackupTx, error) {
	addr, err := types.ParseTransferAddress(toAddress)
	if err != nil {
		return nil, err
	}
	if addr.HRP != types.HRPForNetwork(network) {
		return nil, fmt.Errorf("%w: %s on %s", ErrNetworkMismatch, addr.HRP, network)
	}
	if coin.ServerPubkey == "" || coin.SignedStatechainID == "" || !coin.HasUTXO() {
		return nil, ErrMissingKeyData
	}

	cfg, err := b.cosigner.InfoConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("entity config: %w", err)
	}
	if basis < cfg.Interval {
		return nil, fmt.Errorf("%w: basis %d, interval %d", tx.ErrLocktimeUnderrun, basis, cfg.Interval)
	}
	estimate, err := b.fees.EstimateFee(ctx, tx.FeeTargetBlocks)
	if err != nil {
		return nil, fmt.Errorf("estimate fee: %w", err)
	}
	feeRate := tx.FeeRateFromEstimate(estimate)

	amount := int64(coin.Amount)
	fee := tx.BackupFee(feeRate)
	if amount-fee < tx.DustLimit {
		return nil, fmt.Errorf("%w: %d sats after %d fee", tx.ErrDustOutput, amount-fee, fee)
	}

	recipient, err := secp256k1.ParsePubKey(addr.UserPubkey)
	if err != nil {
		return nil, fmt.Errorf("recipient user key: %w", err)
	}
	toScript, err := tx.BackupScript(recipient)
	if err != nil {
		return nil, err
	}
	op, err := coin.Outpoint()
	if err != nil {
		return nil, err
	}
	msg, err := tx.NewBuilder().
		AddInput(op).
		AddOutput(amount-fee, toScript).
		SetLockTime(basis - cfg.Interval).
		Build()
	if err != nil {
		return nil, err
	}

	s, err := newSession(coin)
	if err != nil {
		return nil, err
	}
	defer s.zero()

	fundScript, err := tx.KeyPathScript(s.aggregate)
	if err != nil {
		return nil, err
	}
	sighash, err := tx.SigHash(msg, 0, wire.NewTxOut(amount, fundScript))
	if err != nil {
		return nil, err
	}
	sig, err := s.sign(ctx, b.cosigner, coin, sighash)
	if err != nil {
		return nil, err
	}
	if err := tx.SetKeyPathSignature(msg, 0, sig); err != nil {
		return nil, err
	}
	raw, err := tx.Encode(msg)
	if err != nil {
		return nil, err
	}

	log.Transfer.Debug().
		Str("statechain_id", coin.StatechainID).
		Uint32("tx_n", txN).
		Uint32("locktime", msg.LockTime).
		Float64("fee_rate", feeRate).
		Msg("Backup transaction co-signed")

	return &wallet.BackupTx{
		TxN:               txN,
		Tx:                raw,
		ClientPublicNonce: hex.EncodeToString(s.clientNonce.PubKey().SerializeCompressed()),
		ServerPublicNonce: s.serverNonce,
		ClientPublicKey:   coin.UserPubkey,
		ServerPublicKey:   coin.ServerPubkey,
		BlindingFactor:    s.blindingHex,
	}, nil
}
