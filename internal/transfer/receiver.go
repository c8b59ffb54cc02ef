package transfer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-statechain/internal/log"
	"github.com/Klingon-tech/klingnet-statechain/internal/protocol"
	"github.com/Klingon-tech/klingnet-statechain/internal/wallet"
	"github.com/Klingon-tech/klingnet-statechain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-statechain/pkg/tx"
)

// Receiver claims statecoins sent to the wallet's transfer addresses.
type Receiver struct {
	deps     Deps
	cfg      Config
	pipeline *Pipeline
	now      func() time.Time
}

// NewReceiver creates a receiver.
func NewReceiver(cfg Config, deps Deps) *Receiver {
	return &Receiver{
		deps:     deps,
		cfg:      cfg,
		pipeline: NewPipeline(cfg, deps.Server, deps.Chain, deps.Crypto),
		now:      time.Now,
	}
}

// receiveRun is the state of one Receive call.
type receiveRun struct {
	snap    *wallet.Wallet
	params  Params
	claimed []string
	chains  map[string][]wallet.BackupTx
}

// Receive polls the entity for transfer messages addressed to the wallet's
// INITIALISED coins and claims every one that verifies. It returns the
// claimed statechain ids. Messages that fail verification are logged and
// dropped. On a fatal error the claims completed so far are still
// committed and returned alongside the error.
func (r *Receiver) Receive(ctx context.Context, walletName string) ([]string, error) {
	w, err := r.deps.Store.LoadWallet(walletName)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}

	srvCfg, err := r.deps.Server.InfoConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("entity config: %w", err)
	}
	estimate, err := r.deps.Chain.EstimateFee(ctx, tx.FeeTargetBlocks)
	if err != nil {
		return nil, fmt.Errorf("estimate fee: %w", err)
	}

	run := &receiveRun{
		snap: w.Clone(),
		params: Params{
			Interval: srvCfg.Interval,
			FeeRate:  tx.FeeRateFromEstimate(estimate),
		},
		chains: make(map[string][]wallet.BackupTx),
	}

	runErr := r.receiveAll(ctx, run)

	if len(run.claimed) > 0 {
		if err := r.deps.Store.Commit(run.snap, run.chains); err != nil {
			return nil, errors.Join(runErr, fmt.Errorf("commit received coins: %w", err))
		}
	}
	return run.claimed, runErr
}

func (r *Receiver) receiveAll(ctx context.Context, run *receiveRun) error {
	for i := range run.snap.Coins {
		coin := &run.snap.Coins[i]
		if coin.Status != wallet.StatusInitialised {
			continue
		}

		msgs, err := r.deps.Server.GetMsgAddr(ctx, coin.AuthPubkey)
		if err != nil {
			return fmt.Errorf("get transfer messages: %w", err)
		}

		for _, enc := range msgs {
			ok, err := r.receiveMessage(ctx, run, coin, enc)
			if err != nil {
				return err
			}
			if ok {
				break
			}
		}
	}
	return nil
}

// receiveMessage verifies and claims one encrypted message for coin. It
// reports whether the coin now holds a statecoin.
func (r *Receiver) receiveMessage(ctx context.Context, run *receiveRun, coin *wallet.Coin, enc string) (bool, error) {
	fp := fingerprint(enc)

	msg, err := r.deps.Crypto.DecryptTransferMsg(enc, coin.AuthPrivkey)
	if err != nil {
		logRejected("", fp, &ValidationError{Check: CheckDecrypt, Reason: "not addressed to this key", Err: err})
		return false, nil
	}

	v, err := r.pipeline.Verify(ctx, coin, msg, run.params)
	var verr *ValidationError
	if errors.As(err, &verr) {
		logRejected(msg.StatechainID, fp, verr)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	serverPubkey, err := r.claim(ctx, coin, msg)
	if err != nil {
		return false, err
	}

	info, err := r.deps.Crypto.NewKeyInfo(serverPubkey, coin, msg.StatechainID, v.Outpoint, v.Tx0Hex, run.snap.Network)
	if err != nil {
		return false, fmt.Errorf("%w: key info for %s: %w", ErrProtocolFatal, msg.StatechainID, err)
	}

	if err := coin.SetStatus(v.Status); err != nil {
		return false, err
	}
	coin.ServerPubkey = serverPubkey
	coin.AggregatedPubkey = info.AggregatePubkey
	coin.AggregatedAddress = info.AggregateAddress
	coin.StatechainID = msg.StatechainID
	coin.SignedStatechainID = info.SignedStatechainID
	coin.Amount = info.Amount
	coin.UTXOTxid = v.Outpoint.TxID.String()
	coin.UTXOVout = v.Outpoint.Index
	coin.Locktime = wallet.Uint32Ptr(v.Locktime)

	run.snap.AddActivity(coin.UTXOString(), coin.Amount, wallet.ActionReceive, r.now())
	run.chains[msg.StatechainID] = msg.BackupTransactions
	run.claimed = append(run.claimed, msg.StatechainID)

	log.Transfer.Info().
		Str("statechain_id", msg.StatechainID).
		Str("status", v.Status.String()).
		Uint64("amount", coin.Amount).
		Str("msg", fp).
		Msg("Statecoin received")
	return true, nil
}

// claim unlocks the statecoin and submits the receiver key update, waiting
// out a locked batch. It returns the entity's new public key share.
func (r *Receiver) claim(ctx context.Context, coin *wallet.Coin, msg *protocol.TransferMsg) (string, error) {
	req, err := r.deps.Crypto.CreateTransferReceiverRequest(msg, coin)
	if err != nil {
		return "", fmt.Errorf("receiver request: %w", err)
	}

	unlockSig, err := r.deps.Crypto.SignMessage(coin.AuthPrivkey, msg.StatechainID)
	if err != nil {
		return "", fmt.Errorf("sign statechain id: %w", err)
	}
	err = r.deps.Server.TransferUnlock(ctx, &protocol.TransferUnlockRequest{
		StatechainID: msg.StatechainID,
		AuthSig:      unlockSig,
		AuthPubKey:   coin.AuthPubkey,
	})
	if err != nil {
		return "", fatal("transfer unlock", err)
	}

	var serverPubkey string
	err = r.cfg.Retry.Do(ctx,
		func(err error) bool { return errors.Is(err, protocol.ErrBatchLocked) },
		func(attempt int, err error) {
			log.Transfer.Info().
				Str("statechain_id", msg.StatechainID).
				Int("attempt", attempt).
				Dur("delay", r.cfg.Retry.Delay).
				Msg("Statecoin batch still locked, waiting")
		},
		func() error {
			var err error
			serverPubkey, err = r.deps.Server.TransferReceiver(ctx, req)
			return err
		},
	)
	if err != nil {
		return "", fatal("transfer receiver", err)
	}
	return serverPubkey, nil
}

func fingerprint(enc string) string {
	raw, err := hex.DecodeString(enc)
	if err != nil {
		raw = []byte(enc)
	}
	return crypto.Fingerprint(raw)
}

func logRejected(statechainID, fp string, verr *ValidationError) {
	ev := log.Transfer.Warn().
		Str("check", verr.Check).
		Str("reason", verr.Reason).
		Str("msg", fp)
	if statechainID != "" {
		ev = ev.Str("statechain_id", statechainID)
	}
	if verr.Err != nil {
		ev = ev.Err(verr.Err)
	}
	ev.Msg("Transfer message rejected")
}
