package transfer

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-statechain/internal/log"
	"github.com/Klingon-tech/klingnet-statechain/internal/protocol"
	"github.com/Klingon-tech/klingnet-statechain/internal/wallet"
)

// Sender hands a statecoin to a new owner.
type Sender struct {
	deps Deps
	now  func() time.Time
}

// NewSender creates a sender.
func NewSender(deps Deps) *Sender {
	return &Sender{deps: deps, now: time.Now}
}

// Send transfers the coin carrying statechainID to toAddress. On success
// the coin is IN_TRANSFER, its backup chain holds the new transaction, and
// the returned coin is a copy of the committed one. On any error nothing
// is persisted.
func (s *Sender) Send(ctx context.Context, walletName, statechainID, toAddress, batchID string) (*wallet.Coin, error) {
	if statechainID == "" {
		return nil, preconditionf("empty statechain id")
	}

	w, err := s.deps.Store.LoadWallet(walletName)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	chain, err := s.deps.Store.LoadBackupTxs(statechainID)
	if err != nil {
		return nil, fmt.Errorf("load backup txs: %w", err)
	}
	if len(chain) == 0 {
		return nil, preconditionf("no backup transactions for statechain %s", statechainID)
	}

	snap := w.Clone()
	idx, err := selectCoin(snap, statechainID)
	if err != nil {
		return nil, err
	}
	coin := &snap.Coins[idx]

	if !coin.Status.Transferable() {
		return nil, preconditionf("coin %s is %s", statechainID, coin.Status)
	}
	if coin.Locktime == nil {
		return nil, preconditionf("coin %s has no locktime", statechainID)
	}
	height, err := s.deps.Chain.BlockHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("block height: %w", err)
	}
	if *coin.Locktime <= height {
		return nil, preconditionf("coin %s locktime %d expired at height %d", statechainID, *coin.Locktime, height)
	}

	to, err := s.deps.Crypto.DecodeTransferAddress(toAddress)
	if err != nil {
		return nil, preconditionf("recipient address: %v", err)
	}

	authSig, err := s.deps.Crypto.SignMessage(coin.AuthPrivkey, statechainID)
	if err != nil {
		return nil, fmt.Errorf("sign statechain id: %w", err)
	}
	x1, err := s.deps.Server.TransferSender(ctx, &protocol.TransferSenderRequest{
		StatechainID:   statechainID,
		AuthSig:        authSig,
		NewUserAuthKey: hex.EncodeToString(to.AuthPubkey),
		BatchID:        batchID,
	})
	if err != nil {
		return nil, fatal("transfer sender", err)
	}

	basis, err := s.deps.Crypto.BackupTxLocktime(chain[len(chain)-1])
	if err != nil {
		return nil, fmt.Errorf("latest backup locktime: %w", err)
	}
	backup, err := s.deps.Builder.NewBackupTx(ctx, coin, toAddress, uint32(len(chain)+1), basis, snap.Network)
	if err != nil {
		return nil, fmt.Errorf("new backup tx: %w", err)
	}

	op, err := coin.Outpoint()
	if err != nil {
		return nil, fmt.Errorf("coin outpoint: %w", err)
	}
	transferSig, err := s.deps.Crypto.CreateTransferSignature(toAddress, op, coin)
	if err != nil {
		return nil, fmt.Errorf("transfer signature: %w", err)
	}

	extended := make([]wallet.BackupTx, 0, len(chain)+1)
	extended = append(extended, chain...)
	extended = append(extended, *backup)

	req, err := s.deps.Crypto.CreateTransferUpdateMsg(x1, toAddress, coin, transferSig, extended)
	if err != nil {
		return nil, fmt.Errorf("transfer message: %w", err)
	}
	updated, err := s.deps.Server.TransferUpdateMsg(ctx, req)
	if err != nil {
		return nil, fatal("transfer update", err)
	}
	if !updated {
		return nil, fmt.Errorf("%w: transfer message for %s not stored", ErrProtocolFatal, statechainID)
	}

	if err := coin.SetStatus(wallet.StatusInTransfer); err != nil {
		return nil, err
	}
	snap.AddActivity(coin.UTXOString(), coin.Amount, wallet.ActionTransfer, s.now())
	if err := s.deps.Store.Commit(snap, map[string][]wallet.BackupTx{statechainID: extended}); err != nil {
		return nil, fmt.Errorf("commit transfer: %w", err)
	}

	log.Transfer.Info().
		Str("statechain_id", statechainID).
		Uint32("tx_n", backup.TxN).
		Uint64("amount", coin.Amount).
		Msg("Transfer sent")

	sent := *coin
	return &sent, nil
}

// selectCoin picks the coin carrying id. Several coins share an id after a
// transfer to self; the lowest locktime is the live one.
func selectCoin(w *wallet.Wallet, id string) (int, error) {
	idx := w.CoinsWithStatechainID(id)
	switch len(idx) {
	case 0:
		return 0, preconditionf("no coin with statechain id %s", id)
	case 1:
		return idx[0], nil
	}

	best := -1
	for _, i := range idx {
		lt := w.Coins[i].Locktime
		if lt == nil {
			continue
		}
		if best < 0 || *lt < *w.Coins[best].Locktime {
			best = i
		}
	}
	if best < 0 {
		best = idx[0]
	}
	log.Transfer.Warn().
		Str("statechain_id", id).
		Int("coins", len(idx)).
		Uint32("index", w.Coins[best].Index).
		Msg("Several coins share a statechain id, using the lowest locktime")
	return best, nil
}
