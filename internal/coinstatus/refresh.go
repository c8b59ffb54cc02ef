// Package coinstatus moves coins from INITIALISED or UNCONFIRMED to the
// status their funding output has on chain.
package coinstatus

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/klingnet-statechain/internal/log"
	"github.com/Klingon-tech/klingnet-statechain/internal/protocol"
	"github.com/Klingon-tech/klingnet-statechain/internal/wallet"
	"github.com/Klingon-tech/klingnet-statechain/pkg/tx"
)

// Chain is the part of the indexer the refresher needs.
type Chain interface {
	ListUnspent(ctx context.Context, scriptHash string) ([]protocol.Unspent, error)
	BlockHeight(ctx context.Context) (uint32, error)
}

// Store loads and commits wallets.
type Store interface {
	LoadWallet(name string) (*wallet.Wallet, error)
	Commit(w *wallet.Wallet, chains map[string][]wallet.BackupTx) error
}

// Refresher updates coin statuses from the chain.
type Refresher struct {
	store              Store
	chain              Chain
	confirmationTarget uint32
}

// New creates a refresher.
func New(store Store, chain Chain, confirmationTarget uint32) *Refresher {
	return &Refresher{store: store, chain: chain, confirmationTarget: confirmationTarget}
}

// Refresh checks every INITIALISED coin with an aggregated address and
// every UNCONFIRMED coin, and persists the wallet if any coin changed.
// It returns the updated wallet.
func (r *Refresher) Refresh(ctx context.Context, walletName string) (*wallet.Wallet, error) {
	w, err := r.store.LoadWallet(walletName)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	snap := w.Clone()

	var (
		height     uint32
		haveHeight bool
		changed    int
	)
	for i := range snap.Coins {
		coin := &snap.Coins[i]
		if !pending(coin) {
			continue
		}
		if !haveHeight {
			if height, err = r.chain.BlockHeight(ctx); err != nil {
				return nil, fmt.Errorf("block height: %w", err)
			}
			haveHeight = true
		}

		ok, err := r.refreshCoin(ctx, coin, snap.Network, height)
		if err != nil {
			return nil, err
		}
		if ok {
			changed++
		}
	}

	if changed == 0 {
		return w, nil
	}
	if err := r.store.Commit(snap, nil); err != nil {
		return nil, fmt.Errorf("commit wallet: %w", err)
	}
	log.Wallet.Debug().Str("wallet", walletName).Int("coins", changed).Msg("Coin statuses refreshed")
	return snap, nil
}

func pending(c *wallet.Coin) bool {
	switch c.Status {
	case wallet.StatusInitialised:
		return c.AggregatedAddress != ""
	case wallet.StatusUnconfirmed:
		return true
	}
	return false
}

func (r *Refresher) refreshCoin(ctx context.Context, coin *wallet.Coin, network string, height uint32) (bool, error) {
	script, err := tx.AddressScript(coin.AggregatedAddress, network)
	if err != nil {
		return false, fmt.Errorf("coin %d aggregated address: %w", coin.Index, err)
	}
	utxos, err := r.chain.ListUnspent(ctx, tx.ScriptHash(script))
	if err != nil {
		return false, fmt.Errorf("list unspent: %w", err)
	}
	if len(utxos) == 0 {
		return false, nil
	}
	u := pickUTXO(coin, utxos)

	next := wallet.StatusUnconfirmed
	if u.Height > 0 && int64(height)-u.Height+1 >= int64(r.confirmationTarget) {
		next = wallet.StatusConfirmed
	}
	if next == coin.Status && coin.UTXOTxid == u.TxHash && coin.UTXOVout == u.TxPos {
		return false, nil
	}
	if err := coin.SetStatus(next); err != nil {
		return false, err
	}
	coin.UTXOTxid = u.TxHash
	coin.UTXOVout = u.TxPos
	coin.Amount = u.Value

	log.Wallet.Info().
		Str("statechain_id", coin.StatechainID).
		Str("utxo", coin.UTXOString()).
		Str("status", next.String()).
		Msg("Coin status updated")
	return true, nil
}

// pickUTXO prefers the output the coin already tracks.
func pickUTXO(coin *wallet.Coin, utxos []protocol.Unspent) protocol.Unspent {
	for _, u := range utxos {
		if u.TxHash == coin.UTXOTxid && u.TxPos == coin.UTXOVout {
			return u
		}
	}
	return utxos[0]
}
