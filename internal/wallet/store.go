package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-statechain/internal/log"
	"github.com/Klingon-tech/klingnet-statechain/internal/storage"
)

// Store errors.
var (
	ErrWalletExists   = errors.New("wallet already exists")
	ErrWalletNotFound = errors.New("wallet not found")
)

// Key layout inside the (network-prefixed) database.
var (
	walletPrefix = []byte("w/")
	chainPrefix  = []byte("b/")
)

func walletKey(name string) []byte {
	return append(append([]byte{}, walletPrefix...), name...)
}

func chainKey(statechainID string) []byte {
	return append(append([]byte{}, chainPrefix...), statechainID...)
}

// Store persists wallet snapshots and backup-transaction chains.
type Store struct {
	db storage.DB
}

// NewStore returns a store over db.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

// CreateWallet writes an empty wallet record for name.
func (s *Store) CreateWallet(name, network string) (*Wallet, error) {
	exists, err := s.db.Has(walletKey(name))
	if err != nil {
		return nil, fmt.Errorf("check wallet: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %q", ErrWalletExists, name)
	}
	w := &Wallet{
		Name:       name,
		Network:    network,
		Coins:      []Coin{},
		Activities: []Activity{},
	}
	if err := s.SaveWallet(w); err != nil {
		return nil, err
	}
	return w, nil
}

// LoadWallet reads the wallet snapshot for name.
func (s *Store) LoadWallet(name string) (*Wallet, error) {
	data, err := s.db.Get(walletKey(name))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrWalletNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load wallet %q: %w", name, err)
	}
	var w Wallet
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode wallet %q: %w", name, err)
	}
	return &w, nil
}

// SaveWallet overwrites the stored snapshot with w.
func (s *Store) SaveWallet(w *Wallet) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode wallet: %w", err)
	}
	return s.db.Put(walletKey(w.Name), data)
}

// ListWallets returns all wallet names, sorted.
func (s *Store) ListWallets() ([]string, error) {
	var names []string
	err := s.db.ForEach(walletPrefix, func(key, _ []byte) error {
		names = append(names, string(key[len(walletPrefix):]))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// LoadBackupTxs returns the backup chain of a statecoin, or an empty slice
// when none is stored.
func (s *Store) LoadBackupTxs(statechainID string) ([]BackupTx, error) {
	data, err := s.db.Get(chainKey(statechainID))
	if errors.Is(err, storage.ErrNotFound) {
		return []BackupTx{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load backup txs %s: %w", statechainID, err)
	}
	var txs []BackupTx
	if err := json.Unmarshal(data, &txs); err != nil {
		return nil, fmt.Errorf("decode backup txs %s: %w", statechainID, err)
	}
	return txs, nil
}

// SaveBackupTxs replaces the backup chain of a statecoin.
func (s *Store) SaveBackupTxs(statechainID string, txs []BackupTx) error {
	data, err := json.Marshal(txs)
	if err != nil {
		return fmt.Errorf("encode backup txs: %w", err)
	}
	return s.db.Put(chainKey(statechainID), data)
}

// Commit writes the wallet snapshot and every given backup chain in one
// batch. Nothing is written if encoding fails.
func (s *Store) Commit(w *Wallet, chains map[string][]BackupTx) error {
	batcher, ok := s.db.(storage.Batcher)
	if !ok {
		return fmt.Errorf("commit: database does not support batches")
	}
	batch := batcher.NewBatch()

	ids := make([]string, 0, len(chains))
	for id := range chains {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		data, err := json.Marshal(chains[id])
		if err != nil {
			return fmt.Errorf("encode backup txs %s: %w", id, err)
		}
		if err := batch.Put(chainKey(id), data); err != nil {
			return err
		}
	}

	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode wallet: %w", err)
	}
	if err := batch.Put(walletKey(w.Name), data); err != nil {
		return err
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit wallet %q: %w", w.Name, err)
	}
	log.Wallet.Debug().
		Str("wallet", w.Name).
		Int("coins", len(w.Coins)).
		Int("chains", len(chains)).
		Msg("Wallet committed")
	return nil
}
