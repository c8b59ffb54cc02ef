package transfer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-statechain/internal/engine"
	"github.com/Klingon-tech/klingnet-statechain/internal/protocol"
	"github.com/Klingon-tech/klingnet-statechain/internal/storage"
	"github.com/Klingon-tech/klingnet-statechain/internal/wallet"
	"github.com/Klingon-tech/klingnet-statechain/pkg/types"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const testTxID = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"

// countingStore is a memory-backed wallet store that counts commits.
type countingStore struct {
	*wallet.Store
	commits   int
	commitErr error
}

func newCountingStore() *countingStore {
	return &countingStore{Store: wallet.NewStore(storage.NewMemory())}
}

func (s *countingStore) Commit(w *wallet.Wallet, chains map[string][]wallet.BackupTx) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	s.commits++
	return s.Store.Commit(w, chains)
}

func (s *countingStore) saveWallet(t *testing.T, name string, coins ...wallet.Coin) {
	t.Helper()
	w, err := s.CreateWallet(name, "regtest")
	require.NoError(t, err)
	w.Coins = coins
	w.NextIndex = uint32(len(coins))
	require.NoError(t, s.SaveWallet(w))
}

func (s *countingStore) wallet(t *testing.T, name string) *wallet.Wallet {
	t.Helper()
	w, err := s.LoadWallet(name)
	require.NoError(t, err)
	return w
}

type fakeServer struct {
	interval     uint32
	mailbox      map[string][]string
	info         map[string]*protocol.StatechainInfoResponse
	infoErr      error
	x1           string
	senderErr    error
	updated      bool
	updateErr    error
	unlockErr    error
	receiverErrs []error
	receiverFail map[string]error
	serverPubkey string

	senderReqs   []*protocol.TransferSenderRequest
	updateReqs   []*protocol.TransferUpdateMsgRequest
	unlockReqs   []*protocol.TransferUnlockRequest
	receiverReqs []*protocol.TransferReceiverRequest
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		interval:     10,
		mailbox:      make(map[string][]string),
		info:         make(map[string]*protocol.StatechainInfoResponse),
		receiverFail: make(map[string]error),
		x1:           "x1",
		updated:      true,
		serverPubkey: "server-pub",
	}
}

func (s *fakeServer) calls() int {
	return len(s.senderReqs) + len(s.updateReqs) + len(s.unlockReqs) + len(s.receiverReqs)
}

func (s *fakeServer) InfoConfig(context.Context) (*protocol.ServerConfig, error) {
	return &protocol.ServerConfig{InitLock: 100 * s.interval, Interval: s.interval}, nil
}

func (s *fakeServer) StatechainInfo(_ context.Context, id string) (*protocol.StatechainInfoResponse, error) {
	if s.infoErr != nil {
		return nil, s.infoErr
	}
	info, ok := s.info[id]
	if !ok {
		return nil, fmt.Errorf("statechain %s: %w", id, protocol.ErrNotFound)
	}
	return info, nil
}

func (s *fakeServer) GetMsgAddr(_ context.Context, authPubkey string) ([]string, error) {
	return s.mailbox[authPubkey], nil
}

func (s *fakeServer) TransferSender(_ context.Context, req *protocol.TransferSenderRequest) (string, error) {
	s.senderReqs = append(s.senderReqs, req)
	return s.x1, s.senderErr
}

func (s *fakeServer) TransferUpdateMsg(_ context.Context, req *protocol.TransferUpdateMsgRequest) (bool, error) {
	s.updateReqs = append(s.updateReqs, req)
	return s.updated, s.updateErr
}

func (s *fakeServer) TransferReceiver(_ context.Context, req *protocol.TransferReceiverRequest) (string, error) {
	s.receiverReqs = append(s.receiverReqs, req)
	if err := s.receiverFail[req.StatechainID]; err != nil {
		return "", err
	}
	if len(s.receiverErrs) > 0 {
		err := s.receiverErrs[0]
		s.receiverErrs = s.receiverErrs[1:]
		return "", err
	}
	return s.serverPubkey, nil
}

func (s *fakeServer) TransferUnlock(_ context.Context, req *protocol.TransferUnlockRequest) error {
	s.unlockReqs = append(s.unlockReqs, req)
	return s.unlockErr
}

type fakeChain struct {
	height    uint32
	heightErr error
	txs       map[string]string
	utxos     map[string][]protocol.Unspent
	fee       float64
	targets   []int
}

func newFakeChain(height uint32) *fakeChain {
	return &fakeChain{
		height: height,
		txs:    make(map[string]string),
		utxos:  make(map[string][]protocol.Unspent),
		fee:    0.00002,
	}
}

func (c *fakeChain) GetTransaction(_ context.Context, txid string) (string, error) {
	raw, ok := c.txs[txid]
	if !ok {
		return "", fmt.Errorf("transaction %s not found", txid)
	}
	return raw, nil
}

func (c *fakeChain) ListUnspent(_ context.Context, scriptHash string) ([]protocol.Unspent, error) {
	return c.utxos[scriptHash], nil
}

func (c *fakeChain) BlockHeight(context.Context) (uint32, error) {
	return c.height, c.heightErr
}

func (c *fakeChain) EstimateFee(_ context.Context, target int) (float64, error) {
	c.targets = append(c.targets, target)
	return c.fee, nil
}

// fakeCrypto passes every check unless fail names it. Backup transactions
// are plain strings whose locktime is looked up in locktimes.
type fakeCrypto struct {
	op        types.Outpoint
	msgs      map[string]*protocol.TransferMsg
	locktimes map[string]uint32
	fail      map[string]error
	amount    uint64
}

func newFakeCrypto(t *testing.T) *fakeCrypto {
	op, err := types.NewOutpoint(testTxID, 0)
	require.NoError(t, err)
	return &fakeCrypto{
		op:        op,
		msgs:      make(map[string]*protocol.TransferMsg),
		locktimes: make(map[string]uint32),
		fail:      make(map[string]error),
		amount:    100_000,
	}
}

var errCheck = errors.New("check failed")

func (c *fakeCrypto) SignMessage(privHex, message string) (string, error) {
	return "sig(" + privHex + "," + message + ")", nil
}

func (c *fakeCrypto) DecodeTransferAddress(addr string) (*types.TransferAddress, error) {
	if addr == "bad-address" {
		return nil, errors.New("invalid bech32m")
	}
	return &types.TransferAddress{HRP: "tsc", UserPubkey: []byte{0x02, 0x01}, AuthPubkey: []byte{0x02, 0xaa}}, nil
}

func (c *fakeCrypto) Tx0Outpoint([]wallet.BackupTx) (types.Outpoint, error) {
	return c.op, nil
}

func (c *fakeCrypto) Tx0ScriptHash(op types.Outpoint, _ string) (string, error) {
	return "sh-" + op.String(), nil
}

func (c *fakeCrypto) BackupTxLocktime(b wallet.BackupTx) (uint32, error) {
	lt, ok := c.locktimes[b.Tx]
	if !ok {
		return 0, fmt.Errorf("unknown backup tx %q", b.Tx)
	}
	return lt, nil
}

func (c *fakeCrypto) CreateTransferSignature(string, types.Outpoint, *wallet.Coin) (string, error) {
	return "transfer-sig", nil
}

func (c *fakeCrypto) CreateTransferUpdateMsg(x1, toAddress string, coin *wallet.Coin, transferSig string, chain []wallet.BackupTx) (*protocol.TransferUpdateMsgRequest, error) {
	return &protocol.TransferUpdateMsgRequest{
		StatechainID:   coin.StatechainID,
		AuthSig:        "auth",
		NewUserAuthKey: "02aa",
		EncTransferMsg: fmt.Sprintf("%s|%s|%d", x1, toAddress, len(chain)),
	}, nil
}

func (c *fakeCrypto) DecryptTransferMsg(encHex, _ string) (*protocol.TransferMsg, error) {
	msg, ok := c.msgs[encHex]
	if !ok {
		return nil, errors.New("cipher: message authentication failed")
	}
	return msg, nil
}

func (c *fakeCrypto) VerifyTransferSignature(string, types.Outpoint, *protocol.TransferMsg) error {
	return c.fail[CheckTransferSignature]
}

func (c *fakeCrypto) ValidateTx0OutputPubkey(string, *protocol.TransferMsg, types.Outpoint, string) error {
	return c.fail[CheckOutputKey]
}

func (c *fakeCrypto) VerifyLatestBackupTxPaysTo(*protocol.TransferMsg, string) error {
	return c.fail[CheckRecipient]
}

func (c *fakeCrypto) VerifyTransactionSignature(string, string, float64, float64) error {
	return c.fail[CheckBackupSignature]
}

func (c *fakeCrypto) VerifyBlindedMusigScheme(wallet.BackupTx, string, protocol.StatechainInfo) error {
	return c.fail[CheckBlindedMusig]
}

func (c *fakeCrypto) CreateTransferReceiverRequest(msg *protocol.TransferMsg, coin *wallet.Coin) (*protocol.TransferReceiverRequest, error) {
	return &protocol.TransferReceiverRequest{StatechainID: msg.StatechainID, T2: "t2", AuthSig: "sig"}, nil
}

func (c *fakeCrypto) NewKeyInfo(serverPubkey string, coin *wallet.Coin, id string, op types.Outpoint, _ string, network string) (*engine.KeyInfo, error) {
	return &engine.KeyInfo{
		AggregatePubkey:    "agg-" + id,
		AggregateAddress:   network + "-addr-" + id,
		SignedStatechainID: "signed-" + id,
		Amount:             c.amount,
	}, nil
}

type fakeBuilder struct {
	interval uint32
	crypto   *fakeCrypto
	err      error
	calls    []builderCall
}

type builderCall struct {
	txN, basis uint32
	to         string
	network    string
}

func (b *fakeBuilder) NewBackupTx(_ context.Context, coin *wallet.Coin, toAddress string, txN, basis uint32, network string) (*wallet.BackupTx, error) {
	b.calls = append(b.calls, builderCall{txN: txN, basis: basis, to: toAddress, network: network})
	if b.err != nil {
		return nil, b.err
	}
	raw := fmt.Sprintf("backup-%s-%d", coin.StatechainID, txN)
	b.crypto.locktimes[raw] = basis - b.interval
	return &wallet.BackupTx{TxN: txN, Tx: raw}, nil
}
