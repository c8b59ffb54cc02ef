package transfer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-statechain/internal/protocol"
	"github.com/Klingon-tech/klingnet-statechain/internal/wallet"
	"github.com/Klingon-tech/klingnet-statechain/pkg/tx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receiveFixture struct {
	store    *countingStore
	server   *fakeServer
	chain    *fakeChain
	crypto   *fakeCrypto
	receiver *Receiver
}

func initialisedCoin(index uint32) wallet.Coin {
	return wallet.Coin{
		Index:       index,
		UserPubkey:  fmt.Sprintf("user-b%d", index),
		AuthPrivkey: fmt.Sprintf("auth-b%d", index),
		AuthPubkey:  fmt.Sprintf("auth-b%d-pub", index),
		Status:      wallet.StatusInitialised,
	}
}

// newReceiveFixture stores wallet "bob" with the given number of
// INITIALISED coins. Chain height is 100.
func newReceiveFixture(t *testing.T, coins int) *receiveFixture {
	t.Helper()
	f := &receiveFixture{
		store:  newCountingStore(),
		server: newFakeServer(),
		chain:  newFakeChain(100),
		crypto: newFakeCrypto(t),
	}
	var cs []wallet.Coin
	for i := 0; i < coins; i++ {
		cs = append(cs, initialisedCoin(uint32(i)))
	}
	f.store.saveWallet(t, "bob", cs...)

	cfg := DefaultConfig()
	cfg.Retry = RetryPolicy{Delay: time.Millisecond}
	f.receiver = NewReceiver(cfg, Deps{
		Store:  f.store,
		Server: f.server,
		Chain:  f.chain,
		Crypto: f.crypto,
	})
	f.receiver.now = func() time.Time { return testNow }
	return f
}

// addMessage puts an encrypted message enc for statechain id into the
// mailbox of coin index. The message carries one backup transaction per
// locktime; the entity reports sigs signatures.
func (f *receiveFixture) addMessage(index int, enc, id string, sigs int, locktimes ...uint32) *protocol.TransferMsg {
	msg := &protocol.TransferMsg{StatechainID: id, T1: "t1", UserPublicKey: "user-a"}
	info := &protocol.StatechainInfoResponse{EnclavePublicKey: "enclave", NumSigs: sigs}
	for i, lt := range locktimes {
		raw := fmt.Sprintf("%s-%s-%d", enc, id, i+1)
		f.crypto.locktimes[raw] = lt
		msg.BackupTransactions = append(msg.BackupTransactions, wallet.BackupTx{TxN: uint32(i + 1), Tx: raw})
		info.StatechainInfo = append(info.StatechainInfo, protocol.StatechainInfo{StatechainID: id, TxN: uint32(i + 1)})
	}
	f.crypto.msgs[enc] = msg
	f.server.info[id] = info

	auth := initialisedCoin(uint32(index)).AuthPubkey
	f.server.mailbox[auth] = append(f.server.mailbox[auth], enc)

	op := f.crypto.op
	f.chain.txs[op.TxID.String()] = "tx0"
	f.chain.utxos["sh-"+op.String()] = []protocol.Unspent{{TxHash: op.TxID.String(), TxPos: op.Index, Height: 90, Value: 100_000}}
	return msg
}

func TestReceive_Success(t *testing.T) {
	f := newReceiveFixture(t, 1)
	msg := f.addMessage(0, "enc1", "sc1", 2, 1000, 990)

	ids, err := f.receiver.Receive(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"sc1"}, ids)

	require.Len(t, f.server.unlockReqs, 1)
	assert.Equal(t, &protocol.TransferUnlockRequest{
		StatechainID: "sc1",
		AuthSig:      "sig(auth-b0,sc1)",
		AuthPubKey:   "auth-b0-pub",
	}, f.server.unlockReqs[0])
	require.Len(t, f.server.receiverReqs, 1)
	assert.Equal(t, []int{tx.FeeTargetBlocks}, f.chain.targets)

	w := f.store.wallet(t, "bob")
	coin := w.Coins[0]
	assert.Equal(t, wallet.StatusConfirmed, coin.Status)
	assert.Equal(t, "sc1", coin.StatechainID)
	assert.Equal(t, "server-pub", coin.ServerPubkey)
	assert.Equal(t, "agg-sc1", coin.AggregatedPubkey)
	assert.Equal(t, "regtest-addr-sc1", coin.AggregatedAddress)
	assert.Equal(t, "signed-sc1", coin.SignedStatechainID)
	assert.Equal(t, uint64(100_000), coin.Amount)
	assert.Equal(t, testTxID, coin.UTXOTxid)
	require.NotNil(t, coin.Locktime)
	assert.Equal(t, uint32(990), *coin.Locktime)

	require.Len(t, w.Activities, 1)
	assert.Equal(t, wallet.ActionReceive, w.Activities[0].Action)
	assert.Equal(t, testTxID+":0", w.Activities[0].UTXO)

	chain, err := f.store.LoadBackupTxs("sc1")
	require.NoError(t, err)
	assert.Equal(t, msg.BackupTransactions, chain)
	assert.Equal(t, 1, f.store.commits)
}

func TestReceive_Unconfirmed(t *testing.T) {
	tests := []struct {
		name   string
		height int64
	}{
		{"mempool", 0},
		{"one confirmation", 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReceiveFixture(t, 1)
			f.addMessage(0, "enc1", "sc1", 1, 1000)
			for k := range f.chain.utxos {
				f.chain.utxos[k][0].Height = tt.height
			}

			ids, err := f.receiver.Receive(context.Background(), "bob")
			require.NoError(t, err)
			assert.Equal(t, []string{"sc1"}, ids)
			assert.Equal(t, wallet.StatusUnconfirmed, f.store.wallet(t, "bob").Coins[0].Status)
		})
	}
}

func TestReceive_NumSigsMismatch(t *testing.T) {
	f := newReceiveFixture(t, 1)
	f.addMessage(0, "enc1", "sc1", 3, 1000, 990)

	ids, err := f.receiver.Receive(context.Background(), "bob")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, f.server.unlockReqs)
	assert.Empty(t, f.server.receiverReqs)
	assert.Zero(t, f.store.commits)
	assert.Equal(t, wallet.StatusInitialised, f.store.wallet(t, "bob").Coins[0].Status)
}

func TestReceive_BatchLockedThenSuccess(t *testing.T) {
	f := newReceiveFixture(t, 1)
	f.addMessage(0, "enc1", "sc1", 1, 1000)
	locked := &batchErr{protocol.ErrBatchLocked}
	f.server.receiverErrs = []error{locked, locked}

	ids, err := f.receiver.Receive(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"sc1"}, ids)
	assert.Len(t, f.server.receiverReqs, 3)
	assert.Len(t, f.server.unlockReqs, 1)
	assert.Equal(t, 1, f.store.commits)
}

type batchErr struct{ kind error }

func (e *batchErr) Error() string        { return "entity: " + e.kind.Error() }
func (e *batchErr) Is(target error) bool { return target == e.kind }

func TestReceive_BatchLockedCap(t *testing.T) {
	f := newReceiveFixture(t, 1)
	f.receiver.cfg.Retry.MaxAttempts = 2
	f.addMessage(0, "enc1", "sc1", 1, 1000)
	f.server.receiverErrs = []error{protocol.ErrBatchLocked, protocol.ErrBatchLocked, protocol.ErrBatchLocked}

	ids, err := f.receiver.Receive(context.Background(), "bob")
	assert.Empty(t, ids)
	assert.ErrorIs(t, err, ErrProtocolFatal)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Len(t, f.server.receiverReqs, 2)
	assert.Zero(t, f.store.commits)
}

func TestReceive_BatchExpired(t *testing.T) {
	f := newReceiveFixture(t, 1)
	f.addMessage(0, "enc1", "sc1", 1, 1000)
	f.server.receiverErrs = []error{&batchErr{protocol.ErrBatchExpired}}

	ids, err := f.receiver.Receive(context.Background(), "bob")
	assert.Empty(t, ids)
	assert.ErrorIs(t, err, ErrProtocolFatal)
	assert.ErrorIs(t, err, protocol.ErrBatchExpired)
	assert.Len(t, f.server.receiverReqs, 1)
	assert.Zero(t, f.store.commits)
	assert.Equal(t, wallet.StatusInitialised, f.store.wallet(t, "bob").Coins[0].Status)
}

func TestReceive_FatalKeepsEarlierClaims(t *testing.T) {
	f := newReceiveFixture(t, 3)
	f.addMessage(0, "enc1", "sc1", 1, 1000)
	f.addMessage(1, "enc2", "sc2", 1, 1000)
	f.addMessage(2, "enc3", "sc3", 1, 1000)
	f.server.receiverFail["sc2"] = errors.New("statecoin not owned")

	ids, err := f.receiver.Receive(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrProtocolFatal)
	assert.Equal(t, []string{"sc1"}, ids)
	assert.Equal(t, 1, f.store.commits)

	w := f.store.wallet(t, "bob")
	assert.Equal(t, wallet.StatusConfirmed, w.Coins[0].Status)
	assert.Equal(t, wallet.StatusInitialised, w.Coins[1].Status)
	assert.Equal(t, wallet.StatusInitialised, w.Coins[2].Status)
	assert.Len(t, w.Activities, 1)

	chain, err := f.store.LoadBackupTxs("sc2")
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestReceive_Idempotent(t *testing.T) {
	f := newReceiveFixture(t, 1)
	f.addMessage(0, "enc1", "sc1", 1, 1000)

	ids, err := f.receiver.Receive(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, []string{"sc1"}, ids)
	first := f.store.wallet(t, "bob")

	ids, err = f.receiver.Receive(context.Background(), "bob")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Len(t, f.server.receiverReqs, 1)
	assert.Equal(t, 1, f.store.commits)
	assert.Equal(t, first, f.store.wallet(t, "bob"))
}

func TestReceive_NothingToReceive(t *testing.T) {
	f := newReceiveFixture(t, 2)

	ids, err := f.receiver.Receive(context.Background(), "bob")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Zero(t, f.store.commits)
}

func TestReceive_BadMessageThenGood(t *testing.T) {
	f := newReceiveFixture(t, 1)
	auth := initialisedCoin(0).AuthPubkey
	f.server.mailbox[auth] = []string{"garbage"}
	f.addMessage(0, "enc1", "sc1", 1, 1000)

	ids, err := f.receiver.Receive(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"sc1"}, ids)
}

func TestReceive_UndecryptableMessage(t *testing.T) {
	f := newReceiveFixture(t, 1)
	auth := initialisedCoin(0).AuthPubkey
	f.server.mailbox[auth] = []string{"garbage"}

	ids, err := f.receiver.Receive(context.Background(), "bob")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, f.server.unlockReqs)
	assert.Zero(t, f.store.commits)
	assert.Equal(t, wallet.StatusInitialised, f.store.wallet(t, "bob").Coins[0].Status)
}

func TestReceive_OutOfSequenceBackups(t *testing.T) {
	f := newReceiveFixture(t, 1)
	msg := f.addMessage(0, "enc1", "sc1", 2, 1000, 990)
	msg.BackupTransactions[1].TxN = 7
	f.server.info["sc1"].StatechainInfo[1].TxN = 7

	ids, err := f.receiver.Receive(context.Background(), "bob")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, f.server.unlockReqs)
	assert.Empty(t, f.server.receiverReqs)
	assert.Zero(t, f.store.commits)

	chain, err := f.store.LoadBackupTxs("sc1")
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestReceive_OneClaimPerCoin(t *testing.T) {
	f := newReceiveFixture(t, 1)
	f.addMessage(0, "enc1", "sc1", 1, 1000)
	f.addMessage(0, "enc2", "sc2", 1, 1000)

	ids, err := f.receiver.Receive(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"sc1"}, ids)
	require.Len(t, f.server.receiverReqs, 1)
	assert.Equal(t, "sc1", f.server.receiverReqs[0].StatechainID)
}

func TestReceive_SkipsCoinsNotInitialised(t *testing.T) {
	f := newReceiveFixture(t, 1)
	f.addMessage(0, "enc1", "sc1", 1, 1000)
	w := f.store.wallet(t, "bob")
	w.Coins[0].Status = wallet.StatusConfirmed
	require.NoError(t, f.store.SaveWallet(w))

	ids, err := f.receiver.Receive(context.Background(), "bob")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, f.server.unlockReqs)
}

func TestReceive_TransportErrorPropagates(t *testing.T) {
	f := newReceiveFixture(t, 1)
	f.addMessage(0, "enc1", "sc1", 1, 1000)
	f.server.infoErr = fmt.Errorf("get info/statechain/sc1: %w", protocol.ErrUnreachable)

	ids, err := f.receiver.Receive(context.Background(), "bob")
	assert.Empty(t, ids)
	assert.ErrorIs(t, err, protocol.ErrUnreachable)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.Zero(t, f.store.commits)
}

func TestReceive_CommitFailure(t *testing.T) {
	f := newReceiveFixture(t, 1)
	f.addMessage(0, "enc1", "sc1", 1, 1000)
	f.store.commitErr = errors.New("disk full")

	_, err := f.receiver.Receive(context.Background(), "bob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, wallet.StatusInitialised, f.store.wallet(t, "bob").Coins[0].Status)
}
