package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-statechain/internal/protocol"
	"github.com/Klingon-tech/klingnet-statechain/internal/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recipient = "tsc1recipient"

type sendFixture struct {
	store   *countingStore
	server  *fakeServer
	chain   *fakeChain
	crypto  *fakeCrypto
	builder *fakeBuilder
	sender  *Sender
}

func confirmedCoin(id string, locktime uint32) wallet.Coin {
	return wallet.Coin{
		Index:        0,
		UserPubkey:   "user-a",
		AuthPrivkey:  "auth-a",
		AuthPubkey:   "auth-a-pub",
		StatechainID: id,
		Amount:       100_000,
		Locktime:     wallet.Uint32Ptr(locktime),
		UTXOTxid:     testTxID,
		UTXOVout:     0,
		Status:       wallet.StatusConfirmed,
	}
}

// newSendFixture stores wallet "alice" holding coin sc1 at locktime
// 800000 with a one-transaction backup chain, and a chain at height 700000.
func newSendFixture(t *testing.T) *sendFixture {
	t.Helper()
	f := &sendFixture{
		store:  newCountingStore(),
		server: newFakeServer(),
		chain:  newFakeChain(700_000),
		crypto: newFakeCrypto(t),
	}
	f.builder = &fakeBuilder{interval: f.server.interval, crypto: f.crypto}
	f.store.saveWallet(t, "alice", confirmedCoin("sc1", 800_000))
	require.NoError(t, f.store.SaveBackupTxs("sc1", []wallet.BackupTx{{TxN: 1, Tx: "backup-sc1-1"}}))
	f.crypto.locktimes["backup-sc1-1"] = 800_000

	f.sender = NewSender(Deps{
		Store:   f.store,
		Server:  f.server,
		Chain:   f.chain,
		Crypto:  f.crypto,
		Builder: f.builder,
	})
	f.sender.now = func() time.Time { return testNow }
	return f
}

func TestSend_Success(t *testing.T) {
	f := newSendFixture(t)

	coin, err := f.sender.Send(context.Background(), "alice", "sc1", recipient, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, wallet.StatusInTransfer, coin.Status)

	require.Len(t, f.server.senderReqs, 1)
	req := f.server.senderReqs[0]
	assert.Equal(t, "sc1", req.StatechainID)
	assert.Equal(t, "sig(auth-a,sc1)", req.AuthSig)
	assert.Equal(t, "02aa", req.NewUserAuthKey)
	assert.Equal(t, "batch-1", req.BatchID)

	require.Len(t, f.builder.calls, 1)
	assert.Equal(t, builderCall{txN: 2, basis: 800_000, to: recipient, network: "regtest"}, f.builder.calls[0])

	require.Len(t, f.server.updateReqs, 1)
	assert.Equal(t, "x1|"+recipient+"|2", f.server.updateReqs[0].EncTransferMsg)

	chain, err := f.store.LoadBackupTxs("sc1")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, uint32(2), chain[1].TxN)
	lt, err := f.crypto.BackupTxLocktime(chain[1])
	require.NoError(t, err)
	assert.Equal(t, uint32(799_990), lt)

	w := f.store.wallet(t, "alice")
	assert.Equal(t, wallet.StatusInTransfer, w.Coins[0].Status)
	require.Len(t, w.Activities, 1)
	assert.Equal(t, wallet.ActionTransfer, w.Activities[0].Action)
	assert.Equal(t, uint64(100_000), w.Activities[0].Amount)
	assert.Equal(t, testTxID+":0", w.Activities[0].UTXO)
	assert.True(t, w.Activities[0].Date.Equal(testNow))
	assert.Equal(t, 1, f.store.commits)
}

func TestSend_FromInTransfer(t *testing.T) {
	f := newSendFixture(t)
	_, err := f.sender.Send(context.Background(), "alice", "sc1", recipient, "")
	require.NoError(t, err)

	_, err = f.sender.Send(context.Background(), "alice", "sc1", recipient, "")
	require.NoError(t, err)

	chain, err := f.store.LoadBackupTxs("sc1")
	require.NoError(t, err)
	assert.Len(t, chain, 3)
	assert.Equal(t, builderCall{txN: 3, basis: 799_990, to: recipient, network: "regtest"}, f.builder.calls[1])
	assert.Len(t, f.store.wallet(t, "alice").Activities, 2)
}

func TestSend_Preconditions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *sendFixture)
		id    string
		to    string
	}{
		{
			name: "empty backup chain",
			setup: func(t *testing.T, f *sendFixture) {
				require.NoError(t, f.store.SaveBackupTxs("sc1", nil))
			},
		},
		{
			name: "no coin with id",
			setup: func(t *testing.T, f *sendFixture) {
				require.NoError(t, f.store.SaveBackupTxs("sc9", []wallet.BackupTx{{TxN: 1, Tx: "backup-sc1-1"}}))
			},
			id: "sc9",
		},
		{name: "empty id", id: "-"},
		{
			name:  "initialised coin",
			setup: editCoin(func(c *wallet.Coin) { c.Status = wallet.StatusInitialised }),
		},
		{
			name:  "unconfirmed coin",
			setup: editCoin(func(c *wallet.Coin) { c.Status = wallet.StatusUnconfirmed }),
		},
		{
			name:  "withdrawn coin",
			setup: editCoin(func(c *wallet.Coin) { c.Status = wallet.StatusWithdrawn }),
		},
		{
			name:  "nil locktime",
			setup: editCoin(func(c *wallet.Coin) { c.Locktime = nil }),
		},
		{
			name:  "locktime at height",
			setup: editCoin(func(c *wallet.Coin) { c.Locktime = wallet.Uint32Ptr(700_000) }),
		},
		{
			name:  "locktime below height",
			setup: editCoin(func(c *wallet.Coin) { c.Locktime = wallet.Uint32Ptr(650_000) }),
		},
		{name: "bad recipient", to: "bad-address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSendFixture(t)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			id, to := "sc1", recipient
			if tt.id == "-" {
				id = ""
			} else if tt.id != "" {
				id = tt.id
			}
			if tt.to != "" {
				to = tt.to
			}
			before := f.store.wallet(t, "alice")

			_, err := f.sender.Send(context.Background(), "alice", id, to, "")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrPrecondition)
			var perr *PreconditionError
			assert.ErrorAs(t, err, &perr)

			assert.Zero(t, f.server.calls())
			assert.Empty(t, f.builder.calls)
			assert.Zero(t, f.store.commits)
			assert.Equal(t, before, f.store.wallet(t, "alice"))
		})
	}
}

func editCoin(fn func(c *wallet.Coin)) func(t *testing.T, f *sendFixture) {
	return func(t *testing.T, f *sendFixture) {
		w := f.store.wallet(t, "alice")
		fn(&w.Coins[0])
		require.NoError(t, f.store.SaveWallet(w))
	}
}

func TestSend_UpdateRejected(t *testing.T) {
	f := newSendFixture(t)
	f.server.updated = false

	_, err := f.sender.Send(context.Background(), "alice", "sc1", recipient, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocolFatal)

	w := f.store.wallet(t, "alice")
	assert.Equal(t, wallet.StatusConfirmed, w.Coins[0].Status)
	assert.Empty(t, w.Activities)
	chain, err := f.store.LoadBackupTxs("sc1")
	require.NoError(t, err)
	assert.Len(t, chain, 1)
	assert.Zero(t, f.store.commits)
}

func TestSend_ServerErrors(t *testing.T) {
	t.Run("unreachable passes through", func(t *testing.T) {
		f := newSendFixture(t)
		f.server.senderErr = protocol.ErrUnreachable

		_, err := f.sender.Send(context.Background(), "alice", "sc1", recipient, "")
		assert.ErrorIs(t, err, protocol.ErrUnreachable)
		assert.NotErrorIs(t, err, ErrProtocolFatal)
		assert.Empty(t, f.builder.calls)
	})

	t.Run("entity refusal is fatal", func(t *testing.T) {
		f := newSendFixture(t)
		f.server.updateErr = errors.New("invalid auth signature")

		_, err := f.sender.Send(context.Background(), "alice", "sc1", recipient, "")
		assert.ErrorIs(t, err, ErrProtocolFatal)
		assert.Zero(t, f.store.commits)
	})

	t.Run("builder failure", func(t *testing.T) {
		f := newSendFixture(t)
		f.builder.err = errors.New("cosign failed")

		_, err := f.sender.Send(context.Background(), "alice", "sc1", recipient, "")
		require.Error(t, err)
		assert.Empty(t, f.server.updateReqs)
		assert.Zero(t, f.store.commits)
	})

	t.Run("chain height failure", func(t *testing.T) {
		f := newSendFixture(t)
		f.chain.heightErr = errors.New("electrum down")

		_, err := f.sender.Send(context.Background(), "alice", "sc1", recipient, "")
		require.Error(t, err)
		assert.Zero(t, f.server.calls())
	})
}

func TestSend_SelfTransferPicksLowestLocktime(t *testing.T) {
	f := newSendFixture(t)
	old := confirmedCoin("sc1", 800_010)
	old.Index = 0
	old.Status = wallet.StatusInTransfer
	live := confirmedCoin("sc1", 800_000)
	live.Index = 1
	live.AuthPrivkey = "auth-b"

	w := f.store.wallet(t, "alice")
	w.Coins = []wallet.Coin{old, live}
	require.NoError(t, f.store.SaveWallet(w))

	coin, err := f.sender.Send(context.Background(), "alice", "sc1", recipient, "")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), coin.Index)
	assert.Equal(t, "sig(auth-b,sc1)", f.server.senderReqs[0].AuthSig)

	got := f.store.wallet(t, "alice")
	assert.Equal(t, wallet.StatusInTransfer, got.Coins[0].Status)
	assert.Equal(t, wallet.StatusInTransfer, got.Coins[1].Status)
	assert.Equal(t, uint32(800_010), *got.Coins[0].Locktime)
}
