// Package transfer implements the statecoin handoff: the sender side that
// hands a coin's backup chain to a new owner, the receiver side that claims
// incoming coins, and the verification checks a received transfer must pass.
package transfer

import (
	"context"

	"github.com/Klingon-tech/klingnet-statechain/internal/engine"
	"github.com/Klingon-tech/klingnet-statechain/internal/protocol"
	"github.com/Klingon-tech/klingnet-statechain/internal/wallet"
	"github.com/Klingon-tech/klingnet-statechain/pkg/types"
)

// ServerClient is the statechain entity's transfer API.
type ServerClient interface {
	InfoConfig(ctx context.Context) (*protocol.ServerConfig, error)
	StatechainInfo(ctx context.Context, statechainID string) (*protocol.StatechainInfoResponse, error)
	GetMsgAddr(ctx context.Context, authPubkey string) ([]string, error)
	TransferSender(ctx context.Context, req *protocol.TransferSenderRequest) (string, error)
	TransferUpdateMsg(ctx context.Context, req *protocol.TransferUpdateMsgRequest) (bool, error)
	TransferReceiver(ctx context.Context, req *protocol.TransferReceiverRequest) (string, error)
	TransferUnlock(ctx context.Context, req *protocol.TransferUnlockRequest) error
}

// ChainClient queries the blockchain indexer.
type ChainClient interface {
	GetTransaction(ctx context.Context, txid string) (string, error)
	ListUnspent(ctx context.Context, scriptHash string) ([]protocol.Unspent, error)
	BlockHeight(ctx context.Context) (uint32, error)
	EstimateFee(ctx context.Context, blocks int) (float64, error)
}

// CryptoEngine performs the transfer cryptography. Verification methods
// return nil when the check passes.
type CryptoEngine interface {
	SignMessage(privHex, message string) (string, error)
	DecodeTransferAddress(addr string) (*types.TransferAddress, error)
	Tx0Outpoint(chain []wallet.BackupTx) (types.Outpoint, error)
	Tx0ScriptHash(op types.Outpoint, tx0Hex string) (string, error)
	BackupTxLocktime(b wallet.BackupTx) (uint32, error)

	CreateTransferSignature(toAddress string, op types.Outpoint, coin *wallet.Coin) (string, error)
	CreateTransferUpdateMsg(x1, toAddress string, coin *wallet.Coin, transferSig string, chain []wallet.BackupTx) (*protocol.TransferUpdateMsgRequest, error)
	DecryptTransferMsg(encHex, authPrivHex string) (*protocol.TransferMsg, error)

	VerifyTransferSignature(newUserPubkey string, op types.Outpoint, msg *protocol.TransferMsg) error
	ValidateTx0OutputPubkey(enclavePubkey string, msg *protocol.TransferMsg, op types.Outpoint, tx0Hex string) error
	VerifyLatestBackupTxPaysTo(msg *protocol.TransferMsg, newUserPubkey string) error
	VerifyTransactionSignature(backupHex, tx0Hex string, tolerance, currentFeeRate float64) error
	VerifyBlindedMusigScheme(b wallet.BackupTx, tx0Hex string, info protocol.StatechainInfo) error

	CreateTransferReceiverRequest(msg *protocol.TransferMsg, coin *wallet.Coin) (*protocol.TransferReceiverRequest, error)
	NewKeyInfo(serverPubkey string, coin *wallet.Coin, statechainID string, op types.Outpoint, tx0Hex, network string) (*engine.KeyInfo, error)
}

// TxBuilder builds and co-signs the next backup transaction of a coin.
type TxBuilder interface {
	NewBackupTx(ctx context.Context, coin *wallet.Coin, toAddress string, txN, basis uint32, network string) (*wallet.BackupTx, error)
}

// Store persists wallets and backup chains.
type Store interface {
	LoadWallet(name string) (*wallet.Wallet, error)
	LoadBackupTxs(statechainID string) ([]wallet.BackupTx, error)
	Commit(w *wallet.Wallet, chains map[string][]wallet.BackupTx) error
}

// Deps bundles the collaborators of a transfer.
type Deps struct {
	Store   Store
	Server  ServerClient
	Chain   ChainClient
	Crypto  CryptoEngine
	Builder TxBuilder
}
