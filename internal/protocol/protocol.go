// Package protocol defines the statechain entity's wire messages and the
// protocol-level error kinds shared by the transport and transfer packages.
package protocol

import (
	"errors"

	"github.com/Klingon-tech/klingnet-statechain/internal/wallet"
)

// Protocol error kinds. Transport implementations map server responses onto
// these so callers can branch with errors.Is.
var (
	// ErrBatchLocked means a coordinated batch transfer is still settling;
	// the request may be repeated later.
	ErrBatchLocked = errors.New("statecoin batch locked")
	// ErrBatchExpired means the batch window closed before the claim.
	ErrBatchExpired = errors.New("batch time expired")
	ErrNotFound     = errors.New("not found")
	ErrUnreachable  = errors.New("statechain entity unreachable")
)

// Server error codes carried in the error body's code field.
const (
	CodeBatchLocked  = "StatecoinBatchLockedError"
	CodeBatchExpired = "ExpiredBatchTimeError"
)

// TransferMsg is the decrypted content of an encrypted transfer message.
type TransferMsg struct {
	StatechainID       string            `json:"statechain_id"`
	TransferSignature  string            `json:"transfer_signature"`
	BackupTransactions []wallet.BackupTx `json:"backup_transactions"`
	T1                 string            `json:"t1"`
	UserPublicKey      string            `json:"user_public_key"`
}

// ServerConfig is returned by info/config.
type ServerConfig struct {
	InitLock uint32 `json:"initlock"`
	Interval uint32 `json:"interval"`
}

// StatechainInfo is one co-signing record kept by the entity, in chain order.
type StatechainInfo struct {
	StatechainID   string `json:"statechain_id"`
	ServerPubNonce string `json:"server_pubnonce"`
	Challenge      string `json:"challenge"`
	TxN            uint32 `json:"tx_n"`
}

// StatechainInfoResponse is returned by info/statechain/{id}.
type StatechainInfoResponse struct {
	EnclavePublicKey string           `json:"enclave_public_key"`
	NumSigs          int              `json:"num_sigs"`
	StatechainInfo   []StatechainInfo `json:"statechain_info"`
	X1Pub            string           `json:"x1_pub"`
}

// TransferSenderRequest asks the entity for a fresh x1.
type TransferSenderRequest struct {
	StatechainID   string `json:"statechain_id"`
	AuthSig        string `json:"auth_sig"`
	NewUserAuthKey string `json:"new_user_auth_key"`
	BatchID        string `json:"batch_id,omitempty"`
}

// TransferSenderResponse carries the one-time blinding value.
type TransferSenderResponse struct {
	X1 string `json:"x1"`
}

// TransferUpdateMsgRequest posts the encrypted transfer message.
type TransferUpdateMsgRequest struct {
	StatechainID   string `json:"statechain_id"`
	AuthSig        string `json:"auth_sig"`
	NewUserAuthKey string `json:"new_user_auth_key"`
	EncTransferMsg string `json:"enc_transfer_msg"`
}

// TransferUpdateMsgResponse reports whether the entity accepted the update.
type TransferUpdateMsgResponse struct {
	Updated bool `json:"updated"`
}

// GetMsgAddrResponse lists encrypted messages waiting for an auth key.
type GetMsgAddrResponse struct {
	ListEncTransferMsg []string `json:"list_enc_transfer_msg"`
}

// TransferReceiverRequest claims a statecoin.
type TransferReceiverRequest struct {
	StatechainID string `json:"statechain_id"`
	T2           string `json:"t2"`
	AuthSig      string `json:"auth_sig"`
}

// TransferReceiverResponse carries the entity's new key share.
type TransferReceiverResponse struct {
	ServerPubkey string `json:"server_pubkey"`
}

// TransferUnlockRequest releases the sender's batch lock on a coin.
type TransferUnlockRequest struct {
	StatechainID string `json:"statechain_id"`
	AuthSig      string `json:"auth_sig"`
	AuthPubKey   string `json:"auth_pub_key"`
}

// SignFirstRequest opens a co-signing session.
type SignFirstRequest struct {
	StatechainID       string `json:"statechain_id"`
	SignedStatechainID string `json:"signed_statechain_id"`
}

// SignFirstResponse carries the entity's public nonce.
type SignFirstResponse struct {
	ServerPubNonce string `json:"server_pubnonce"`
}

// SignSecondRequest asks the entity for its partial signature.
type SignSecondRequest struct {
	StatechainID       string `json:"statechain_id"`
	SignedStatechainID string `json:"signed_statechain_id"`
	ServerPubNonce     string `json:"server_pub_nonce"`
	Challenge          string `json:"challenge"`
	NegateSeckey       bool   `json:"negate_seckey"`
	NegateNonce        bool   `json:"negate_nonce"`
}

// SignSecondResponse carries the entity's partial signature scalar.
type SignSecondResponse struct {
	PartialSig string `json:"partial_sig"`
}

// ErrorResponse is the entity's error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Unspent is one entry of an Electrum listunspent result.
type Unspent struct {
	TxHash string `json:"tx_hash"`
	TxPos  uint32 `json:"tx_pos"`
	Height int64  `json:"height"`
	Value  uint64 `json:"value"`
}
