// Package engine is the default cryptographic engine for statecoin
// transfers: auth and transfer signatures, the encrypted transfer message,
// the receiver's verification checks and the key arithmetic of a claim.
// It performs no I/O.
package engine

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-statechain/internal/protocol"
	"github.com/Klingon-tech/klingnet-statechain/internal/wallet"
	"github.com/Klingon-tech/klingnet-statechain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-statechain/pkg/tx"
	"github.com/Klingon-tech/klingnet-statechain/pkg/types"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Engine errors.
var (
	ErrEmptyChain        = errors.New("backup chain is empty")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrTxidMismatch      = errors.New("funding transaction id mismatch")
	ErrOutputKeyMismatch = errors.New("funding output key mismatch")
	ErrWrongRecipient    = errors.New("backup transaction pays to another key")
	ErrFeeRateTooLow     = errors.New("fee rate too low")
	ErrFeeRateTooHigh    = errors.New("fee rate too high")
	ErrNonceMismatch     = errors.New("signature nonce mismatch")
	ErrChallengeMismatch = errors.New("challenge mismatch")
)

// Engine implements the transfer cryptography. The zero value is ready to use.
type Engine struct{}

// New returns an engine.
func New() *Engine {
	return &Engine{}
}

// SignMessage signs SHA256(message) with a hex private key and returns the
// hex BIP-340 signature.
func (e *Engine) SignMessage(privHex, message string) (string, error) {
	return signDigest(privHex, crypto.SHA256([]byte(message)))
}

func signDigest(privHex string, digest []byte) (string, error) {
	priv, err := crypto.PrivateKeyFromHex(privHex)
	if err != nil {
		return "", err
	}
	defer priv.Zero()
	sig, err := priv.Sign(digest)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// DecodeTransferAddress parses a transfer address.
func (e *Engine) DecodeTransferAddress(addr string) (*types.TransferAddress, error) {
	return types.ParseTransferAddress(addr)
}

// Tx0Outpoint returns the funding outpoint spent by the chain's first
// backup transaction.
func (e *Engine) Tx0Outpoint(chain []wallet.BackupTx) (types.Outpoint, error) {
	if len(chain) == 0 {
		return types.Outpoint{}, ErrEmptyChain
	}
	msg, err := tx.Decode(chain[0].Tx)
	if err != nil {
		return types.Outpoint{}, err
	}
	return tx.FundingOutpoint(msg)
}

// BackupTxLocktime returns the nLockTime of a backup transaction.
func (e *Engine) BackupTxLocktime(b wallet.BackupTx) (uint32, error) {
	return tx.LockTime(b.Tx)
}

// transferDigest is SHA256(new_user_pubkey || txid || vout LE).
func transferDigest(newUserPubkey []byte, op types.Outpoint) []byte {
	buf := make([]byte, 0, len(newUserPubkey)+32+4)
	buf = append(buf, newUserPubkey...)
	buf = append(buf, op.TxID[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, op.Index)
	return crypto.SHA256(buf)
}

// CreateTransferSignature signs the recipient's user key and the funding
// outpoint with the sender coin's user key.
func (e *Engine) CreateTransferSignature(toAddress string, op types.Outpoint, coin *wallet.Coin) (string, error) {
	addr, err := types.ParseTransferAddress(toAddress)
	if err != nil {
		return "", err
	}
	return signDigest(coin.UserPrivkey, transferDigest(addr.UserPubkey, op))
}

// CreateTransferUpdateMsg computes t1 = o1 + x1, seals the transfer message
// to the recipient's auth key and returns the update_msg request.
func (e *Engine) CreateTransferUpdateMsg(x1Hex, toAddress string, coin *wallet.Coin, transferSig string, chain []wallet.BackupTx) (*protocol.TransferUpdateMsgRequest, error) {
	addr, err := types.ParseTransferAddress(toAddress)
	if err != nil {
		return nil, err
	}
	x1, err := crypto.ParseScalarHex(x1Hex)
	if err != nil {
		return nil, fmt.Errorf("x1: %w", err)
	}
	o1, err := crypto.ParseScalarHex(coin.UserPrivkey)
	if err != nil {
		return nil, fmt.Errorf("user key: %w", err)
	}
	var t1 secp256k1.ModNScalar
	t1.Add2(o1, x1)

	plain, err := json.Marshal(&protocol.TransferMsg{
		StatechainID:       coin.StatechainID,
		TransferSignature:  transferSig,
		BackupTransactions: chain,
		T1:                 crypto.ScalarHex(&t1),
		UserPublicKey:      coin.UserPubkey,
	})
	if err != nil {
		return nil, fmt.Errorf("encode transfer message: %w", err)
	}

	recipient, err := secp256k1.ParsePubKey(addr.AuthPubkey)
	if err != nil {
		return nil, fmt.Errorf("recipient auth key: %w", err)
	}
	sealed, err := crypto.Encrypt(recipient, plain)
	if err != nil {
		return nil, err
	}

	authSig, err := e.SignMessage(coin.AuthPrivkey, coin.StatechainID)
	if err != nil {
		return nil, err
	}
	return &protocol.TransferUpdateMsgRequest{
		StatechainID:   coin.StatechainID,
		AuthSig:        authSig,
		NewUserAuthKey: hex.EncodeToString(addr.AuthPubkey),
		EncTransferMsg: hex.EncodeToString(sealed),
	}, nil
}

// DecryptTransferMsg opens an encrypted transfer message with the coin's
// auth key.
func (e *Engine) DecryptTransferMsg(encHex, authPrivHex string) (*protocol.TransferMsg, error) {
	sealed, err := hex.DecodeString(encHex)
	if err != nil {
		return nil, fmt.Errorf("decode transfer message: %w", err)
	}
	priv, err := crypto.PrivateKeyFromHex(authPrivHex)
	if err != nil {
		return nil, err
	}
	defer priv.Zero()
	plain, err := crypto.Decrypt(priv, sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypt transfer message: %w", err)
	}
	var msg protocol.TransferMsg
	if err := json.Unmarshal(plain, &msg); err != nil {
		return nil, fmt.Errorf("parse transfer message: %w", err)
	}
	return &msg, nil
}

// Tx0ScriptHash returns the Electrum script hash of the funding output.
func (e *Engine) Tx0ScriptHash(op types.Outpoint, tx0Hex string) (string, error) {
	out, err := fundingOutput(op, tx0Hex)
	if err != nil {
		return "", err
	}
	return tx.ScriptHash(out.PkScript), nil
}
