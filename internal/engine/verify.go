package engine

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/Klingon-tech/klingnet-statechain/internal/protocol"
	"github.com/Klingon-tech/klingnet-statechain/internal/wallet"
	"github.com/Klingon-tech/klingnet-statechain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-statechain/pkg/tx"
	"github.com/Klingon-tech/klingnet-statechain/pkg/types"
	"github.com/btcsuite/btcd/wire"
)

// fundingOutput decodes tx0 and returns the output op refers to.
func fundingOutput(op types.Outpoint, tx0Hex string) (*wire.TxOut, error) {
	tx0, err := tx.Decode(tx0Hex)
	if err != nil {
		return nil, fmt.Errorf("funding tx: %w", err)
	}
	if tx0.TxHash() != op.TxID {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrTxidMismatch, tx0.TxHash(), op.TxID)
	}
	return tx.OutputAt(tx0, op.Index)
}

// VerifyTransferSignature checks the sender's signature over the new
// owner's user key and the funding outpoint.
func (e *Engine) VerifyTransferSignature(newUserPubkey string, op types.Outpoint, msg *protocol.TransferMsg) error {
	newKey, err := hex.DecodeString(newUserPubkey)
	if err != nil {
		return fmt.Errorf("new user key: %w", err)
	}
	senderKey, err := hex.DecodeString(msg.UserPublicKey)
	if err != nil {
		return fmt.Errorf("sender user key: %w", err)
	}
	sig, err := hex.DecodeString(msg.TransferSignature)
	if err != nil {
		return fmt.Errorf("transfer signature: %w", err)
	}
	if !crypto.VerifySignature(transferDigest(newKey, op), sig, senderKey) {
		return ErrInvalidSignature
	}
	return nil
}

// ValidateTx0OutputPubkey checks that the funding output's key is the sum
// of the sender's user key and the entity's key.
func (e *Engine) ValidateTx0OutputPubkey(enclavePubkey string, msg *protocol.TransferMsg, op types.Outpoint, tx0Hex string) error {
	out, err := fundingOutput(op, tx0Hex)
	if err != nil {
		return err
	}
	outputKey, err := tx.TaprootOutputKey(out.PkScript)
	if err != nil {
		return err
	}
	user, err := crypto.ParsePubKeyHex(msg.UserPublicKey)
	if err != nil {
		return fmt.Errorf("sender user key: %w", err)
	}
	enclave, err := crypto.ParsePubKeyHex(enclavePubkey)
	if err != nil {
		return fmt.Errorf("enclave key: %w", err)
	}
	agg, err := crypto.AddPubKeys(user, enclave)
	if err != nil {
		return err
	}
	if !bytes.Equal(crypto.XOnly(agg), crypto.XOnly(outputKey)) {
		return ErrOutputKeyMismatch
	}
	return nil
}

// VerifyLatestBackupTxPaysTo checks that the newest backup transaction
// pays to the backup script of newUserPubkey.
func (e *Engine) VerifyLatestBackupTxPaysTo(msg *protocol.TransferMsg, newUserPubkey string) error {
	if len(msg.BackupTransactions) == 0 {
		return ErrEmptyChain
	}
	latest, err := tx.Decode(msg.BackupTransactions[len(msg.BackupTransactions)-1].Tx)
	if err != nil {
		return err
	}
	out, err := tx.OutputAt(latest, 0)
	if err != nil {
		return err
	}
	key, err := crypto.ParsePubKeyHex(newUserPubkey)
	if err != nil {
		return fmt.Errorf("new user key: %w", err)
	}
	want, err := tx.BackupScript(key)
	if err != nil {
		return err
	}
	if !bytes.Equal(out.PkScript, want) {
		return ErrWrongRecipient
	}
	return nil
}

// VerifyTransactionSignature checks a backup transaction's key-path
// signature against the funding output and that its fee rate is within
// tolerance of currentFeeRate (both sat/vB).
func (e *Engine) VerifyTransactionSignature(backupHex, tx0Hex string, tolerance, currentFeeRate float64) error {
	msg, err := tx.Decode(backupHex)
	if err != nil {
		return err
	}
	op, err := tx.FundingOutpoint(msg)
	if err != nil {
		return err
	}
	prevOut, err := fundingOutput(op, tx0Hex)
	if err != nil {
		return err
	}

	sig, err := tx.KeyPathSignature(msg, 0)
	if err != nil {
		return err
	}
	sighash, err := tx.SigHash(msg, 0, prevOut)
	if err != nil {
		return err
	}
	outputKey, err := tx.TaprootOutputKey(prevOut.PkScript)
	if err != nil {
		return err
	}
	if !crypto.VerifySignature(sighash, sig, crypto.XOnly(outputKey)) {
		return ErrInvalidSignature
	}

	rate, err := tx.FeeRate(msg, prevOut.Value)
	if err != nil {
		return err
	}
	if rate+tolerance < currentFeeRate {
		return fmt.Errorf("%w: %.2f sat/vB, current %.2f", ErrFeeRateTooLow, rate, currentFeeRate)
	}
	if rate-tolerance > currentFeeRate {
		return fmt.Errorf("%w: %.2f sat/vB, current %.2f", ErrFeeRateTooHigh, rate, currentFeeRate)
	}
	return nil
}

// VerifyBlindedMusigScheme recomputes the co-signing session of a backup
// transaction: R = R_c + R_s + b·G must be the signature's nonce, and the
// challenge over R, the aggregate key and the sighash must be the one the
// entity recorded.
func (e *Engine) VerifyBlindedMusigScheme(b wallet.BackupTx, tx0Hex string, info protocol.StatechainInfo) error {
	msg, err := tx.Decode(b.Tx)
	if err != nil {
		return err
	}
	op, err := tx.FundingOutpoint(msg)
	if err != nil {
		return err
	}
	prevOut, err := fundingOutput(op, tx0Hex)
	if err != nil {
		return err
	}
	sig, err := tx.KeyPathSignature(msg, 0)
	if err != nil {
		return err
	}
	sighash, err := tx.SigHash(msg, 0, prevOut)
	if err != nil {
		return err
	}

	if info.ServerPubNonce == "" {
		return fmt.Errorf("%w: entity recorded no server nonce", ErrNonceMismatch)
	}
	if info.ServerPubNonce != b.ServerPublicNonce {
		return fmt.Errorf("%w: server nonce differs from entity record", ErrNonceMismatch)
	}
	clientNonce, err := crypto.ParsePubKeyHex(b.ClientPublicNonce)
	if err != nil {
		return fmt.Errorf("client nonce: %w", err)
	}
	serverNonce, err := crypto.ParsePubKeyHex(b.ServerPublicNonce)
	if err != nil {
		return fmt.Errorf("server nonce: %w", err)
	}
	blinding, err := crypto.ParseScalarHex(b.BlindingFactor)
	if err != nil {
		return fmt.Errorf("blinding factor: %w", err)
	}
	bG, err := crypto.ScalarBaseMult(blinding)
	if err != nil {
		return err
	}
	r, err := crypto.AddPubKeys(clientNonce, serverNonce, bG)
	if err != nil {
		return err
	}
	rx := crypto.XOnly(r)
	if !bytes.Equal(rx, sig[:32]) {
		return ErrNonceMismatch
	}

	clientKey, err := crypto.ParsePubKeyHex(b.ClientPublicKey)
	if err != nil {
		return fmt.Errorf("client key: %w", err)
	}
	serverKey, err := crypto.ParsePubKeyHex(b.ServerPublicKey)
	if err != nil {
		return fmt.Errorf("server key: %w", err)
	}
	agg, err := crypto.AddPubKeys(clientKey, serverKey)
	if err != nil {
		return err
	}
	outputKey, err := tx.TaprootOutputKey(prevOut.PkScript)
	if err != nil {
		return err
	}
	if !bytes.Equal(crypto.XOnly(agg), crypto.XOnly(outputKey)) {
		return ErrOutputKeyMismatch
	}

	challenge := crypto.Challenge(rx, crypto.XOnly(agg), sighash)
	recorded, err := crypto.ParseScalarHex(info.Challenge)
	if err != nil {
		return fmt.Errorf("recorded challenge: %w", err)
	}
	if !challenge.Equals(recorded) {
		return ErrChallengeMismatch
	}
	return nil
}
