package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-statechain/internal/protocol"
	"github.com/Klingon-tech/klingnet-statechain/internal/wallet"
	"github.com/Klingon-tech/klingnet-statechain/pkg/types"
)

// Check names reported in ValidationError.Check, in pipeline order.
const (
	CheckDecrypt           = "decrypt"
	CheckTransferSignature = "transfer_signature"
	CheckStatechainInfo    = "statechain_info"
	CheckOutputKey         = "tx0_output_pubkey"
	CheckRecipient         = "latest_backup_recipient"
	CheckSigCount          = "num_sigs"
	CheckUnspent           = "tx0_unspent"
	CheckSequence          = "tx_n_sequence"
	CheckBackupSignature   = "backup_signature"
	CheckBlindedMusig      = "blinded_musig"
	CheckLocktime          = "locktime_interval"
)

// Params are the per-run inputs of the pipeline.
type Params struct {
	Interval uint32
	// FeeRate is the current estimate in sat/vB.
	FeeRate float64
}

// Verified is what a message that passed every check yields.
type Verified struct {
	Outpoint types.Outpoint
	Tx0Hex   string
	Status   wallet.CoinStatus
	// Locktime of the newest backup transaction.
	Locktime uint32
}

// Pipeline runs the ordered checks on a decrypted transfer message. The
// first failing check ends the run with a *ValidationError. Any other error
// comes from a collaborator and is not the message's fault.
type Pipeline struct {
	server ServerClient
	chain  ChainClient
	crypto CryptoEngine
	cfg    Config
}

// NewPipeline creates a verification pipeline.
func NewPipeline(cfg Config, server ServerClient, chain ChainClient, crypto CryptoEngine) *Pipeline {
	return &Pipeline{server: server, chain: chain, crypto: crypto, cfg: cfg}
}

// Verify checks msg against the receiving coin.
func (p *Pipeline) Verify(ctx context.Context, coin *wallet.Coin, msg *protocol.TransferMsg, params Params) (*Verified, error) {
	if len(msg.BackupTransactions) == 0 {
		return nil, invalid(CheckTransferSignature, "message carries no backup transactions", nil)
	}
	op, err := p.crypto.Tx0Outpoint(msg.BackupTransactions)
	if err != nil {
		return nil, invalid(CheckTransferSignature, "no funding outpoint", err)
	}

	if err := p.crypto.VerifyTransferSignature(coin.UserPubkey, op, msg); err != nil {
		return nil, invalid(CheckTransferSignature, "signature does not cover this owner and outpoint", err)
	}

	info, err := p.server.StatechainInfo(ctx, msg.StatechainID)
	if err != nil {
		if errors.Is(err, protocol.ErrNotFound) {
			return nil, invalid(CheckStatechainInfo, "unknown statechain", err)
		}
		return nil, fmt.Errorf("statechain info: %w", err)
	}

	tx0Hex, err := p.chain.GetTransaction(ctx, op.TxID.String())
	if err != nil {
		return nil, fmt.Errorf("fetch funding tx %s: %w", op.TxID, err)
	}

	if err := p.crypto.ValidateTx0OutputPubkey(info.EnclavePublicKey, msg, op, tx0Hex); err != nil {
		return nil, invalid(CheckOutputKey, "funding output is not sender key plus enclave key", err)
	}

	if err := p.crypto.VerifyLatestBackupTxPaysTo(msg, coin.UserPubkey); err != nil {
		return nil, invalid(CheckRecipient, "latest backup does not pay this owner", err)
	}

	if info.NumSigs != len(msg.BackupTransactions) {
		return nil, invalid(CheckSigCount,
			fmt.Sprintf("entity signed %d backups, message carries %d", info.NumSigs, len(msg.BackupTransactions)), nil)
	}

	status, err := p.unspentStatus(ctx, op, tx0Hex)
	if err != nil {
		return nil, err
	}

	if len(info.StatechainInfo) < len(msg.BackupTransactions) {
		return nil, invalid(CheckBlindedMusig,
			fmt.Sprintf("entity reports %d signing records for %d backups", len(info.StatechainInfo), len(msg.BackupTransactions)), nil)
	}

	var prev uint32
	for i, b := range msg.BackupTransactions {
		if want := uint32(i + 1); b.TxN != want {
			return nil, invalid(CheckSequence, fmt.Sprintf("backup at position %d has tx_n %d", want, b.TxN), nil)
		}
		if rec := info.StatechainInfo[i].TxN; rec != b.TxN {
			return nil, invalid(CheckSequence, fmt.Sprintf("backup %d matched to entity record %d", b.TxN, rec), nil)
		}
		if err := p.crypto.VerifyTransactionSignature(b.Tx, tx0Hex, p.cfg.FeeRateTolerance, params.FeeRate); err != nil {
			return nil, invalid(CheckBackupSignature, fmt.Sprintf("backup %d", b.TxN), err)
		}
		if err := p.crypto.VerifyBlindedMusigScheme(b, tx0Hex, info.StatechainInfo[i]); err != nil {
			return nil, invalid(CheckBlindedMusig, fmt.Sprintf("backup %d", b.TxN), err)
		}

		lt, err := p.crypto.BackupTxLocktime(b)
		if err != nil {
			return nil, invalid(CheckLocktime, fmt.Sprintf("backup %d", b.TxN), err)
		}
		if i > 0 && int64(prev)-int64(lt) != int64(params.Interval) {
			return nil, invalid(CheckLocktime,
				fmt.Sprintf("backup %d locktime %d, previous %d, interval %d", b.TxN, lt, prev, params.Interval), nil)
		}
		prev = lt
	}

	return &Verified{
		Outpoint: op,
		Tx0Hex:   tx0Hex,
		Status:   status,
		Locktime: prev,
	}, nil
}

// unspentStatus looks the funding output up by script hash and grades it
// by confirmations.
func (p *Pipeline) unspentStatus(ctx context.Context, op types.Outpoint, tx0Hex string) (wallet.CoinStatus, error) {
	sh, err := p.crypto.Tx0ScriptHash(op, tx0Hex)
	if err != nil {
		return 0, invalid(CheckUnspent, "funding output unreadable", err)
	}
	utxos, err := p.chain.ListUnspent(ctx, sh)
	if err != nil {
		return 0, fmt.Errorf("list unspent: %w", err)
	}

	txid := op.TxID.String()
	for _, u := range utxos {
		if u.TxHash != txid || u.TxPos != op.Index {
			continue
		}
		if u.Height <= 0 {
			return wallet.StatusUnconfirmed, nil
		}
		height, err := p.chain.BlockHeight(ctx)
		if err != nil {
			return 0, fmt.Errorf("block height: %w", err)
		}
		confs := int64(height) - u.Height + 1
		if confs >= int64(p.cfg.ConfirmationTarget) {
			return wallet.StatusConfirmed, nil
		}
		return wallet.StatusUnconfirmed, nil
	}
	return 0, invalid(CheckUnspent, fmt.Sprintf("funding output %s spent or unknown", op), nil)
}
