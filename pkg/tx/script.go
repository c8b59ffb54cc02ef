package tx

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// NetParams maps a network name to its chain parameters.
func NetParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "bitcoin", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

// KeyPathScript returns a P2TR script whose output key is key itself.
// Statecoin funding outputs commit to the aggregate of the owner and
// entity keys this way, so the co-signed Schnorr signature spends it
// without a taproot tweak.
func KeyPathScript(key *secp256k1.PublicKey) ([]byte, error) {
	return txscript.PayToTaprootScript(key)
}

// BackupScript returns the BIP-86 P2TR script for an owner key, the output
// every backup transaction pays to.
func BackupScript(internalKey *secp256k1.PublicKey) ([]byte, error) {
	return txscript.PayToTaprootScript(txscript.ComputeTaprootKeyNoScript(internalKey))
}

// Address encodes a P2TR script as an address on the given network.
func Address(pkScript []byte, network string) (string, error) {
	key, err := TaprootOutputKey(pkScript)
	if err != nil {
		return "", err
	}
	params, err := NetParams(network)
	if err != nil {
		return "", err
	}
	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(key), params)
	if err != nil {
		return "", fmt.Errorf("encode taproot address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// AddressScript decodes an address on the given network into its output
// script.
func AddressScript(address, network string) ([]byte, error) {
	params, err := NetParams(network)
	if err != nil {
		return nil, err
	}
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("address %s is not for %s", address, network)
	}
	return txscript.PayToAddrScript(addr)
}

// TaprootOutputKey extracts the output key from a P2TR script.
func TaprootOutputKey(pkScript []byte) (*secp256k1.PublicKey, error) {
	if !txscript.IsPayToTaproot(pkScript) {
		return nil, ErrNotTaproot
	}
	key, err := schnorr.ParsePubKey(pkScript[2:34])
	if err != nil {
		return nil, fmt.Errorf("parse taproot key: %w", err)
	}
	return key, nil
}

// ScriptHash returns the Electrum script hash: SHA-256 of the script,
// byte-reversed, hex-encoded.
func ScriptHash(pkScript []byte) string {
	sum := chainhash.HashB(pkScript)
	for i, j := 0, len(sum)-1; i < j; i, j = i+1, j-1 {
		sum[i], sum[j] = sum[j], sum[i]
	}
	return hex.EncodeToString(sum[:])
}
