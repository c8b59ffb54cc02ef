package wallet

import (
	"encoding/hex"
	"fmt"

	"github.com/Klingon-tech/klingnet-statechain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-statechain/pkg/tx"
	"github.com/Klingon-tech/klingnet-statechain/pkg/types"
	"github.com/tyler-smith/go-bip32"
)

// Derivation path constants for statecoin keys.
//
//	user key: m/86'/coin'/0'/0/index  (owns the backup outputs)
//	auth key: m/89'/coin'/0'/0/index  (authenticates to the entity, decrypts transfers)
const (
	PurposeUser = bip32.FirstHardenedChild + 86
	PurposeAuth = bip32.FirstHardenedChild + 89

	CoinTypeBitcoin = bip32.FirstHardenedChild + 0
	CoinTypeTest    = bip32.FirstHardenedChild + 1
)

// HDKey represents a hierarchical deterministic key (BIP-32).
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DeriveChild derives a child key at the given index.
// For hardened derivation, add bip32.FirstHardenedChild to the index.
func (k *HDKey) DeriveChild(index uint32) (*HDKey, error) {
	child, err := k.key.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("derive child %d: %w", index, err)
	}
	return &HDKey{key: child}, nil
}

// DerivePath derives a key along a sequence of indices.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k
	for _, idx := range indices {
		child, err := current.DeriveChild(idx)
		if err != nil {
			return nil, err
		}
		current = child
	}
	return current, nil
}

// CoinType returns the hardened BIP-44 coin type for a network.
func CoinType(network string) uint32 {
	if network == "bitcoin" {
		return CoinTypeBitcoin
	}
	return CoinTypeTest
}

// DeriveCoinKeys derives the user and auth keys of coin index.
func (k *HDKey) DeriveCoinKeys(network string, index uint32) (user, auth *HDKey, err error) {
	coin := CoinType(network)
	user, err = k.DerivePath(PurposeUser, coin, bip32.FirstHardenedChild, 0, index)
	if err != nil {
		return nil, nil, fmt.Errorf("derive user key: %w", err)
	}
	auth, err = k.DerivePath(PurposeAuth, coin, bip32.FirstHardenedChild, 0, index)
	if err != nil {
		return nil, nil, fmt.Errorf("derive auth key: %w", err)
	}
	return user, auth, nil
}

// PrivateKeyBytes returns the raw 32-byte private key.
// Returns nil if this is a public-only key.
func (k *HDKey) PrivateKeyBytes() []byte {
	if !k.key.IsPrivate {
		return nil
	}
	// bip32 Key.Key is 33 bytes with a leading 0x00 for private keys.
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// PublicKeyBytes returns the compressed 33-byte public key.
func (k *HDKey) PublicKeyBytes() []byte {
	return k.key.PublicKey().Key
}

// Signer returns the private key for BIP-340 signing.
func (k *HDKey) Signer() (*crypto.PrivateKey, error) {
	priv := k.PrivateKeyBytes()
	if priv == nil {
		return nil, fmt.Errorf("cannot create signer from public key")
	}
	return crypto.PrivateKeyFromBytes(priv)
}

// IsPrivate returns true if this key contains a private key.
func (k *HDKey) IsPrivate() bool {
	return k.key.IsPrivate
}

// Depth returns the derivation depth (0 for master).
func (k *HDKey) Depth() uint8 {
	return k.key.Depth
}

// NewCoin derives the keys for coin index and returns an INITIALISED coin
// with its transfer and backup addresses filled in.
func NewCoin(master *HDKey, network string, index uint32) (*Coin, error) {
	userKey, authKey, err := master.DeriveCoinKeys(network, index)
	if err != nil {
		return nil, err
	}
	user, err := userKey.Signer()
	if err != nil {
		return nil, err
	}
	auth, err := authKey.Signer()
	if err != nil {
		return nil, err
	}

	addr, err := types.NewTransferAddress(network, user.PublicKey(), auth.PublicKey())
	if err != nil {
		return nil, err
	}
	transferAddr, err := addr.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode transfer address: %w", err)
	}

	script, err := tx.BackupScript(user.PubKey())
	if err != nil {
		return nil, fmt.Errorf("backup script: %w", err)
	}
	backupAddr, err := tx.Address(script, network)
	if err != nil {
		return nil, err
	}

	return &Coin{
		Index:         index,
		UserPrivkey:   hex.EncodeToString(user.Serialize()),
		UserPubkey:    hex.EncodeToString(user.PublicKey()),
		AuthPrivkey:   hex.EncodeToString(auth.Serialize()),
		AuthPubkey:    hex.EncodeToString(auth.PublicKey()),
		Address:       transferAddr,
		BackupAddress: backupAddr,
		Status:        StatusInitialised,
	}, nil
}
