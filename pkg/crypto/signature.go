package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// PrivateKey wraps a secp256k1 private key for BIP-340 signing.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKey creates a new random secp256k1 private key.
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes creates a PrivateKey from a 32-byte secret.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	var k secp256k1.ModNScalar
	if overflow := k.SetByteSlice(b); overflow || k.IsZero() {
		return nil, fmt.Errorf("private key out of range")
	}
	return &PrivateKey{key: secp256k1.NewPrivateKey(&k)}, nil
}

// PrivateKeyFromHex parses a hex-encoded 32-byte secret.
func PrivateKeyFromHex(s string) (*PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	return PrivateKeyFromBytes(b)
}

// Sign produces a 64-byte BIP-340 signature over a 32-byte hash.
func (pk *PrivateKey) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	sig, err := schnorr.Sign(pk.key, hash)
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// PubKey returns the public point.
func (pk *PrivateKey) PubKey() *secp256k1.PublicKey {
	return pk.key.PubKey()
}

// PublicKey returns the compressed 33-byte public key.
func (pk *PrivateKey) PublicKey() []byte {
	return pk.key.PubKey().SerializeCompressed()
}

// Scalar returns a copy of the secret as a scalar mod n.
func (pk *PrivateKey) Scalar() secp256k1.ModNScalar {
	return pk.key.Key
}

// Serialize returns the 32-byte private key scalar.
func (pk *PrivateKey) Serialize() []byte {
	return pk.key.Serialize()
}

// Zero securely zeroes the private key memory.
func (pk *PrivateKey) Zero() {
	pk.key.Zero()
}

// VerifySignature checks a BIP-340 signature against a 32-byte hash and a
// public key given either compressed (33 bytes) or x-only (32 bytes).
// Returns false on any error.
func VerifySignature(hash, signature, publicKey []byte) bool {
	var (
		pub *secp256k1.PublicKey
		err error
	)
	switch len(publicKey) {
	case 32:
		pub, err = schnorr.ParsePubKey(publicKey)
	case 33:
		pub, err = secp256k1.ParsePubKey(publicKey)
	default:
		return false
	}
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(hash, pub)
}
