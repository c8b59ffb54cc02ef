// Package crypto provides the secp256k1 primitives used by the statechain
// client: BIP-340 signatures, point and scalar arithmetic, and the ECIES
// envelope for transfer messages.
package crypto

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/zeebo/blake3"
)

// BIP-340 tag for the signature challenge.
var challengeTag = []byte("BIP0340/challenge")

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) []byte {
	return chainhash.HashB(data)
}

// TaggedHash computes the BIP-340 tagged hash of the concatenated messages.
func TaggedHash(tag []byte, msgs ...[]byte) []byte {
	h := chainhash.TaggedHash(tag, msgs...)
	return h[:]
}

// Fingerprint returns a short BLAKE3-based identifier for opaque payloads
// such as encrypted transfer messages, suitable for log correlation.
func Fingerprint(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
