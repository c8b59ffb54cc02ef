package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/hkdf"
)

// ECIES envelope layout:
//
//	ephemeral_pubkey(65, uncompressed) | nonce(16) | tag(16) | ciphertext
const (
	eciesPubKeySize = 65
	eciesNonceSize  = 16
	eciesTagSize    = 16
	eciesHeaderSize = eciesPubKeySize + eciesNonceSize + eciesTagSize
)

// ErrEnvelopeTooShort is returned for ciphertexts shorter than the header.
var ErrEnvelopeTooShort = errors.New("ecies envelope too short")

// Encrypt seals plaintext to the receiver's public key.
func Encrypt(receiver *secp256k1.PublicKey, plaintext []byte) ([]byte, error) {
	ephemeral, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	defer ephemeral.Zero()

	ephemeralPub := ephemeral.PubKey().SerializeUncompressed()
	key, err := eciesKey(ephemeralPub, &ephemeral.Key, receiver)
	if err != nil {
		return nil, err
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, eciesNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	ct, tag := sealed[:len(sealed)-eciesTagSize], sealed[len(sealed)-eciesTagSize:]

	out := make([]byte, 0, eciesHeaderSize+len(ct))
	out = append(out, ephemeralPub...)
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return out, nil
}

// Decrypt opens an envelope produced by Encrypt.
func Decrypt(priv *PrivateKey, envelope []byte) ([]byte, error) {
	if len(envelope) < eciesHeaderSize {
		return nil, ErrEnvelopeTooShort
	}
	ephemeralPub := envelope[:eciesPubKeySize]
	nonce := envelope[eciesPubKeySize : eciesPubKeySize+eciesNonceSize]
	tag := envelope[eciesPubKeySize+eciesNonceSize : eciesHeaderSize]
	ct := envelope[eciesHeaderSize:]

	sender, err := secp256k1.ParsePubKey(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("parse ephemeral key: %w", err)
	}
	key, err := eciesKey(ephemeralPub, &priv.key.Key, sender)
	if err != nil {
		return nil, err
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(ct)+eciesTagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// eciesKey derives the AES key from the ephemeral public key and the
// ECDH shared point, both uncompressed.
func eciesKey(ephemeralPub []byte, secret *secp256k1.ModNScalar, peer *secp256k1.PublicKey) ([]byte, error) {
	var p, shared secp256k1.JacobianPoint
	peer.AsJacobian(&p)
	secp256k1.ScalarMultNonConst(secret, &p, &shared)
	sharedPub, err := toPublicKey(&shared)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}

	master := make([]byte, 0, 2*eciesPubKeySize)
	master = append(master, ephemeralPub...)
	master = append(master, sharedPub.SerializeUncompressed()...)

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, nil), key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, eciesNonceSize)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return aead, nil
}
