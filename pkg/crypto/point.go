package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ErrPointAtInfinity is returned when a point sum degenerates.
var ErrPointAtInfinity = errors.New("point at infinity")

// ParsePubKeyHex parses a hex-encoded compressed or uncompressed public key.
func ParsePubKeyHex(s string) (*secp256k1.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}

// ParseScalar parses a 32-byte big-endian scalar, rejecting values >= n.
func ParseScalar(b []byte) (*secp256k1.ModNScalar, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("scalar must be 32 bytes, got %d", len(b))
	}
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(b); overflow {
		return nil, fmt.Errorf("scalar overflows group order")
	}
	return &s, nil
}

// ParseScalarHex parses a hex-encoded 32-byte scalar.
func ParseScalarHex(s string) (*secp256k1.ModNScalar, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode scalar: %w", err)
	}
	return ParseScalar(b)
}

// ScalarHex hex-encodes a scalar as 32 bytes.
func ScalarHex(s *secp256k1.ModNScalar) string {
	b := s.Bytes()
	return hex.EncodeToString(b[:])
}

// ScalarBaseMult returns k·G.
func ScalarBaseMult(k *secp256k1.ModNScalar) (*secp256k1.PublicKey, error) {
	var p secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(k, &p)
	return toPublicKey(&p)
}

// AddPubKeys returns the sum of the given points.
func AddPubKeys(keys ...*secp256k1.PublicKey) (*secp256k1.PublicKey, error) {
	if len(keys) == 0 {
		return nil, errors.New("no points to add")
	}
	var acc secp256k1.JacobianPoint
	keys[0].AsJacobian(&acc)
	for _, k := range keys[1:] {
		var p, sum secp256k1.JacobianPoint
		k.AsJacobian(&p)
		secp256k1.AddNonConst(&acc, &p, &sum)
		acc.Set(&sum)
	}
	return toPublicKey(&acc)
}

func toPublicKey(p *secp256k1.JacobianPoint) (*secp256k1.PublicKey, error) {
	if p.Z.IsZero() || (p.X.IsZero() && p.Y.IsZero()) {
		return nil, ErrPointAtInfinity
	}
	p.ToAffine()

	var x, y secp256k1.FieldVal
	x.Set(&p.X)
	y.Set(&p.Y)
	return secp256k1.NewPublicKey(&x, &y), nil
}

// HasOddY reports whether the point's y coordinate is odd.
func HasOddY(pub *secp256k1.PublicKey) bool {
	return pub.SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd
}

// XOnly returns the 32-byte BIP-340 encoding of the point.
func XOnly(pub *secp256k1.PublicKey) []byte {
	return schnorr.SerializePubKey(pub)
}

// Challenge computes the BIP-340 challenge e = H(R.x || P.x || m) mod n.
func Challenge(rx, px, msg []byte) secp256k1.ModNScalar {
	var e secp256k1.ModNScalar
	e.SetByteSlice(TaggedHash(challengeTag, rx, px, msg))
	return e
}
