package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func TestSignVerify(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	hash := SHA256([]byte("statechain-id"))

	sig, err := key.Sign(hash)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64", len(sig))
	}

	if !VerifySignature(hash, sig, key.PublicKey()) {
		t.Error("signature should verify against compressed key")
	}
	if !VerifySignature(hash, sig, XOnly(key.PubKey())) {
		t.Error("signature should verify against x-only key")
	}

	other := SHA256([]byte("other"))
	if VerifySignature(other, sig, key.PublicKey()) {
		t.Error("signature should not verify for a different hash")
	}

	sig[10] ^= 0x01
	if VerifySignature(hash, sig, key.PublicKey()) {
		t.Error("tampered signature should not verify")
	}
}

func TestSign_BadHashLength(t *testing.T) {
	key, _ := GenerateKey()
	if _, err := key.Sign([]byte("short")); err == nil {
		t.Error("Sign() should reject a non-32-byte hash")
	}
}

func TestPrivateKeyFromBytes_Range(t *testing.T) {
	if _, err := PrivateKeyFromBytes(make([]byte, 32)); err == nil {
		t.Error("zero private key should be rejected")
	}
	order := bytes.Repeat([]byte{0xff}, 32)
	if _, err := PrivateKeyFromBytes(order); err == nil {
		t.Error("private key >= n should be rejected")
	}
	if _, err := PrivateKeyFromBytes(make([]byte, 31)); err == nil {
		t.Error("31-byte private key should be rejected")
	}
}

func TestAddPubKeys_MatchesScalarSum(t *testing.T) {
	a, _ := GenerateKey()
	b, _ := GenerateKey()

	sum, err := AddPubKeys(a.PubKey(), b.PubKey())
	if err != nil {
		t.Fatalf("AddPubKeys() error: %v", err)
	}

	sa, sb := a.Scalar(), b.Scalar()
	sa.Add(&sb)
	want, err := ScalarBaseMult(&sa)
	if err != nil {
		t.Fatalf("ScalarBaseMult() error: %v", err)
	}
	if !sum.IsEqual(want) {
		t.Error("a·G + b·G != (a+b)·G")
	}
}

func TestAddPubKeys_Infinity(t *testing.T) {
	a, _ := GenerateKey()
	k := a.Scalar()
	k.Negate()
	neg, err := ScalarBaseMult(&k)
	if err != nil {
		t.Fatalf("ScalarBaseMult() error: %v", err)
	}
	if _, err := AddPubKeys(a.PubKey(), neg); err != ErrPointAtInfinity {
		t.Errorf("P + (-P) error = %v, want ErrPointAtInfinity", err)
	}
}

func TestAddPubKeys_Doubling(t *testing.T) {
	a, _ := GenerateKey()
	got, err := AddPubKeys(a.PubKey(), a.PubKey())
	if err != nil {
		t.Fatalf("AddPubKeys() error: %v", err)
	}
	k := a.Scalar()
	k.Add(&k)
	want, _ := ScalarBaseMult(&k)
	if !got.IsEqual(want) {
		t.Error("P + P != 2P")
	}
}

func TestChallenge_MatchesSignature(t *testing.T) {
	// s·G = R + e·P for a BIP-340 signature made by the library.
	key, _ := GenerateKey()
	msg := SHA256([]byte("msg"))
	sig, err := key.Sign(msg)
	if err != nil {
		t.Fatal(err)
	}

	pub := key.PubKey()
	e := Challenge(sig[:32], XOnly(pub), msg)

	s, err := ParseScalar(sig[32:])
	if err != nil {
		t.Fatal(err)
	}
	sG, _ := ScalarBaseMult(s)

	// e·P', with P' the even-y lift of P.
	x := key.Scalar()
	if HasOddY(pub) {
		x.Negate()
	}
	x.Mul(&e)
	eP, _ := ScalarBaseMult(&x)

	var negEP secp256k1.JacobianPoint
	eP.AsJacobian(&negEP)
	negEP.Y.Negate(1)
	negEP.Y.Normalize()
	R, err := toPublicKey(&negEP)
	if err != nil {
		t.Fatal(err)
	}
	R, err = AddPubKeys(sG, R)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(XOnly(R), sig[:32]) {
		t.Error("R.x recomputed from s·G - e·P does not match signature")
	}
}

func TestScalarHexRoundtrip(t *testing.T) {
	key, _ := GenerateKey()
	k := key.Scalar()
	parsed, err := ParseScalarHex(ScalarHex(&k))
	if err != nil {
		t.Fatalf("ParseScalarHex() error: %v", err)
	}
	if !parsed.Equals(&k) {
		t.Error("scalar hex roundtrip mismatch")
	}
	if _, err := ParseScalarHex(hex.EncodeToString(bytes.Repeat([]byte{0xff}, 32))); err == nil {
		t.Error("ParseScalarHex() should reject overflow")
	}
}

func TestECIES(t *testing.T) {
	recv, _ := GenerateKey()
	plaintext := []byte(`{"statechain_id":"sc1"}`)

	envelope, err := Encrypt(recv.PubKey(), plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if len(envelope) != eciesHeaderSize+len(plaintext) {
		t.Errorf("envelope length = %d, want %d", len(envelope), eciesHeaderSize+len(plaintext))
	}
	if envelope[0] != 0x04 {
		t.Errorf("envelope should start with an uncompressed key, got prefix %#x", envelope[0])
	}

	got, err := Decrypt(recv, envelope)
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestECIES_WrongKey(t *testing.T) {
	recv, _ := GenerateKey()
	other, _ := GenerateKey()
	envelope, _ := Encrypt(recv.PubKey(), []byte("secret"))

	if _, err := Decrypt(other, envelope); err == nil {
		t.Error("Decrypt() with the wrong key should fail")
	}
}

func TestECIES_Tampered(t *testing.T) {
	recv, _ := GenerateKey()
	envelope, _ := Encrypt(recv.PubKey(), []byte("secret"))
	envelope[len(envelope)-1] ^= 0xff

	if _, err := Decrypt(recv, envelope); err == nil {
		t.Error("Decrypt() of a tampered envelope should fail")
	}
	if _, err := Decrypt(recv, envelope[:20]); err != ErrEnvelopeTooShort {
		t.Errorf("Decrypt() short envelope error = %v, want ErrEnvelopeTooShort", err)
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte("a"))
	if len(a) != 16 {
		t.Errorf("Fingerprint length = %d, want 16", len(a))
	}
	if a == Fingerprint([]byte("b")) {
		t.Error("distinct inputs should have distinct fingerprints")
	}
	if a != Fingerprint([]byte("a")) {
		t.Error("Fingerprint should be deterministic")
	}
}
