package types

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func testPubkeys(t *testing.T) ([]byte, []byte) {
	t.Helper()
	u, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	a, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	return u.PubKey().SerializeCompressed(), a.PubKey().SerializeCompressed()
}

func TestTransferAddress_EncodeParse(t *testing.T) {
	user, auth := testPubkeys(t)

	for _, network := range []string{"bitcoin", "testnet", "signet", "regtest"} {
		t.Run(network, func(t *testing.T) {
			addr, err := NewTransferAddress(network, user, auth)
			if err != nil {
				t.Fatalf("NewTransferAddress() error: %v", err)
			}
			s, err := addr.Encode()
			if err != nil {
				t.Fatalf("Encode() error: %v", err)
			}
			if !strings.HasPrefix(s, HRPForNetwork(network)+"1") {
				t.Errorf("address %s should start with %s1", s, HRPForNetwork(network))
			}

			parsed, err := ParseTransferAddress(s)
			if err != nil {
				t.Fatalf("ParseTransferAddress() error: %v", err)
			}
			if !bytes.Equal(parsed.UserPubkey, user) {
				t.Error("user pubkey mismatch")
			}
			if !bytes.Equal(parsed.AuthPubkey, auth) {
				t.Error("auth pubkey mismatch")
			}
		})
	}
}

func TestParseTransferAddress_Invalid(t *testing.T) {
	user, auth := testPubkeys(t)
	addr, _ := NewTransferAddress("bitcoin", user, auth)
	good := addr.String()

	// Flip a data character.
	b := []byte(good)
	if b[10] == 'q' {
		b[10] = 'p'
	} else {
		b[10] = 'q'
	}

	payload := append(append([]byte{TransferAddressVersion}, user...), auth...)
	data, _ := bech32.ConvertBits(payload, 8, 5, true)

	// Unknown HRP.
	foreign, _ := bech32.EncodeM("bc", data)

	// Wrong version.
	payload[0] = 1
	data, _ = bech32.ConvertBits(payload, 8, 5, true)
	v1, _ := bech32.EncodeM(MainnetHRP, data)

	tests := []struct {
		name string
		addr string
	}{
		{"empty", ""},
		{"checksum", string(b)},
		{"foreign hrp", foreign},
		{"version", v1},
		{"truncated", good[:len(good)-20]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTransferAddress(tt.addr)
			if !errors.Is(err, ErrInvalidTransferAddress) {
				t.Errorf("ParseTransferAddress() error = %v, want ErrInvalidTransferAddress", err)
			}
		})
	}
}

func TestNewTransferAddress_BadKey(t *testing.T) {
	user, _ := testPubkeys(t)
	if _, err := NewTransferAddress("bitcoin", user, []byte{0x02, 0x01}); err == nil {
		t.Error("NewTransferAddress() should reject a short auth key")
	}
}
