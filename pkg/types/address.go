package types

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Transfer address HRP (human-readable part) constants for bech32m encoding.
const (
	MainnetHRP = "sc"
	TestnetHRP = "tsc"
)

// TransferAddressVersion is the only payload version currently defined.
const TransferAddressVersion = 0

const transferAddressPayloadSize = 1 + 2*secp256k1.PubKeyBytesLenCompressed

// ErrInvalidTransferAddress is returned for malformed transfer addresses.
var ErrInvalidTransferAddress = errors.New("invalid transfer address")

// TransferAddress is where a statecoin is sent: the receiver's user key
// (owner of the next backup output) and auth key (mailbox and message
// encryption key).
type TransferAddress struct {
	HRP        string
	UserPubkey []byte // compressed, 33 bytes
	AuthPubkey []byte // compressed, 33 bytes
}

// HRPForNetwork returns the transfer address HRP for a Bitcoin network name.
func HRPForNetwork(network string) string {
	if network == "bitcoin" || network == "mainnet" {
		return MainnetHRP
	}
	return TestnetHRP
}

// NewTransferAddress builds an address for the given network.
func NewTransferAddress(network string, userPubkey, authPubkey []byte) (*TransferAddress, error) {
	a := &TransferAddress{
		HRP:        HRPForNetwork(network),
		UserPubkey: append([]byte(nil), userPubkey...),
		AuthPubkey: append([]byte(nil), authPubkey...),
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Encode returns the bech32m string form.
func (a *TransferAddress) Encode() (string, error) {
	if err := a.validate(); err != nil {
		return "", err
	}
	payload := make([]byte, 0, transferAddressPayloadSize)
	payload = append(payload, TransferAddressVersion)
	payload = append(payload, a.UserPubkey...)
	payload = append(payload, a.AuthPubkey...)

	data, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert bits: %w", err)
	}
	return bech32.EncodeM(a.HRP, data)
}

// String returns the encoded address, or "" if the address is invalid.
func (a *TransferAddress) String() string {
	s, err := a.Encode()
	if err != nil {
		return ""
	}
	return s
}

// ParseTransferAddress decodes a bech32m transfer address.
func ParseTransferAddress(s string) (*TransferAddress, error) {
	hrp, data, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransferAddress, err)
	}
	if hrp != MainnetHRP && hrp != TestnetHRP {
		return nil, fmt.Errorf("%w: unknown prefix %q", ErrInvalidTransferAddress, hrp)
	}
	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransferAddress, err)
	}
	if len(payload) != transferAddressPayloadSize {
		return nil, fmt.Errorf("%w: payload is %d bytes, want %d",
			ErrInvalidTransferAddress, len(payload), transferAddressPayloadSize)
	}
	if payload[0] != TransferAddressVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidTransferAddress, payload[0])
	}

	a := &TransferAddress{
		HRP:        hrp,
		UserPubkey: payload[1:34],
		AuthPubkey: payload[34:],
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *TransferAddress) validate() error {
	if a.HRP != MainnetHRP && a.HRP != TestnetHRP {
		return fmt.Errorf("%w: unknown prefix %q", ErrInvalidTransferAddress, a.HRP)
	}
	if _, err := parseCompressed(a.UserPubkey); err != nil {
		return fmt.Errorf("%w: user key: %v", ErrInvalidTransferAddress, err)
	}
	if _, err := parseCompressed(a.AuthPubkey); err != nil {
		return fmt.Errorf("%w: auth key: %v", ErrInvalidTransferAddress, err)
	}
	return nil
}

func parseCompressed(b []byte) (*secp256k1.PublicKey, error) {
	if len(b) != secp256k1.PubKeyBytesLenCompressed {
		return nil, fmt.Errorf("want %d bytes, got %d", secp256k1.PubKeyBytesLenCompressed, len(b))
	}
	return secp256k1.ParsePubKey(b)
}
