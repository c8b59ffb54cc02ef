package txbuilder

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/Klingon-tech/klingnet-statechain/internal/log"
	"github.com/Klingon-tech/klingnet-statechain/internal/protocol"
	"github.com/Klingon-tech/klingnet-statechain/internal/wallet"
	"github.com/Klingon-tech/klingnet-statechain/pkg/crypto"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// session holds the client's secrets for one signature.
//
//	R = R_c + R_s + b·G
//	e = H(R.x, P.x, m)
//	s = s_c + s_s + b,  s_c = k_c + e·x_c
//
// k_c and b are negated when R has odd y, x_c when P has odd y; the entity
// is told to do the same for its share.
type session struct {
	user        *crypto.PrivateKey
	aggregate   *secp256k1.PublicKey
	clientNonce *secp256k1.PrivateKey
	blinding    *secp256k1.PrivateKey
	blindingHex string
	serverNonce string
}

func newSession(coin *wallet.Coin) (*session, error) {
	user, err := crypto.PrivateKeyFromHex(coin.UserPrivkey)
	if err != nil {
		return nil, fmt.Errorf("user key: %w", err)
	}
	server, err := crypto.ParsePubKeyHex(coin.ServerPubkey)
	if err != nil {
		return nil, fmt.Errorf("server key: %w", err)
	}
	agg, err := crypto.AddPubKeys(user.PubKey(), server)
	if err != nil {
		return nil, err
	}
	if coin.AggregatedPubkey != "" && coin.AggregatedPubkey != hex.EncodeToString(agg.SerializeCompressed()) {
		return nil, fmt.Errorf("%w: stored aggregate key does not match user and server keys", ErrMissingKeyData)
	}

	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	b, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate blinding factor: %w", err)
	}
	return &session{
		user:        user,
		aggregate:   agg,
		clientNonce: k,
		blinding:    b,
		blindingHex: hex.EncodeToString(b.Serialize()),
	}, nil
}

func (s *session) sign(ctx context.Context, cosigner Cosigner, coin *wallet.Coin, sighash []byte) ([]byte, error) {
	defer log.Benchmark(log.Transfer, "cosign")()

	serverNonce, err := cosigner.SignFirst(ctx, &protocol.SignFirstRequest{
		StatechainID:       coin.StatechainID,
		SignedStatechainID: coin.SignedStatechainID,
	})
	if err != nil {
		return nil, fmt.Errorf("sign/first: %w", err)
	}
	rs, err := crypto.ParsePubKeyHex(serverNonce)
	if err != nil {
		return nil, fmt.Errorf("server nonce: %w", err)
	}
	s.serverNonce = serverNonce

	r, err := crypto.AddPubKeys(s.clientNonce.PubKey(), rs, s.blinding.PubKey())
	if err != nil {
		return nil, err
	}
	negateNonce := crypto.HasOddY(r)
	negateKey := crypto.HasOddY(s.aggregate)

	k := s.clientNonce.Key
	b := s.blinding.Key
	x := s.user.Scalar()
	defer k.Zero()
	defer b.Zero()
	defer x.Zero()
	if negateNonce {
		k.Negate()
		b.Negate()
	}
	if negateKey {
		x.Negate()
	}

	rx := crypto.XOnly(r)
	px := crypto.XOnly(s.aggregate)
	e := crypto.Challenge(rx, px, sighash)

	partial, err := cosigner.SignSecond(ctx, &protocol.SignSecondRequest{
		StatechainID:       coin.StatechainID,
		SignedStatechainID: coin.SignedStatechainID,
		ServerPubNonce:     serverNonce,
		Challenge:          crypto.ScalarHex(&e),
		NegateSeckey:       negateKey,
		NegateNonce:        negateNonce,
	})
	if err != nil {
		return nil, fmt.Errorf("sign/second: %w", err)
	}
	ss, err := crypto.ParseScalarHex(partial)
	if err != nil {
		return nil, fmt.Errorf("server partial signature: %w", err)
	}

	var sum secp256k1.ModNScalar
	sum.Mul2(&e, &x).Add(&k).Add(ss).Add(&b)
	sBytes := sum.Bytes()

	sig := make([]byte, 0, 64)
	sig = append(sig, rx...)
	sig = append(sig, sBytes[:]...)
	if !crypto.VerifySignature(sighash, sig, px) {
		return nil, ErrCosignFailed
	}
	return sig, nil
}

func (s *session) zero() {
	s.user.Zero()
	s.clientNonce.Zero()
	s.blinding.Zero()
}
