package signature

import (
	"errors"
	"fmt"

	"resv_relay/internal/cryptographic/dh"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

var ErrInvalidSignature = errors.New("signature: invalid signature")

// SchnorrSign signs a 32-byte digest with BIP-340.
func SchnorrSign(privKeyBytes []byte, digest []byte) ([]byte, error) {
	sk, err := dh.ParsePrivateKey(privKeyBytes)
	if err != nil {
		return nil, err
	}
	sig, err := schnorr.Sign(sk, digest)
	if err != nil {
		return nil, fmt.Errorf("schnorr.Sign: %w", err)
	}
	return sig.Serialize(), nil
}

// SchnorrVerify checks sig over digest against an x-only public key.
func SchnorrVerify(pubKeyBytes []byte, digest []byte, sig []byte) bool {
	pub, err := dh.ParsePublicKey(pubKeyBytes)
	if err != nil {
		return false
	}
	s, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false
	}
	return s.Verify(digest, pub)
}
