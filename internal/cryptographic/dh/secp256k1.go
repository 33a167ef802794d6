package dh

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

var (
	ErrInvalidPrivateKey = errors.New("dh: invalid private key")
	ErrInvalidPeerKey    = errors.New("dh: invalid peer public key")
)

// Generate a new secp256k1 key pair. pub is the 32-byte x-only encoding.
func NewKeyPair() (priv, pub [32]byte, err error) {
	sk, err := btcec.NewPrivateKey()
	if err != nil {
		return priv, pub, fmt.Errorf("failed to generate private key: %w", err)
	}
	copy(priv[:], sk.Serialize())
	copy(pub[:], schnorr.SerializePubKey(sk.PubKey()))
	sk.Zero()
	return priv, pub, nil
}

// ParsePrivateKey rejects zero and out-of-range scalars instead of reducing them mod N.
func ParsePrivateKey(b []byte) (*btcec.PrivateKey, error) {
	if len(b) != 32 {
		return nil, ErrInvalidPrivateKey
	}
	var s btcec.ModNScalar
	if overflow := s.SetByteSlice(b); overflow || s.IsZero() {
		return nil, ErrInvalidPrivateKey
	}
	sk, _ := btcec.PrivKeyFromBytes(b)
	return sk, nil
}

// ParsePublicKey parses an x-only (BIP-340) public key.
func ParsePublicKey(b []byte) (*btcec.PublicKey, error) {
	if len(b) != 32 {
		return nil, ErrInvalidPeerKey
	}
	pub, err := schnorr.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeerKey, err)
	}
	return pub, nil
}

// ParsePublicKeyHex is ParsePublicKey for the hex form carried in events.
func ParsePublicKeyHex(s string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeerKey, err)
	}
	return ParsePublicKey(b)
}

// PublicKey returns the x-only public key of priv.
func PublicKey(priv []byte) ([32]byte, error) {
	var pub [32]byte
	sk, err := ParsePrivateKey(priv)
	if err != nil {
		return pub, err
	}
	copy(pub[:], schnorr.SerializePubKey(sk.PubKey()))
	return pub, nil
}

// PublicKeyHex returns the hex x-only public key of priv.
func PublicKeyHex(priv []byte) (string, error) {
	pub, err := PublicKey(priv)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(pub[:]), nil
}

// Perform ECDH: priv * pub, returning the unhashed 32-byte x coordinate.
func SharedSecret(priv, pub []byte) ([]byte, error) {
	sk, err := ParsePrivateKey(priv)
	if err != nil {
		return nil, err
	}
	pk, err := ParsePublicKey(pub)
	if err != nil {
		return nil, err
	}
	return btcec.GenerateSharedSecret(sk, pk), nil
}
