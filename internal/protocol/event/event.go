package event

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"resv_relay/internal/cryptographic/dh"
	"resv_relay/internal/cryptographic/signature"
	"resv_relay/internal/model"
)

var (
	ErrIDMismatch       = errors.New("event: id does not match content")
	ErrInvalidSignature = errors.New("event: invalid signature")
	ErrMalformedEvent   = errors.New("event: malformed event")
)

// ComputeID hashes the canonical serialization.
func ComputeID(ev *model.Event) string {
	sum := sha256.Sum256(Serialize(ev))
	return hex.EncodeToString(sum[:])
}

// CheckID reports whether ev.ID is the hash of its canonical form.
func CheckID(ev *model.Event) bool {
	return ev.ID == ComputeID(ev)
}

// Sign fills PubKey, ID and Sig from priv. ev.Tags is normalised to a non-nil slice so
// the JSON form carries [] rather than null.
func Sign(ev *model.Event, priv []byte) error {
	pub, err := dh.PublicKeyHex(priv)
	if err != nil {
		return err
	}
	if ev.Tags == nil {
		ev.Tags = model.Tags{}
	}
	ev.PubKey = pub

	sum := sha256.Sum256(Serialize(ev))
	sig, err := signature.SchnorrSign(priv, sum[:])
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	ev.ID = hex.EncodeToString(sum[:])
	ev.Sig = hex.EncodeToString(sig)
	return nil
}

// Verify checks the id and the BIP-340 signature against ev.PubKey.
func Verify(ev *model.Event) error {
	if ev == nil || len(ev.PubKey) != 64 || len(ev.Sig) != 128 {
		return ErrMalformedEvent
	}
	sum := sha256.Sum256(Serialize(ev))
	if hex.EncodeToString(sum[:]) != ev.ID {
		return ErrIDMismatch
	}
	pub, err := hex.DecodeString(ev.PubKey)
	if err != nil {
		return fmt.Errorf("%w: pubkey: %v", ErrMalformedEvent, err)
	}
	sig, err := hex.DecodeString(ev.Sig)
	if err != nil {
		return fmt.Errorf("%w: sig: %v", ErrMalformedEvent, err)
	}
	if !signature.SchnorrVerify(pub, sum[:], sig) {
		return ErrInvalidSignature
	}
	return nil
}
