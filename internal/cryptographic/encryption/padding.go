package encryption

import (
	"encoding/binary"
	"math/bits"
)

const (
	MinPlaintextSize = 1
	MaxPlaintextSize = 65535
)

// calcPaddedLen rounds n up so only a coarse length bucket is visible on the wire:
// 32 bytes minimum, then 32-byte steps up to 256, then eighths of the next power of two.
func calcPaddedLen(n int) int {
	if n <= 32 {
		return 32
	}
	nextPower := 1 << bits.Len(uint(n-1))
	chunk := 32
	if nextPower > 256 {
		chunk = nextPower / 8
	}
	return chunk * ((n-1)/chunk + 1)
}

// pad returns u16be(len) || plaintext || zeros.
func pad(plaintext []byte) ([]byte, error) {
	n := len(plaintext)
	if n < MinPlaintextSize {
		return nil, ErrEmptyPlaintext
	}
	if n > MaxPlaintextSize {
		return nil, ErrPlaintextTooLarge
	}
	out := make([]byte, 2+calcPaddedLen(n))
	binary.BigEndian.PutUint16(out, uint16(n))
	copy(out[2:], plaintext)
	return out, nil
}

func unpad(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, ErrMalformedPayload
	}
	n := int(binary.BigEndian.Uint16(padded))
	if n < MinPlaintextSize || 2+n > len(padded) || len(padded) != 2+calcPaddedLen(n) {
		return nil, ErrMalformedPayload
	}
	return padded[2 : 2+n], nil
}
