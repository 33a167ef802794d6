package kdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF runs extract+expand with SHA-256 and fills buffer.
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// Extract is the HKDF-Extract step alone. Used to turn an ECDH x coordinate into a
// conversation key.
func Extract(secret, salt []byte) []byte {
	return hkdf.Extract(sha256.New, secret, salt)
}

// Expand is the HKDF-Expand step alone; prk must already be a pseudorandom key.
func Expand(prk, info, buffer []byte) (int, error) {
	return io.ReadFull(hkdf.Expand(sha256.New, prk, info), buffer)
}
