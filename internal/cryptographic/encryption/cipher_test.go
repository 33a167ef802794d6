package encryption

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"resv_relay/internal/cryptographic/dh"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scalar(last byte) []byte {
	b := make([]byte, 32)
	b[31] = last
	return b
}

func testKey(t *testing.T) [KeySize]byte {
	aPriv, _, err := dh.NewKeyPair()
	require.NoError(t, err)
	_, bPub, err := dh.NewKeyPair()
	require.NoError(t, err)
	key, err := ConversationKey(aPriv[:], bPub[:])
	require.NoError(t, err)
	return key
}

func TestConversationKeyVector(t *testing.T) {
	pub2, err := dh.PublicKey(scalar(2))
	require.NoError(t, err)

	key, err := ConversationKey(scalar(1), pub2[:])
	require.NoError(t, err)
	assert.Equal(t, "c41c775356fd92eadc63ff5a0dc1da211b268cbea22316767095b2871ea1412d", hex.EncodeToString(key[:]))
}

func TestConversationKeyIsSymmetric(t *testing.T) {
	aPriv, aPub, err := dh.NewKeyPair()
	require.NoError(t, err)
	bPriv, bPub, err := dh.NewKeyPair()
	require.NoError(t, err)

	ab, err := ConversationKey(aPriv[:], bPub[:])
	require.NoError(t, err)
	ba, err := ConversationKey(bPriv[:], aPub[:])
	require.NoError(t, err)
	assert.Equal(t, ab, ba)

	_, err = ConversationKey(aPriv[:], bytes.Repeat([]byte{0xff}, 32))
	assert.ErrorIs(t, err, dh.ErrInvalidPeerKey)
}

func TestEncryptVector(t *testing.T) {
	raw, _ := hex.DecodeString("c41c775356fd92eadc63ff5a0dc1da211b268cbea22316767095b2871ea1412d")
	var key [KeySize]byte
	copy(key[:], raw)
	nonce := scalar(1)

	payload, err := Encrypt([]byte("a"), key, nonce)
	require.NoError(t, err)
	assert.Equal(t, "AgAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAABee0G5VSK0/9YypIObAtDKfYEAjD35uVkHyB0F4DwrcNaCXlCWZKaArsGrY6M9wnuTMxWfp1RTN9Xga8no+kF5Vsb", payload)

	plain, err := Decrypt(payload, key)
	require.NoError(t, err)
	assert.Equal(t, "a", string(plain))
}

func TestRoundTripSizes(t *testing.T) {
	key := testKey(t)
	for _, n := range []int{1, 31, 32, 33, 255, 256, 257, 1000, 4096, 65535} {
		plaintext := bytes.Repeat([]byte{'x'}, n)
		payload, err := Encrypt(plaintext, key)
		require.NoError(t, err, "size %d", n)

		got, err := Decrypt(payload, key)
		require.NoError(t, err, "size %d", n)
		assert.Equal(t, plaintext, got, "size %d", n)
	}
}

func TestEncryptIsRandomized(t *testing.T) {
	key := testKey(t)
	plaintext := []byte(`{"kind":9901,"content":"window seat please"}`)

	p1, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	p2, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)

	for _, p := range []string{p1, p2} {
		got, err := Decrypt(p, key)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	payload, err := Encrypt([]byte("secret"), testKey(t))
	require.NoError(t, err)

	_, err = Decrypt(payload, testKey(t))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestEncryptBounds(t *testing.T) {
	key := testKey(t)

	_, err := Encrypt(nil, key)
	assert.ErrorIs(t, err, ErrEmptyPlaintext)

	_, err = Encrypt(make([]byte, MaxPlaintextSize+1), key)
	assert.ErrorIs(t, err, ErrPlaintextTooLarge)

	_, err = Encrypt([]byte("x"), key, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecryptMalformed(t *testing.T) {
	key := testKey(t)
	good, err := Encrypt([]byte("hello"), key)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(good)
	require.NoError(t, err)

	wrongVersion := append([]byte{1}, raw[1:]...)
	tamperedMac := append([]byte{}, raw...)
	tamperedMac[len(tamperedMac)-1] ^= 0xff
	tamperedCt := append([]byte{}, raw...)
	tamperedCt[40] ^= 0x01

	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"empty", "", ErrMalformedPayload},
		{"future version marker", "#" + good[1:], ErrUnsupportedVersion},
		{"too short", good[:100], ErrMalformedPayload},
		{"too long", strings.Repeat("A", maxPayloadSize+1), ErrMalformedPayload},
		{"not base64", strings.Repeat("*", 140), ErrMalformedPayload},
		{"wrong version", base64.StdEncoding.EncodeToString(wrongVersion), ErrUnsupportedVersion},
		{"tampered mac", base64.StdEncoding.EncodeToString(tamperedMac), ErrAuthenticationFailed},
		{"tampered ciphertext", base64.StdEncoding.EncodeToString(tamperedCt), ErrAuthenticationFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decrypt(tc.payload, key)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCalcPaddedLen(t *testing.T) {
	cases := map[int]int{
		16: 32, 32: 32, 33: 64, 37: 64, 45: 64, 49: 64, 64: 64, 65: 96,
		100: 128, 111: 128, 200: 224, 250: 256, 320: 320, 383: 384, 384: 384,
		400: 448, 500: 512, 512: 512, 515: 640, 700: 768, 800: 896, 900: 1024,
		1020: 1024, 65535: 65536,
	}
	for n, want := range cases {
		assert.Equal(t, want, calcPaddedLen(n), "len %d", n)
	}
}

func TestUnpadRejectsInconsistentLength(t *testing.T) {
	padded, err := pad([]byte("abc"))
	require.NoError(t, err)

	got, err := unpad(padded)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	_, err = unpad(padded[:20])
	assert.ErrorIs(t, err, ErrMalformedPayload)

	zero := append([]byte{}, padded...)
	zero[0], zero[1] = 0, 0
	_, err = unpad(zero)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}
