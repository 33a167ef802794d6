package encryption

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"resv_relay/internal/cryptographic/dh"
	"resv_relay/internal/cryptographic/kdf"

	"golang.org/x/crypto/chacha20"
)

const (
	Version   byte = 2
	NonceSize      = 32
	MacSize        = 32
	KeySize        = 32

	minPayloadSize = 132
	maxPayloadSize = 87472
	minDecodedSize = 99
	maxDecodedSize = 65603
)

var conversationSalt = []byte("nip44-v2")

// ConversationKey derives the symmetric key shared by priv's owner and peerPub's owner.
// ConversationKey(a, B) == ConversationKey(b, A).
func ConversationKey(priv, peerPub []byte) ([KeySize]byte, error) {
	var key [KeySize]byte
	shared, err := dh.SharedSecret(priv, peerPub)
	if err != nil {
		return key, err
	}
	copy(key[:], kdf.Extract(shared, conversationSalt))
	return key, nil
}

type messageKeys struct {
	chachaKey   []byte
	chachaNonce []byte
	hmacKey     []byte
}

func deriveMessageKeys(key [KeySize]byte, nonce []byte) (*messageKeys, error) {
	buf := make([]byte, 76)
	if _, err := kdf.Expand(key[:], nonce, buf); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return &messageKeys{
		chachaKey:   buf[0:32],
		chachaNonce: buf[32:44],
		hmacKey:     buf[44:76],
	}, nil
}

func computeMac(hmacKey, nonce, ciphertext []byte) []byte {
	h := hmac.New(sha256.New, hmacKey)
	h.Write(nonce)
	h.Write(ciphertext)
	return h.Sum(nil)
}

// Encrypt pads and encrypts plaintext under key. A random nonce is drawn unless one is
// passed; passing a nonce is only meant for test vectors.
func Encrypt(plaintext []byte, key [KeySize]byte, nonce ...[]byte) (string, error) {
	var n []byte
	if len(nonce) > 0 && nonce[0] != nil {
		if len(nonce[0]) != NonceSize {
			return "", fmt.Errorf("encryption: nonce must be %d bytes", NonceSize)
		}
		n = nonce[0]
	} else {
		n = make([]byte, NonceSize)
		if _, err := io.ReadFull(rand.Reader, n); err != nil {
			return "", fmt.Errorf("rand.Read nonce: %w", err)
		}
	}

	padded, err := pad(plaintext)
	if err != nil {
		return "", err
	}

	keys, err := deriveMessageKeys(key, n)
	if err != nil {
		return "", err
	}
	c, err := chacha20.NewUnauthenticatedCipher(keys.chachaKey, keys.chachaNonce)
	if err != nil {
		return "", fmt.Errorf("chacha20: %w", err)
	}
	ciphertext := make([]byte, len(padded))
	c.XORKeyStream(ciphertext, padded)

	mac := computeMac(keys.hmacKey, n, ciphertext)

	out := make([]byte, 0, 1+NonceSize+len(ciphertext)+MacSize)
	out = append(out, Version)
	out = append(out, n...)
	out = append(out, ciphertext...)
	out = append(out, mac...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. The MAC is checked before the ciphertext is touched.
// Both ErrMalformedPayload and ErrAuthenticationFailed mean "not for this key".
func Decrypt(payload string, key [KeySize]byte) ([]byte, error) {
	plen := len(payload)
	if plen == 0 || payload[0] == '#' {
		return nil, ErrUnsupportedVersion
	}
	if plen < minPayloadSize || plen > maxPayloadSize {
		return nil, fmt.Errorf("%w: invalid payload length %d", ErrMalformedPayload, plen)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	dlen := len(data)
	if dlen < minDecodedSize || dlen > maxDecodedSize {
		return nil, fmt.Errorf("%w: invalid data length %d", ErrMalformedPayload, dlen)
	}
	if data[0] != Version {
		return nil, fmt.Errorf("%w %d", ErrUnsupportedVersion, data[0])
	}

	nonce := data[1 : 1+NonceSize]
	ciphertext := data[1+NonceSize : dlen-MacSize]
	mac := data[dlen-MacSize:]

	keys, err := deriveMessageKeys(key, nonce)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(mac, computeMac(keys.hmacKey, nonce, ciphertext)) {
		return nil, ErrAuthenticationFailed
	}

	c, err := chacha20.NewUnauthenticatedCipher(keys.chachaKey, keys.chachaNonce)
	if err != nil {
		return nil, fmt.Errorf("chacha20: %w", err)
	}
	padded := make([]byte, len(ciphertext))
	c.XORKeyStream(padded, ciphertext)

	return unpad(padded)
}
