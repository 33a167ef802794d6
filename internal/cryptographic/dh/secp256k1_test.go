package dh

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedSecretIsSymmetric(t *testing.T) {
	aPriv, aPub, err := NewKeyPair()
	require.NoError(t, err)
	bPriv, bPub, err := NewKeyPair()
	require.NoError(t, err)

	ab, err := SharedSecret(aPriv[:], bPub[:])
	require.NoError(t, err)
	ba, err := SharedSecret(bPriv[:], aPub[:])
	require.NoError(t, err)

	assert.Len(t, ab, 32)
	assert.Equal(t, ab, ba)
}

func TestPublicKeyMatchesKeyPair(t *testing.T) {
	priv, pub, err := NewKeyPair()
	require.NoError(t, err)

	got, err := PublicKey(priv[:])
	require.NoError(t, err)
	assert.Equal(t, pub, got)
}

func TestInvalidKeys(t *testing.T) {
	assert := assert.New(t)

	priv, _, err := NewKeyPair()
	require.NoError(t, err)

	_, err = SharedSecret(make([]byte, 32), priv[:])
	assert.ErrorIs(err, ErrInvalidPrivateKey)

	_, err = SharedSecret(bytes.Repeat([]byte{0xff}, 32), priv[:])
	assert.ErrorIs(err, ErrInvalidPrivateKey)

	// x = 0xff..ff is above the field prime, so it is not on the curve.
	_, err = SharedSecret(priv[:], bytes.Repeat([]byte{0xff}, 32))
	assert.ErrorIs(err, ErrInvalidPeerKey)

	_, err = SharedSecret(priv[:], []byte{1, 2, 3})
	assert.ErrorIs(err, ErrInvalidPeerKey)

	_, err = ParsePublicKeyHex("zz")
	assert.ErrorIs(err, ErrInvalidPeerKey)
}
