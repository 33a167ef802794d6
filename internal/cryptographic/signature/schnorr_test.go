package signature

import (
	"crypto/sha256"
	"testing"

	"resv_relay/internal/cryptographic/dh"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	priv, pub, err := dh.NewKeyPair()
	require.NoError(t, err)
	_, otherPub, err := dh.NewKeyPair()
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("table for two"))
	sig, err := SchnorrSign(priv[:], digest[:])
	require.NoError(t, err)
	assert.Len(t, sig, 64)

	assert.True(t, SchnorrVerify(pub[:], digest[:], sig))
	assert.False(t, SchnorrVerify(otherPub[:], digest[:], sig))

	tampered := sha256.Sum256([]byte("table for three"))
	assert.False(t, SchnorrVerify(pub[:], tampered[:], sig))
	assert.False(t, SchnorrVerify(pub[:], digest[:], sig[:10]))
}
