package encryption

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAEADRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	aad := []byte("inbox:abc")

	ct, err := AEADEncrypt(key, []byte("stored rumor"), aad)
	require.NoError(t, err)

	plain, err := AEADDecrypt(key, ct, aad)
	require.NoError(t, err)
	assert.Equal(t, "stored rumor", string(plain))

	_, err = AEADDecrypt(key, ct, []byte("inbox:other"))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	_, err = AEADDecrypt(key, ct[:5], aad)
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}
