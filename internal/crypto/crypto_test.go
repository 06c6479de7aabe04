package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	plaintext := []byte(`{"command":"game","user_name":"alice"}`)

	encoded, err := Encrypt(plaintext, "test-machine-id")
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)

	decoded, err := Decrypt(encoded, "test-machine-id")
	require.NoError(t, err)
	assert.Equal(t, plaintext, decoded)
}

func TestDecryptWrongMachineIDFails(t *testing.T) {
	encoded, err := Encrypt([]byte("payload"), "machine-a")
	require.NoError(t, err)

	_, err = Decrypt(encoded, "machine-b")
	assert.Error(t, err)
}

func TestDecryptMalformedCiphertext(t *testing.T) {
	_, err := Decrypt("not-valid-base64!!", "machine-a")
	assert.Error(t, err)
}

func TestEncryptProducesDistinctCiphertextPerCall(t *testing.T) {
	a, err := Encrypt([]byte("payload"), "machine-a")
	require.NoError(t, err)
	b, err := Encrypt([]byte("payload"), "machine-a")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "random nonce must vary the ciphertext across calls")
}
