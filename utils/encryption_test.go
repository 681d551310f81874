package utils

import (
	"testing"

	"coldpilot/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	config.AppConfig.EncryptionKey = "0123456789abcdef0123456789abcdef"

	ciphertext, err := Encrypt("hunter2-smtp-password")
	require.NoError(t, err)
	require.NotEqual(t, "hunter2-smtp-password", ciphertext)

	plaintext, err := Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hunter2-smtp-password", plaintext)
}

func TestEncryptEmptyString(t *testing.T) {
	config.AppConfig.EncryptionKey = "0123456789abcdef0123456789abcdef"

	ciphertext, err := Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", ciphertext)

	plaintext, err := Decrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", plaintext)
}

func TestDecryptGarbage(t *testing.T) {
	config.AppConfig.EncryptionKey = "0123456789abcdef0123456789abcdef"

	_, err := Decrypt("not base64 at all!!!")
	assert.Error(t, err)

	_, err = Decrypt("YWJj") // valid base64, shorter than one block
	assert.Error(t, err)
}

func TestEncryptUniqueIVs(t *testing.T) {
	config.AppConfig.EncryptionKey = "0123456789abcdef0123456789abcdef"

	a, err := Encrypt("same input")
	require.NoError(t, err)
	b, err := Encrypt("same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
