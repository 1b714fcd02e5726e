package krypto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerdesk/authkit/krypto"
)

func TestAESGCMEncryptor_RoundTrip(t *testing.T) {
	enc, err := krypto.NewAESGCMEncryptor([]byte("base-secret"))
	require.NoError(t, err)

	plaintext := []byte(`{"access_token":"AT1","refresh_token":"RT1"}`)

	ciphertext, err := enc.Encrypt(plaintext, nil)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := enc.Decrypt(ciphertext, nil)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestAESGCMEncryptor_RoundTripWithEntropy(t *testing.T) {
	enc, err := krypto.NewAESGCMEncryptor([]byte("base-secret"))
	require.NoError(t, err)

	entropy := []byte("per-install-entropy")
	plaintext := []byte("sensitive")

	ciphertext, err := enc.Encrypt(plaintext, entropy)
	require.NoError(t, err)

	decrypted, err := enc.Decrypt(ciphertext, entropy)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestAESGCMEncryptor_WrongEntropyFails(t *testing.T) {
	enc, err := krypto.NewAESGCMEncryptor([]byte("base-secret"))
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt([]byte("sensitive"), []byte("entropy-a"))
	require.NoError(t, err)

	_, err = enc.Decrypt(ciphertext, []byte("entropy-b"))
	assert.Error(t, err, "decryption with different entropy must fail authentication")
}

func TestAESGCMEncryptor_TamperedCiphertextFails(t *testing.T) {
	enc, err := krypto.NewAESGCMEncryptor([]byte("base-secret"))
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt([]byte("sensitive"), nil)
	require.NoError(t, err)

	ciphertext[len(ciphertext)-1] ^= 0xff
	_, err = enc.Decrypt(ciphertext, nil)
	assert.Error(t, err)
}

func TestAESGCMEncryptor_ShortCiphertext(t *testing.T) {
	enc, err := krypto.NewAESGCMEncryptor([]byte("base-secret"))
	require.NoError(t, err)

	_, err = enc.Decrypt([]byte("short"), nil)
	assert.Error(t, err)
}

func TestNewAESGCMEncryptor_EmptySecret(t *testing.T) {
	_, err := krypto.NewAESGCMEncryptor(nil)
	assert.Error(t, err)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	a := krypto.DeriveKey([]byte("secret"), []byte("entropy"))
	b := krypto.DeriveKey([]byte("secret"), []byte("entropy"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	c := krypto.DeriveKey([]byte("secret"), []byte("other"))
	assert.NotEqual(t, a, c)
}

func TestGenerateSecureToken(t *testing.T) {
	a, err := krypto.GenerateSecureToken(32)
	require.NoError(t, err)
	assert.Len(t, a, 64) // hex doubles the byte count

	b, err := krypto.GenerateSecureToken(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
