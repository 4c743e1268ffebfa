package security

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestNewCryptor_RejectsWrongKeyLength(t *testing.T) {
	_, err := NewCryptor([]byte("too-short"))
	require.Error(t, err)
}

func TestCryptor_ChunkRoundTrip(t *testing.T) {
	c, err := NewCryptor(testKey(t))
	require.NoError(t, err)

	plaintext := []byte("some chunk payload bytes")
	ciphertext, err := c.EncryptChunk(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := c.DecryptChunk(ciphertext)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plaintext, decrypted))
}

func TestCryptor_DecryptChunk_RejectsTamperedCiphertext(t *testing.T) {
	c, err := NewCryptor(testKey(t))
	require.NoError(t, err)

	ciphertext, err := c.EncryptChunk([]byte("payload"))
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err = c.DecryptChunk(ciphertext)
	assert.Error(t, err)
}

func TestCryptor_FileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "plain.txt")
	enc := filepath.Join(dir, "plain.enc")
	dec := filepath.Join(dir, "plain.dec")

	require.NoError(t, os.WriteFile(src, []byte("file contents"), 0o644))

	c, err := NewCryptor(testKey(t))
	require.NoError(t, err)
	require.NoError(t, c.EncryptFile(src, enc))
	require.NoError(t, c.DecryptFile(enc, dec))

	original, _ := os.ReadFile(src)
	roundtripped, _ := os.ReadFile(dec)
	assert.Equal(t, original, roundtripped)
}

func TestSecureDelete_RemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.bin")
	require.NoError(t, os.WriteFile(path, []byte("sensitive"), 0o600))

	require.NoError(t, SecureDelete(path))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSecureDelete_MissingFileIsNotAnError(t *testing.T) {
	err := SecureDelete(filepath.Join(t.TempDir(), "never-existed.bin"))
	assert.NoError(t, err)
}
