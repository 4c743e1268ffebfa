package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestValidateFile_RejectsBlockedExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "payload.exe", []byte("MZ"))

	v, err := NewValidator(Config{
		QuarantineDir:     filepath.Join(dir, "quarantine"),
		BlockedExtensions: []string{".exe"},
	}, nil, nil)
	require.NoError(t, err)

	result, err := v.ValidateFile(path, "payload.exe")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], ".exe")
}

func TestValidateFile_RejectsForbiddenCharacters(t *testing.T) {
	v, err := NewValidator(Config{QuarantineDir: t.TempDir()}, nil, nil)
	require.NoError(t, err)

	result, err := v.ValidateFile("/dev/null", "bad<name>.txt")
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestValidateFile_AcceptsPlainText(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "notes.txt", []byte("hello world"))

	v, err := NewValidator(Config{
		QuarantineDir:    filepath.Join(dir, "quarantine"),
		RequireChecksum:  true,
		AllowedMimeTypes: []string{"text/plain"},
	}, nil, nil)
	require.NoError(t, err)

	result, err := v.ValidateFile(path, "notes.txt")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, "text/plain", result.Mime)
	assert.NotEmpty(t, result.Checksum)
}

type fakeScanner struct {
	clean bool
}

func (f fakeScanner) Scan(path string) (bool, string, error) {
	return f.clean, "fake scan", nil
}

func TestValidateFile_QuarantinesOnDirtyScan(t *testing.T) {
	dir := t.TempDir()
	quarantineDir := filepath.Join(dir, "quarantine")
	path := writeTempFile(t, dir, "infected.txt", []byte("eicar"))

	v, err := NewValidator(Config{
		QuarantineDir:  quarantineDir,
		ScanForMalware: true,
	}, fakeScanner{clean: false}, nil)
	require.NoError(t, err)

	result, err := v.ValidateFile(path, "infected.txt")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.True(t, result.Quarantined)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "original file must be moved out of place")

	entries, err := os.ReadDir(quarantineDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "infected.txt")
}

func TestChecksumAndVerify(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "data.bin", []byte("the quick brown fox"))

	sum, err := Checksum(path)
	require.NoError(t, err)
	require.NotEmpty(t, sum)

	ok, err := VerifyChecksum(path, sum)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyChecksum(path, "0000")
	require.NoError(t, err)
	assert.False(t, ok)
}
