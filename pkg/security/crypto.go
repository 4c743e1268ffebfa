package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"os"

	"github.com/onlitec/remotebroker/internal/brokererr"
)

const (
	nonceSize       = 12
	secureWipePasses = 3
)

// Cryptor implements AES-256-GCM encryption/decryption over whole
// files and individual chunks (spec §4.2). Ciphertext layout is
// nonce(12) || gcm_ciphertext || tag(16).
type Cryptor struct {
	gcm cipher.AEAD
}

// NewCryptor constructs a Cryptor from a 32-byte key. Any other length
// is a construction-time error, per spec §4.2.
func NewCryptor(key []byte) (*Cryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("security: AES-256-GCM key must be exactly 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.Encryption, "NewCryptor", err, "create AES cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.Encryption, "NewCryptor", err, "create GCM mode")
	}
	return &Cryptor{gcm: gcm}, nil
}

// EncryptChunk returns nonce||ciphertext||tag for plaintext.
func (c *Cryptor) EncryptChunk(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, brokererr.Wrap(brokererr.Encryption, "EncryptChunk", err, "generate nonce")
	}
	return c.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptChunk reverses EncryptChunk.
func (c *Cryptor) DecryptChunk(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, brokererr.New(brokererr.Encryption, "DecryptChunk", "ciphertext shorter than nonce")
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := c.gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.Encryption, "DecryptChunk", err, "authenticate/decrypt")
	}
	return plaintext, nil
}

// EncryptFile encrypts the entire file at srcPath into dstPath as a
// single sealed unit. For large files prefer chunk-wise encryption via
// EncryptChunk so the file never needs to be held in memory whole; this
// whole-file form exists for small artifacts (e.g. quarantine metadata).
func (c *Cryptor) EncryptFile(srcPath, dstPath string) error {
	plaintext, err := os.ReadFile(srcPath)
	if err != nil {
		return brokererr.Wrap(brokererr.IOFailure, "EncryptFile", err, "read %s", srcPath)
	}
	ciphertext, err := c.EncryptChunk(plaintext)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dstPath, ciphertext, 0o600); err != nil {
		return brokererr.Wrap(brokererr.IOFailure, "EncryptFile", err, "write %s", dstPath)
	}
	return nil
}

// DecryptFile reverses EncryptFile.
func (c *Cryptor) DecryptFile(srcPath, dstPath string) error {
	ciphertext, err := os.ReadFile(srcPath)
	if err != nil {
		return brokererr.Wrap(brokererr.IOFailure, "DecryptFile", err, "read %s", srcPath)
	}
	plaintext, err := c.DecryptChunk(ciphertext)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dstPath, plaintext, 0o600); err != nil {
		return brokererr.Wrap(brokererr.IOFailure, "DecryptFile", err, "write %s", dstPath)
	}
	return nil
}

// SecureDelete overwrites path with cryptographic randomness three
// times, fsyncing after each pass, then unlinks it (spec §4.2). Used
// for cancelled/failed downloads and expired quarantine entries.
func SecureDelete(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return brokererr.Wrap(brokererr.IOFailure, "SecureDelete", err, "open %s", path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return brokererr.Wrap(brokererr.IOFailure, "SecureDelete", err, "stat %s", path)
	}
	size := info.Size()

	buf := make([]byte, 32*1024)
	for pass := 0; pass < secureWipePasses; pass++ {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return brokererr.Wrap(brokererr.IOFailure, "SecureDelete", err, "seek %s", path)
		}
		var written int64
		for written < size {
			n := int64(len(buf))
			if remaining := size - written; remaining < n {
				n = remaining
			}
			if _, err := rand.Read(buf[:n]); err != nil {
				f.Close()
				return brokererr.Wrap(brokererr.IOFailure, "SecureDelete", err, "generate randomness")
			}
			if _, err := f.Write(buf[:n]); err != nil {
				f.Close()
				return brokererr.Wrap(brokererr.IOFailure, "SecureDelete", err, "overwrite pass %d", pass)
			}
			written += n
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return brokererr.Wrap(brokererr.IOFailure, "SecureDelete", err, "fsync pass %d", pass)
		}
	}
	f.Close()

	if err := os.Remove(path); err != nil {
		return brokererr.Wrap(brokererr.IOFailure, "SecureDelete", err, "unlink %s", path)
	}
	return nil
}
