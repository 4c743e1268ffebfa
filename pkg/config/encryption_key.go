package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// EncryptionKeyEnvVar is checked when no key file path is configured,
// or as a fallback when the configured file cannot be read.
const EncryptionKeyEnvVar = "BROKER_ENCRYPTION_KEY"

// LoadEncryptionKey resolves the AES-256-GCM key from a file (raw 32
// bytes) or from BROKER_ENCRYPTION_KEY (base64-encoded), per
// DESIGN.md's resolution of spec §9 Open Question 2. It never
// generates a key: an empty result here is a hard startup failure, not
// an invitation to invent one, because an autogenerated key silently
// invalidates any at-rest ciphertext across restarts.
func LoadEncryptionKey(keyFilePath string) ([]byte, error) {
	if keyFilePath != "" {
		data, err := os.ReadFile(keyFilePath)
		if err != nil {
			return nil, fmt.Errorf("read encryption key file %q: %w", keyFilePath, err)
		}
		key := []byte(strings.TrimSpace(string(data)))
		if len(key) == 32 {
			return key, nil
		}
		// Fall through to treat the file content as base64, matching the
		// env var convention, before giving up.
		if decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data))); err == nil && len(decoded) == 32 {
			return decoded, nil
		}
		return nil, fmt.Errorf("encryption key file %q must contain exactly 32 raw bytes or their base64 encoding, got %d raw bytes", keyFilePath, len(key))
	}

	if encoded := os.Getenv(EncryptionKeyEnvVar); encoded != "" {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%s is not valid base64: %w", EncryptionKeyEnvVar, err)
		}
		if len(decoded) != 32 {
			return nil, fmt.Errorf("%s must decode to exactly 32 bytes, got %d", EncryptionKeyEnvVar, len(decoded))
		}
		return decoded, nil
	}

	return nil, fmt.Errorf("no encryption key source configured: set security.encryption_key_file or %s", EncryptionKeyEnvVar)
}
