package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func writeKeyFile(t *testing.T, dir string) string {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	path := filepath.Join(dir, "key.bin")
	if err := os.WriteFile(path, key, 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	return path
}

func TestLoad_DefaultsAppliedWhenNoFile(t *testing.T) {
	tmpDir := t.TempDir()
	os.Setenv("BROKER_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(make([]byte, 32)))
	defer os.Unsetenv("BROKER_ENCRYPTION_KEY")

	cfg, err := Load(filepath.Join(tmpDir, "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transfer.ChunkSize != 64*1024 {
		t.Errorf("expected default chunk_size 65536, got %d", cfg.Transfer.ChunkSize)
	}
	if cfg.Transfer.MaxConcurrent != 5 {
		t.Errorf("expected default max_concurrent 5, got %d", cfg.Transfer.MaxConcurrent)
	}
	if cfg.Security.ChecksumAlgorithm != "SHA256" {
		t.Errorf("expected default checksum algorithm SHA256, got %q", cfg.Security.ChecksumAlgorithm)
	}
}

func TestLoad_EncryptionKeyFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	keyPath := writeKeyFile(t, tmpDir)

	configPath := filepath.Join(tmpDir, "config.yaml")
	content := "security:\n  encryption_key_file: \"" + filepath.ToSlash(keyPath) + "\"\n  quarantine_dir: \"" + filepath.ToSlash(tmpDir) + "\"\ntransfer:\n  temp_dir: \"" + filepath.ToSlash(tmpDir) + "\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Security.EncryptionKey) != 32 {
		t.Fatalf("expected 32-byte key, got %d bytes", len(cfg.Security.EncryptionKey))
	}
}

func TestLoad_MissingEncryptionKeyFails(t *testing.T) {
	tmpDir := t.TempDir()
	os.Unsetenv("BROKER_ENCRYPTION_KEY")

	_, err := Load(filepath.Join(tmpDir, "missing.yaml"))
	if err == nil {
		t.Fatal("expected Load to fail without any encryption key source")
	}
}

func TestValidate_RejectsShortKey(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Transfer.TempDir = "/tmp"
	cfg.Security.QuarantineDir = "/tmp"
	cfg.Security.EncryptionKey = []byte("too-short")

	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for short encryption key")
	}
}

func TestTransferSnapshot_UpdateRejectsInvalid(t *testing.T) {
	snap := NewTransferSnapshot(TransferConfig{MaxFileSize: 100, MaxConcurrent: 1, ChunkSize: 1024})

	err := snap.Update(TransferConfig{MaxFileSize: 0, MaxConcurrent: 1, ChunkSize: 1024})
	if err == nil {
		t.Fatal("expected Update to reject zero MaxFileSize")
	}

	original := snap.Load()
	if original.MaxFileSize != 100 {
		t.Fatalf("failed update must not mutate the published snapshot, got MaxFileSize=%d", original.MaxFileSize)
	}
}

func TestTransferSnapshot_UpdateSwapsAtomically(t *testing.T) {
	snap := NewTransferSnapshot(TransferConfig{MaxFileSize: 100, MaxConcurrent: 1, ChunkSize: 1024})

	captured := snap.Load()
	if err := snap.Update(TransferConfig{MaxFileSize: 200, MaxConcurrent: 2, ChunkSize: 2048}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if captured.MaxFileSize != 100 {
		t.Fatal("a previously captured snapshot must not observe the later update")
	}
	if snap.Load().MaxFileSize != 200 {
		t.Fatal("Load after Update must observe the new value")
	}
}
