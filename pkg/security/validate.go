// Package security implements the file validator/cryptor (spec §4.2,
// C2): filename/extension/MIME validation, checksumming, AES-256-GCM
// encryption, secure deletion and quarantine handling.
package security

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/onlitec/remotebroker/internal/brokererr"
	"github.com/onlitec/remotebroker/pkg/audit"
)

// forbiddenFilenameChars matches spec §4.2's disallowed character set.
const forbiddenFilenameChars = "<>:\"|?*\x00"

var windowsReservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// Scanner is the pluggable malware scanner consulted by ValidateFile
// when ScanForMalware is enabled. A nil Scanner in Validator disables
// scanning regardless of the config flag.
type Scanner interface {
	// Scan reports whether path is clean. details is an optional
	// human-readable summary carried into the audit event and response.
	Scan(path string) (clean bool, details string, err error)
}

// Config mirrors the relevant fields of pkg/config.SecurityConfig; kept
// separate so this package doesn't import pkg/config.
type Config struct {
	MaxFilenameLength int
	BlockedExtensions []string
	AllowedMimeTypes  []string
	RequireChecksum   bool
	ScanForMalware    bool
	QuarantineDir     string
	EncryptionKey     []byte
}

// Validator implements ValidateFile/Checksum/Encrypt.../SecureDelete.
type Validator struct {
	cfg     Config
	scanner Scanner
	auditor *audit.Log // optional; nil disables audit emission
}

// NewValidator builds a Validator. scanner may be nil (scanning
// disabled regardless of cfg.ScanForMalware); auditor may be nil.
func NewValidator(cfg Config, scanner Scanner, auditor *audit.Log) (*Validator, error) {
	if len(cfg.EncryptionKey) != 0 && len(cfg.EncryptionKey) != 32 {
		return nil, fmt.Errorf("security: encryption key must be exactly 32 bytes, got %d", len(cfg.EncryptionKey))
	}
	if cfg.MaxFilenameLength <= 0 {
		cfg.MaxFilenameLength = 255
	}
	return &Validator{cfg: cfg, scanner: scanner, auditor: auditor}, nil
}

// ValidationResult is the response shape of ValidateFile (spec §4.2).
type ValidationResult struct {
	Valid       bool
	Errors      []string
	Warnings    []string
	Mime        string
	Size        int64
	Checksum    string
	Quarantined bool
	ScanDetails string
}

// ValidateFile runs the full filename/extension/MIME/size/scan pipeline
// against the file at path, whose original (client-supplied) name is
// originalName.
func (v *Validator) ValidateFile(path, originalName string) (ValidationResult, error) {
	var result ValidationResult

	if errs := validateFilename(originalName, v.cfg.MaxFilenameLength); len(errs) > 0 {
		result.Errors = errs
		v.emitViolation(originalName, strings.Join(errs, "; "))
		return result, nil
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	for _, blocked := range v.cfg.BlockedExtensions {
		if strings.ToLower(blocked) == ext {
			result.Errors = []string{fmt.Sprintf("extension %q is blocked", ext)}
			v.emitViolation(originalName, fmt.Sprintf("blocked extension %s", ext))
			return result, nil
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return result, brokererr.Wrap(brokererr.IOFailure, "ValidateFile", err, "stat %s", path)
	}
	result.Size = info.Size()

	mime, err := detectMIME(path, ext)
	if err != nil {
		return result, brokererr.Wrap(brokererr.IOFailure, "ValidateFile", err, "sniff mime for %s", path)
	}
	result.Mime = mime
	if len(v.cfg.AllowedMimeTypes) > 0 && !contains(v.cfg.AllowedMimeTypes, mime) {
		result.Errors = []string{fmt.Sprintf("mime type %q is not allowed", mime)}
		v.emitViolation(originalName, fmt.Sprintf("disallowed mime %s", mime))
		return result, nil
	}

	if v.cfg.RequireChecksum {
		sum, err := Checksum(path)
		if err != nil {
			return result, brokererr.Wrap(brokererr.IOFailure, "ValidateFile", err, "checksum %s", path)
		}
		result.Checksum = sum
	}

	if v.cfg.ScanForMalware && v.scanner != nil {
		clean, details, err := v.scanner.Scan(path)
		if err != nil {
			return result, brokererr.Wrap(brokererr.IOFailure, "ValidateFile", err, "scan %s", path)
		}
		result.ScanDetails = details
		if !clean {
			quarantinePath, err := v.quarantine(path, originalName)
			if err != nil {
				return result, err
			}
			result.Quarantined = true
			result.Errors = []string{"file failed malware scan"}
			v.emit(audit.Event{
				Type:     audit.EventSecurityViolation,
				Filename: originalName,
				Message:  fmt.Sprintf("quarantined: %s (%s)", quarantinePath, details),
			})
			return result, nil
		}
	}

	result.Valid = true
	v.emit(audit.Event{Type: "file_validated", Filename: originalName, FileSize: result.Size})
	return result, nil
}

func (v *Validator) quarantine(path, originalName string) (string, error) {
	if err := os.MkdirAll(v.cfg.QuarantineDir, 0o750); err != nil {
		return "", brokererr.Wrap(brokererr.IOFailure, "quarantine", err, "create quarantine dir")
	}
	name := fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102_150405"), filepath.Base(originalName))
	dest := filepath.Join(v.cfg.QuarantineDir, name)
	if err := os.Rename(path, dest); err != nil {
		return "", brokererr.Wrap(brokererr.IOFailure, "quarantine", err, "move %s to %s", path, dest)
	}
	return dest, nil
}

func (v *Validator) emitViolation(filename, reason string) {
	v.emit(audit.Event{Type: audit.EventSecurityViolation, Filename: filename, Message: reason})
}

func (v *Validator) emit(e audit.Event) {
	if v.auditor != nil {
		v.auditor.Log(e)
	}
}

func validateFilename(name string, maxLen int) []string {
	var errs []string
	if name == "" {
		errs = append(errs, "filename must not be empty")
		return errs
	}
	if len(name) > maxLen {
		errs = append(errs, fmt.Sprintf("filename exceeds maximum length of %d", maxLen))
	}
	if strings.ContainsAny(name, forbiddenFilenameChars) {
		errs = append(errs, "filename contains forbidden characters")
	}

	base := strings.ToUpper(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))
	if windowsReservedNames[base] {
		errs = append(errs, fmt.Sprintf("filename %q is a reserved name", base))
	}
	return errs
}

var extMimeTable = map[string]string{
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".txt":  "text/plain",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".log":  "text/plain",
}

var magicNumbers = []struct {
	prefix []byte
	mime   string
}{
	{[]byte("%PDF"), "application/pdf"},
	{[]byte("PK\x03\x04"), "application/zip"},
	{[]byte{0xFF, 0xD8, 0xFF}, "image/jpeg"},
	{[]byte{0x89, 'P', 'N', 'G'}, "image/png"},
}

// detectMIME looks up the extension table first, then sniffs the first
// 512 bytes for known magic numbers, falling back to
// http.DetectContentType and finally application/octet-stream.
func detectMIME(path, ext string) (string, error) {
	if mime, ok := extMimeTable[ext]; ok {
		return mime, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return "", err
	}
	buf = buf[:n]

	for _, magic := range magicNumbers {
		if bytes.HasPrefix(buf, magic.prefix) {
			return magic.mime, nil
		}
	}

	if sniffed := http.DetectContentType(buf); sniffed != "application/octet-stream" {
		return sniffed, nil
	}
	return "application/octet-stream", nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Checksum returns the hex-encoded SHA-256 digest of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return ChecksumReader(f)
}

// ChecksumReader returns the hex-encoded SHA-256 digest of everything
// read from r, for callers that already hold an open reader (e.g. a
// storage.Backend object) rather than a filesystem path.
func ChecksumReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum reports whether the file at path's SHA-256 matches
// expected (case-insensitive hex comparison).
func VerifyChecksum(path, expected string) (bool, error) {
	actual, err := Checksum(path)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(actual, expected), nil
}
