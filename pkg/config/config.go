// Package config loads, validates and atomically republishes the
// broker's configuration (spec §6).
//
// Precedence, highest to lowest: CLI flags, environment variables
// (BROKER_*), the config file (YAML or JSON), then built-in defaults.
// Loading never auto-generates secrets: the encryption key is sourced
// from a file path or an environment variable and the process refuses
// to start if it is missing or the wrong length (see DESIGN.md, Open
// Question 2).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the broker's static configuration (spec §6). Dynamic
// per-transfer policy changes are applied through UpdateTransfer, which
// republishes a new *TransferConfig snapshot rather than mutating this
// struct in place.
type Config struct {
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Transfer     TransferConfig     `mapstructure:"transfer" yaml:"transfer"`
	Security     SecurityConfig     `mapstructure:"security" yaml:"security"`
	RemoteAccess RemoteAccessConfig `mapstructure:"remote_access" yaml:"remote_access"`
	Metrics      MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry" yaml:"telemetry"`
	Audit        AuditConfig        `mapstructure:"audit" yaml:"audit"`
	Storage      StorageConfig      `mapstructure:"storage" yaml:"storage"`
}

// LoggingConfig controls log output (grounded on the teacher's own
// LoggingConfig shape).
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig configures the connection-accepting front (spec §6).
type ServerConfig struct {
	Port           int           `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	Host           string        `mapstructure:"host" yaml:"host"`
	TLSEnabled     bool          `mapstructure:"tls_enabled" yaml:"tls_enabled"`
	CertFile       string        `mapstructure:"cert_file" yaml:"cert_file" validate:"required_if=TLSEnabled true"`
	KeyFile        string        `mapstructure:"key_file" yaml:"key_file" validate:"required_if=TLSEnabled true"`
	CORSOrigins    []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	MaxConnections int           `mapstructure:"max_connections" yaml:"max_connections" validate:"min=1"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// TransferConfig is the dynamically swappable transfer policy (spec §6,
// §9 "Dynamic config updates"). In-flight transfers keep whatever
// *TransferConfig they captured at approval time; they never observe a
// later swap mid-flight.
type TransferConfig struct {
	MaxFileSize      int64         `mapstructure:"max_file_size" yaml:"max_file_size" validate:"gt=0"`
	AllowedTypes     []string      `mapstructure:"allowed_types" yaml:"allowed_types"`
	TempDir          string        `mapstructure:"temp_dir" yaml:"temp_dir" validate:"required"`
	MaxConcurrent    int           `mapstructure:"max_concurrent" yaml:"max_concurrent" validate:"gt=0"`
	TransferTimeout  time.Duration `mapstructure:"transfer_timeout" yaml:"transfer_timeout"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
	RequireApproval  bool          `mapstructure:"require_approval" yaml:"require_approval"`
	AuditLog         bool          `mapstructure:"audit_log" yaml:"audit_log"`
	EncryptFiles     bool          `mapstructure:"encrypt_files" yaml:"encrypt_files"`
	ChunkSize        int           `mapstructure:"chunk_size" yaml:"chunk_size" validate:"gt=0"`
	RetryAttempts    int           `mapstructure:"retry_attempts" yaml:"retry_attempts" validate:"gte=0"`
}

// SecurityConfig drives the file validator/cryptor (spec §6). The
// encryption key is never unmarshaled from the config file body; it is
// populated separately by LoadEncryptionKey and kept out of
// SaveConfig's YAML output (see the `yaml:"-"` tag below).
type SecurityConfig struct {
	EncryptionKey       []byte   `mapstructure:"-" yaml:"-"`
	EncryptionKeyFile   string   `mapstructure:"encryption_key_file" yaml:"encryption_key_file"`
	AllowedMimeTypes    []string `mapstructure:"allowed_mime_types" yaml:"allowed_mime_types"`
	BlockedExtensions   []string `mapstructure:"blocked_extensions" yaml:"blocked_extensions"`
	MaxFilenameLength   int      `mapstructure:"max_filename_length" yaml:"max_filename_length" validate:"gt=0"`
	ScanForMalware      bool     `mapstructure:"scan_for_malware" yaml:"scan_for_malware"`
	QuarantineDir       string   `mapstructure:"quarantine_dir" yaml:"quarantine_dir" validate:"required"`
	RequireChecksum     bool     `mapstructure:"require_checksum" yaml:"require_checksum"`
	ChecksumAlgorithm   string   `mapstructure:"checksum_algorithm" yaml:"checksum_algorithm" validate:"oneof=SHA256"`
}

// PrivilegeEscalationConfig governs bounded privilege grants (spec §4.4).
type PrivilegeEscalationConfig struct {
	Enabled                bool          `mapstructure:"enabled" yaml:"enabled"`
	RequireApproval        bool          `mapstructure:"require_approval" yaml:"require_approval"`
	MaxPrivilegeDuration   time.Duration `mapstructure:"max_privilege_duration" yaml:"max_privilege_duration"`
	DefaultPrivilegeDur    time.Duration `mapstructure:"default_privilege_duration" yaml:"default_privilege_duration"`
	MinJustificationLength int           `mapstructure:"min_justification_length" yaml:"min_justification_length" validate:"gte=0"`
	AllowedPrivileges      []string      `mapstructure:"allowed_privileges" yaml:"allowed_privileges"`
	RequireJustification   bool          `mapstructure:"require_justification" yaml:"require_justification"`
}

// RemoteAccessConfig governs the session manager (spec §6).
type RemoteAccessConfig struct {
	MaxConcurrentSessions  int                       `mapstructure:"max_concurrent_sessions" yaml:"max_concurrent_sessions" validate:"gt=0"`
	SessionTimeout         time.Duration             `mapstructure:"session_timeout" yaml:"session_timeout"`
	IdleTimeout            time.Duration             `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	WebsocketReadTimeout   time.Duration             `mapstructure:"websocket_read_timeout" yaml:"websocket_read_timeout"`
	WebsocketWriteTimeout  time.Duration             `mapstructure:"websocket_write_timeout" yaml:"websocket_write_timeout"`
	PrivilegeEscalation    PrivilegeEscalationConfig `mapstructure:"privilege_escalation" yaml:"privilege_escalation"`
	AuditEnabled           bool                      `mapstructure:"audit_enabled" yaml:"audit_enabled"`
	AuditLogDir            string                    `mapstructure:"audit_log_dir" yaml:"audit_log_dir"`
	AuditRetentionDays     int                       `mapstructure:"audit_retention_days" yaml:"audit_retention_days" validate:"gte=0"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// TelemetryConfig controls OpenTelemetry tracing and Pyroscope
// profiling, both opt-in.
type TelemetryConfig struct {
	Enabled    bool             `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string           `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool             `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64          `mapstructure:"sample_rate" yaml:"sample_rate" validate:"omitempty,gte=0,lte=1"`
	Profiling  ProfilingConfig  `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls continuous profiling via Pyroscope.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// AuditConfig configures the best-effort SQL mirror of the audit log
// (pkg/audit/sqlstore). Leaving DSN empty disables the mirror; the
// append-only file log always runs regardless.
type AuditConfig struct {
	SQLMirrorEnabled bool   `mapstructure:"sql_mirror_enabled" yaml:"sql_mirror_enabled"`
	Driver           string `mapstructure:"driver" yaml:"driver" validate:"omitempty,oneof=postgres sqlite"`
	DSN              string `mapstructure:"dsn" yaml:"dsn"`
	// RotateSize is the append-only log file size, in bytes, that
	// triggers rotation to a fresh file (spec §4.1 default: 100 MiB).
	RotateSize int64 `mapstructure:"rotate_size" yaml:"rotate_size" validate:"gt=0"`
}

// StorageConfig selects the backend for temp/quarantine file storage.
type StorageConfig struct {
	Backend string       `mapstructure:"backend" yaml:"backend" validate:"oneof=local s3"`
	S3      S3Config     `mapstructure:"s3" yaml:"s3"`
}

// S3Config configures the S3-backed storage.Backend implementation.
type S3Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket" validate:"required_if=Backend s3"`
	Region string `mapstructure:"region" yaml:"region"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// Load reads configuration from file, environment and defaults, applies
// ApplyDefaults for unset fields, loads the encryption key out-of-band
// and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := GetDefaultConfig()
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	ApplyDefaults(cfg)

	key, err := LoadEncryptionKey(cfg.Security.EncryptionKeyFile)
	if err != nil {
		return nil, fmt.Errorf("load encryption key: %w", err)
	}
	cfg.Security.EncryptionKey = key

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML. The encryption key is never
// included (its field carries yaml:"-").
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("BROKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read config file: %w", err)
	}
	return true, nil
}

func getConfigDir() string {
	if dir := os.Getenv("BROKER_CONFIG_DIR"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "remotebroker")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "remotebroker")
}

// GetDefaultConfigPath returns the default config file location.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

var validate = validator.New()

// Validate runs struct tag validation plus the cross-field rules that
// validator tags cannot express (the encryption key length check).
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	if len(cfg.Security.EncryptionKey) != 32 {
		return fmt.Errorf("security.encryption_key must be exactly 32 bytes, got %d", len(cfg.Security.EncryptionKey))
	}
	if cfg.RemoteAccess.PrivilegeEscalation.Enabled {
		d := cfg.RemoteAccess.PrivilegeEscalation.DefaultPrivilegeDur
		m := cfg.RemoteAccess.PrivilegeEscalation.MaxPrivilegeDuration
		if d > m {
			return fmt.Errorf("remote_access.privilege_escalation.default_privilege_duration (%s) exceeds max_privilege_duration (%s)", d, m)
		}
	}
	return nil
}
