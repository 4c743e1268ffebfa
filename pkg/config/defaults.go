package config

import "time"

// GetDefaultConfig returns a Config populated entirely with defaults
// (used when no config file is present, and as the base Load unmarshals
// onto).
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in zero-valued fields. Values explicitly set by
// the config file or environment are left untouched: every default
// check below is a zero-value check, never an overwrite.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyTransferDefaults(&cfg.Transfer)
	applySecurityDefaults(&cfg.Security)
	applyRemoteAccessDefaults(&cfg.RemoteAccess)
	applyMetricsDefaults(&cfg.Metrics)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyAuditDefaults(&cfg.Audit)
	applyStorageDefaults(&cfg.Storage)
}

func applyLoggingDefaults(c *LoggingConfig) {
	if c.Level == "" {
		c.Level = "INFO"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stdout"
	}
}

func applyServerDefaults(c *ServerConfig) {
	if c.Port == 0 {
		c.Port = 8443
	}
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 256
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Minute
	}
}

func applyTransferDefaults(c *TransferConfig) {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 100 * 1024 * 1024
	}
	if len(c.AllowedTypes) == 0 {
		c.AllowedTypes = []string{".txt", ".pdf", ".doc", ".docx", ".xls", ".xlsx", ".png", ".jpg", ".jpeg", ".zip", ".log"}
	}
	if c.TempDir == "" {
		c.TempDir = "/var/lib/remotebroker/tmp"
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 5
	}
	if c.TransferTimeout == 0 {
		c.TransferTimeout = 30 * time.Minute
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 64 * 1024
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
}

func applySecurityDefaults(c *SecurityConfig) {
	if len(c.AllowedMimeTypes) == 0 {
		c.AllowedMimeTypes = []string{
			"text/plain", "application/pdf", "application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"image/png", "image/jpeg", "application/zip",
		}
	}
	if len(c.BlockedExtensions) == 0 {
		c.BlockedExtensions = []string{".exe", ".bat", ".cmd", ".sh", ".ps1", ".dll", ".scr", ".vbs", ".msi"}
	}
	if c.MaxFilenameLength == 0 {
		c.MaxFilenameLength = 255
	}
	if c.QuarantineDir == "" {
		c.QuarantineDir = "/var/lib/remotebroker/quarantine"
	}
	if c.ChecksumAlgorithm == "" {
		c.ChecksumAlgorithm = "SHA256"
	}
}

func applyRemoteAccessDefaults(c *RemoteAccessConfig) {
	if c.MaxConcurrentSessions == 0 {
		c.MaxConcurrentSessions = 10
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = 4 * time.Hour
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.WebsocketReadTimeout == 0 {
		c.WebsocketReadTimeout = 60 * time.Second
	}
	if c.WebsocketWriteTimeout == 0 {
		c.WebsocketWriteTimeout = 10 * time.Second
	}
	applyPrivilegeEscalationDefaults(&c.PrivilegeEscalation)
	if c.AuditLogDir == "" {
		c.AuditLogDir = "/var/log/remotebroker/audit"
	}
	if c.AuditRetentionDays == 0 {
		c.AuditRetentionDays = 90
	}
}

func applyPrivilegeEscalationDefaults(c *PrivilegeEscalationConfig) {
	if c.MaxPrivilegeDuration == 0 {
		c.MaxPrivilegeDuration = 2 * time.Hour
	}
	if c.DefaultPrivilegeDur == 0 {
		c.DefaultPrivilegeDur = 30 * time.Minute
	}
	if c.MinJustificationLength == 0 {
		c.MinJustificationLength = 10
	}
	if len(c.AllowedPrivileges) == 0 {
		c.AllowedPrivileges = []string{"elevated", "admin", "file_system"}
	}
}

func applyMetricsDefaults(c *MetricsConfig) {
	if c.Port == 0 {
		c.Port = 9090
	}
}

func applyTelemetryDefaults(c *TelemetryConfig) {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	applyProfilingDefaults(&c.Profiling)
}

func applyProfilingDefaults(c *ProfilingConfig) {
	if c.Endpoint == "" {
		c.Endpoint = "http://localhost:4040"
	}
	if len(c.ProfileTypes) == 0 {
		c.ProfileTypes = []string{"cpu", "alloc_objects", "inuse_objects", "goroutines"}
	}
}

func applyAuditDefaults(c *AuditConfig) {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.RotateSize == 0 {
		c.RotateSize = 100 * 1024 * 1024
	}
}

func applyStorageDefaults(c *StorageConfig) {
	if c.Backend == "" {
		c.Backend = "local"
	}
}
