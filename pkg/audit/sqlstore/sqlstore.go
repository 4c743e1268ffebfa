// Package sqlstore mirrors medium- and high-severity audit events into
// a relational table so they can be queried by session, transfer,
// technician or time range without scanning the JSON-lines log files.
// It is a mirror, not the source of truth: the append-only file log
// (pkg/audit) keeps running even if the database is unreachable.
package sqlstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/onlitec/remotebroker/pkg/audit"
)

// Driver selects the backing database.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Config configures the mirror's database connection.
type Config struct {
	Driver Driver
	DSN    string // sqlite file path, or a postgres DSN
}

// EventRecord is the GORM model backing the mirrored table.
type EventRecord struct {
	ID         uint      `gorm:"primaryKey"`
	Timestamp  time.Time `gorm:"index"`
	Type       string    `gorm:"index"`
	Severity   string    `gorm:"index"`
	SessionID  string    `gorm:"index"`
	TransferID string    `gorm:"index"`
	Technician string    `gorm:"index"`
	ClientID   string
	Filename   string
	FileSize   int64
	Status     string
	Message    string
	PeerAddr   string
}

func (EventRecord) TableName() string { return "audit_events" }

// Store is a gorm-backed Mirror (see pkg/audit.Mirror).
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and auto-migrates the
// mirror table.
func Open(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite, "":
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		dialector = sqlite.Open(cfg.DSN + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	default:
		return nil, fmt.Errorf("unsupported audit mirror driver: %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open audit mirror database: %w", err)
	}

	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("migrate audit mirror schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Insert satisfies pkg/audit.Mirror.
func (s *Store) Insert(ctx context.Context, e audit.Event) error {
	record := EventRecord{
		Timestamp:  e.Timestamp,
		Type:       string(e.Type),
		Severity:   string(e.Severity),
		SessionID:  e.SessionID,
		TransferID: e.TransferID,
		Technician: e.Technician,
		ClientID:   e.ClientID,
		Filename:   e.Filename,
		FileSize:   e.FileSize,
		Status:     e.Status,
		Message:    e.Message,
		PeerAddr:   e.PeerAddr,
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

// Query parameters for listing mirrored events, all optional.
type Query struct {
	SessionID  string
	TransferID string
	Technician string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// List returns mirrored events matching q, most recent first.
func (s *Store) List(ctx context.Context, q Query) ([]EventRecord, error) {
	tx := s.db.WithContext(ctx).Model(&EventRecord{})
	if q.SessionID != "" {
		tx = tx.Where("session_id = ?", q.SessionID)
	}
	if q.TransferID != "" {
		tx = tx.Where("transfer_id = ?", q.TransferID)
	}
	if q.Technician != "" {
		tx = tx.Where("technician = ?", q.Technician)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("timestamp >= ?", q.Since)
	}
	if !q.Until.IsZero() {
		tx = tx.Where("timestamp <= ?", q.Until)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var records []EventRecord
	if err := tx.Order("timestamp DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query audit mirror: %w", err)
	}
	return records, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
