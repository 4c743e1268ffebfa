// Package scancache fronts the malware scanner with a checksum-keyed
// TTL cache: re-uploads of a file already scanned recently skip a
// second scan, keyed by its SHA-256 digest rather than its path or
// filename (a path can be reused across unrelated transfers; a digest
// cannot).
package scancache

import (
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Cache wraps a badger database as a checksum -> scan verdict TTL
// cache.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
}

// Verdict is the cached scan outcome for a checksum.
type Verdict struct {
	Clean    bool      `json:"clean"`
	Details  string    `json:"details"`
	ScanTime time.Time `json:"scan_time"`
}

// Open opens (creating if needed) a badger database at dir with the
// given default TTL for cached verdicts.
func Open(dir string, ttl time.Duration) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("scancache: open badger db at %s: %w", dir, err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{db: db, ttl: ttl}, nil
}

// Get returns the cached verdict for checksum, if present and unexpired.
func (c *Cache) Get(checksum string) (Verdict, bool, error) {
	var v Verdict
	var found bool

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(checksum))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if unmarshalErr := json.Unmarshal(val, &v); unmarshalErr != nil {
				return unmarshalErr
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return Verdict{}, false, fmt.Errorf("scancache: get %s: %w", checksum, err)
	}
	return v, found, nil
}

// Put stores verdict for checksum with the cache's default TTL.
func (c *Cache) Put(checksum string, verdict Verdict) error {
	data, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("scancache: marshal verdict: %w", err)
	}

	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(checksum), data).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
