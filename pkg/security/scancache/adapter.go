package scancache

import "time"

// Underlying is the pluggable malware scanner that CachedScanner
// consults on a cache miss.
type Underlying interface {
	Scan(path string) (clean bool, details string, err error)
}

// ChecksumFunc computes the cache key for a file at path.
type ChecksumFunc func(path string) (string, error)

// CachedScanner wraps Underlying with a scancache.Cache so repeated
// scans of byte-identical files skip the underlying scanner. It
// satisfies pkg/security.Scanner.
type CachedScanner struct {
	cache      *Cache
	underlying Underlying
	checksum   ChecksumFunc
}

// NewCachedScanner builds a CachedScanner.
func NewCachedScanner(cache *Cache, underlying Underlying, checksum ChecksumFunc) *CachedScanner {
	return &CachedScanner{cache: cache, underlying: underlying, checksum: checksum}
}

// Scan implements pkg/security.Scanner.
func (s *CachedScanner) Scan(path string) (bool, string, error) {
	sum, err := s.checksum(path)
	if err != nil {
		return false, "", err
	}

	if verdict, found, err := s.cache.Get(sum); err == nil && found {
		return verdict.Clean, verdict.Details, nil
	}

	clean, details, err := s.underlying.Scan(path)
	if err != nil {
		return false, "", err
	}

	_ = s.cache.Put(sum, Verdict{Clean: clean, Details: details, ScanTime: time.Now().UTC()})
	return clean, details, nil
}
