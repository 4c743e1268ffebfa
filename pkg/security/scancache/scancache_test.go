package scancache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutGetRoundTrip(t *testing.T) {
	cache, err := Open(filepath.Join(t.TempDir(), "scancache"), time.Minute)
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, cache.Put("deadbeef", Verdict{Clean: true, Details: "ok"}))

	v, found, err := cache.Get("deadbeef")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, v.Clean)
	assert.Equal(t, "ok", v.Details)
}

func TestCache_GetMissReturnsNotFound(t *testing.T) {
	cache, err := Open(filepath.Join(t.TempDir(), "scancache"), time.Minute)
	require.NoError(t, err)
	defer cache.Close()

	_, found, err := cache.Get("unknown")
	require.NoError(t, err)
	assert.False(t, found)
}

type countingScanner struct {
	calls int
	clean bool
}

func (s *countingScanner) Scan(path string) (bool, string, error) {
	s.calls++
	return s.clean, "scanned", nil
}

func TestCachedScanner_SkipsSecondScanOfSameChecksum(t *testing.T) {
	cache, err := Open(filepath.Join(t.TempDir(), "scancache"), time.Minute)
	require.NoError(t, err)
	defer cache.Close()

	underlying := &countingScanner{clean: true}
	scanner := NewCachedScanner(cache, underlying, func(path string) (string, error) {
		return "fixed-checksum", nil
	})

	clean1, _, err := scanner.Scan("/some/path/a.txt")
	require.NoError(t, err)
	clean2, _, err := scanner.Scan("/some/path/b.txt")
	require.NoError(t, err)

	assert.True(t, clean1)
	assert.True(t, clean2)
	assert.Equal(t, 1, underlying.calls, "second scan of the same checksum must hit the cache")
}
