package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQuotaStore(t *testing.T) *QuotaStore {
	t.Helper()
	s, err := NewQuotaStore(t.TempDir(), "tenant-1")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestQuotaStore_TryIncrement_UnlimitedAlwaysSucceeds(t *testing.T) {
	s := newTestQuotaStore(t)
	for i := 0; i < 10; i++ {
		ok, err := s.TryIncrement("/docs", 0, 0)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, int64(10), s.TenantCurrentCount())
	assert.Equal(t, int64(10), s.DirectoryCurrentCount("/docs"))
}

func TestQuotaStore_TryIncrement_DirectoryLimitRejectsAndRollsBackTenant(t *testing.T) {
	s := newTestQuotaStore(t)

	ok, err := s.TryIncrement("/docs", 0, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryIncrement("/docs", 0, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int64(1), s.TenantCurrentCount())
	assert.Equal(t, int64(1), s.DirectoryCurrentCount("/docs"))
}

func TestQuotaStore_TryIncrement_TenantLimitRejectsBeforeDirectoryCheck(t *testing.T) {
	s := newTestQuotaStore(t)

	ok, err := s.TryIncrement("/docs", 1, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryIncrement("/other", 1, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int64(1), s.TenantCurrentCount())
	assert.Equal(t, int64(0), s.DirectoryCurrentCount("/other"))
}

func TestQuotaStore_Decrement_SaturatesAtZero(t *testing.T) {
	s := newTestQuotaStore(t)
	require.NoError(t, s.Decrement("/docs"))
	assert.Equal(t, int64(0), s.TenantCurrentCount())
	assert.Equal(t, int64(0), s.DirectoryCurrentCount("/docs"))
}

func TestQuotaStore_IncrementThenDecrement_RoundTrips(t *testing.T) {
	s := newTestQuotaStore(t)
	ok, err := s.TryIncrement("/docs", 0, 0)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Decrement("/docs"))
	assert.Equal(t, int64(0), s.TenantCurrentCount())
	assert.Equal(t, int64(0), s.DirectoryCurrentCount("/docs"))
}

func TestQuotaStore_DifferentDirectoriesHaveIndependentLimits(t *testing.T) {
	s := newTestQuotaStore(t)

	ok, err := s.TryIncrement("/a", 0, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryIncrement("/b", 0, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryIncrement("/a", 0, 1)
	require.NoError(t, err)
	assert.False(t, ok, "directory /a is at its own limit")
}

func TestQuotaStore_ConcurrentTryIncrement_NeverExceedsLimit(t *testing.T) {
	s := newTestQuotaStore(t)
	const attempts = 50
	const limit = 10

	var wg sync.WaitGroup
	results := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TryIncrement("/docs", 0, limit)
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	accepted := 0
	for ok := range results {
		if ok {
			accepted++
		}
	}
	assert.Equal(t, limit, accepted)
	assert.Equal(t, int64(limit), s.DirectoryCurrentCount("/docs"))
}

func TestQuotaStore_ReopensWithCountsRestored(t *testing.T) {
	dir := t.TempDir()
	s, err := NewQuotaStore(dir, "tenant-1")
	require.NoError(t, err)
	ok, err := s.TryIncrement("/docs", 0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Close())

	reopened, err := NewQuotaStore(dir, "tenant-1")
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, int64(1), reopened.TenantCurrentCount())
	assert.Equal(t, int64(1), reopened.DirectoryCurrentCount("/docs"))
}
