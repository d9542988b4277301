package storage

import (
	"testing"
	"time"

	"github.com/brineio/silo/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetadataStore(t *testing.T) *MetadataStore {
	t.Helper()
	s, err := NewMetadataStore(t.TempDir(), "tenant-1")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func pendingRecord(key string, createdAt time.Time) *types.FileRecord {
	return &types.FileRecord{
		FileKey:       key,
		TenantID:      "tenant-1",
		VolumeID:      "vol-1",
		PhysicalPath:  "/mnt/vol1/tenant-1/" + key,
		DirectoryPath: "/",
		FileSize:      10,
		Status:        types.StatusPending,
		CreatedAt:     createdAt,
	}
}

func TestMetadataStore_PutGetDelete(t *testing.T) {
	s := newTestMetadataStore(t)
	rec := pendingRecord("key1", time.Now())

	require.NoError(t, s.PutOrUpdate(rec))

	got, err := s.Get("key1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.FileKey, got.FileKey)

	require.NoError(t, s.Delete("key1"))

	got, err = s.Get("key1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMetadataStore_CompletedRecordsAreNotCached(t *testing.T) {
	s := newTestMetadataStore(t)
	rec := pendingRecord("key1", time.Now())
	rec.Status = types.StatusCompleted

	require.NoError(t, s.PutOrUpdate(rec))

	s.mu.Lock()
	_, cached := s.cache["key1"]
	s.mu.Unlock()
	assert.False(t, cached)
}

func TestMetadataStore_FindPending_OrdersByCreatedThenKey(t *testing.T) {
	s := newTestMetadataStore(t)
	base := time.Now()

	require.NoError(t, s.PutOrUpdate(pendingRecord("zzz", base)))
	require.NoError(t, s.PutOrUpdate(pendingRecord("aaa", base)))
	require.NoError(t, s.PutOrUpdate(pendingRecord("mid", base.Add(-time.Minute))))

	got := s.FindPending(0, base.Add(time.Hour))
	require.Len(t, got, 3)
	assert.Equal(t, "mid", got[0].FileKey)
	assert.Equal(t, "aaa", got[1].FileKey)
	assert.Equal(t, "zzz", got[2].FileKey)
}

func TestMetadataStore_FindPending_ExcludesNotYetAvailable(t *testing.T) {
	s := newTestMetadataStore(t)
	now := time.Now()
	future := now.Add(time.Hour)

	rec := pendingRecord("later", now)
	rec.AvailableAt = &future
	require.NoError(t, s.PutOrUpdate(rec))

	assert.Empty(t, s.FindPending(0, now))
	assert.Len(t, s.FindPending(0, now.Add(2*time.Hour)), 1)
}

func TestMetadataStore_ClaimNextPending_TransitionsToProcessing(t *testing.T) {
	s := newTestMetadataStore(t)
	now := time.Now()
	require.NoError(t, s.PutOrUpdate(pendingRecord("key1", now)))

	claimed, err := s.ClaimNextPending(now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, types.StatusProcessing, claimed.Status)
	require.NotNil(t, claimed.ProcessingStartedAt)

	again, err := s.ClaimNextPending(now)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestMetadataStore_ClaimNextPending_EmptyReturnsNil(t *testing.T) {
	s := newTestMetadataStore(t)
	claimed, err := s.ClaimNextPending(time.Now())
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestMetadataStore_ClaimNextPending_ConcurrentCallersNeverShareARecord(t *testing.T) {
	s := newTestMetadataStore(t)
	now := time.Now()
	const n = 50
	for i := 0; i < n; i++ {
		key := string(rune('a' + i%26))
		require.NoError(t, s.PutOrUpdate(pendingRecord(key+string(rune('0'+i/26)), now.Add(time.Duration(i)*time.Millisecond))))
	}

	seen := make(chan string, n)
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			rec, err := s.ClaimNextPending(now.Add(time.Hour))
			assert.NoError(t, err)
			if rec != nil {
				seen <- rec.FileKey
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	close(seen)

	keys := make(map[string]bool)
	for k := range seen {
		assert.False(t, keys[k], "fileKey %s claimed more than once", k)
		keys[k] = true
	}
}

func TestMetadataStore_FindTimedOut(t *testing.T) {
	s := newTestMetadataStore(t)
	now := time.Now()
	started := now.Add(-time.Hour)

	rec := pendingRecord("key1", now.Add(-2*time.Hour))
	rec.Status = types.StatusProcessing
	rec.ProcessingStartedAt = &started
	require.NoError(t, s.PutOrUpdate(rec))

	assert.Empty(t, s.FindTimedOut(now, 2*time.Hour))
	got := s.FindTimedOut(now, 30*time.Minute)
	require.Len(t, got, 1)
	assert.Equal(t, "key1", got[0].FileKey)
}

func TestMetadataStore_FindAgedPermanentFailures(t *testing.T) {
	s := newTestMetadataStore(t)
	now := time.Now()
	failedAt := now.Add(-8 * 24 * time.Hour)

	rec := pendingRecord("key1", now.Add(-9*24*time.Hour))
	rec.Status = types.StatusPermanentlyFailed
	rec.LastFailedAt = &failedAt
	require.NoError(t, s.PutOrUpdate(rec))

	assert.Empty(t, s.FindAgedPermanentFailures(now, 30*24*time.Hour))
	got := s.FindAgedPermanentFailures(now, 7*24*time.Hour)
	require.Len(t, got, 1)
}

func TestMetadataStore_Count(t *testing.T) {
	s := newTestMetadataStore(t)
	now := time.Now()
	require.NoError(t, s.PutOrUpdate(pendingRecord("key1", now)))
	require.NoError(t, s.PutOrUpdate(pendingRecord("key2", now)))
	failing := pendingRecord("key3", now)
	failing.Status = types.StatusFailed
	require.NoError(t, s.PutOrUpdate(failing))

	assert.Equal(t, int64(2), s.Count(func(st types.FileStatus) bool { return st == types.StatusPending }))
	assert.Equal(t, int64(1), s.Count(func(st types.FileStatus) bool { return st == types.StatusFailed }))
}

func TestMetadataStore_ReopensWithActiveSetRestored(t *testing.T) {
	dir := t.TempDir()
	s, err := NewMetadataStore(dir, "tenant-1")
	require.NoError(t, err)
	require.NoError(t, s.PutOrUpdate(pendingRecord("key1", time.Now())))
	require.NoError(t, s.Close())

	reopened, err := NewMetadataStore(dir, "tenant-1")
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("key1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "key1", got.FileKey)
}
