package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/brineio/silo/pkg/config"
	"github.com/brineio/silo/pkg/storage"
	"github.com/brineio/silo/pkg/types"
	"github.com/brineio/silo/pkg/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRetryConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxRetryCount:      3,
		InitialDelay:       time.Minute,
		MaxDelay:           10 * time.Minute,
		ExponentialBackoff: true,
	}
}

type testRig struct {
	sched *Scheduler
	meta  *storage.MetadataStore
	quota *storage.QuotaStore
	vol   *volume.LocalVolume
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	meta, err := storage.NewMetadataStore(t.TempDir(), "tenant-1")
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	quota, err := storage.NewQuotaStore(t.TempDir(), "tenant-1")
	require.NoError(t, err)
	t.Cleanup(func() { quota.Close() })

	vol, err := volume.NewLocalVolume("vol-1", t.TempDir(), 2)
	require.NoError(t, err)

	sched := NewScheduler(testRetryConfig())
	sched.RegisterTenant("tenant-1", meta, quota)
	sched.RegisterVolume(vol)

	return &testRig{sched: sched, meta: meta, quota: quota, vol: vol}
}

func (r *testRig) writeFile(t *testing.T, fileKey string) *types.FileRecord {
	t.Helper()
	path := volume.ShardedPath(r.vol.MountPath(), "tenant-1", fileKey, 2)
	_, err := r.vol.Write(context.Background(), path, strings.NewReader(""))
	require.NoError(t, err)

	rec := &types.FileRecord{
		FileKey:       fileKey,
		TenantID:      "tenant-1",
		VolumeID:      "vol-1",
		PhysicalPath:  path,
		DirectoryPath: "/",
		Status:        types.StatusPending,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, r.meta.PutOrUpdate(rec))
	ok, err := r.quota.TryIncrement("/", 0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	return rec
}

func TestScheduler_ClaimReturnsOldestPending(t *testing.T) {
	rig := newTestRig(t)
	rig.writeFile(t, "key1")

	rec, err := rig.sched.Claim(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.StatusProcessing, rec.Status)
}

func TestScheduler_Claim_EmptyQueueReturnsNil(t *testing.T) {
	rig := newTestRig(t)
	rec, err := rig.sched.Claim(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestScheduler_Claim_UnknownTenantErrors(t *testing.T) {
	rig := newTestRig(t)
	_, err := rig.sched.Claim(context.Background(), "ghost")
	assert.True(t, types.IsKind(err, types.KindTenantNotFound))
}

func TestScheduler_ClaimBatch_StopsWhenEmpty(t *testing.T) {
	rig := newTestRig(t)
	rig.writeFile(t, "key1")
	rig.writeFile(t, "key2")

	got, err := rig.sched.ClaimBatch(context.Background(), "tenant-1", 5)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestScheduler_Complete_DeletesFileAndMetadataAndDecrementsQuota(t *testing.T) {
	rig := newTestRig(t)
	rig.writeFile(t, "key1")

	claimed, err := rig.sched.Claim(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, rig.sched.Complete(context.Background(), "tenant-1", "key1"))

	rec, err := rig.meta.Get("key1")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, int64(0), rig.quota.DirectoryCurrentCount("/"))
}

func TestScheduler_Complete_RejectsNonProcessingRecord(t *testing.T) {
	rig := newTestRig(t)
	rig.writeFile(t, "key1")

	err := rig.sched.Complete(context.Background(), "tenant-1", "key1")
	assert.True(t, types.IsKind(err, types.KindAlreadyInProcessing))
}

func TestScheduler_Complete_UnknownFileErrors(t *testing.T) {
	rig := newTestRig(t)
	err := rig.sched.Complete(context.Background(), "tenant-1", "ghost")
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestScheduler_Fail_RependsBelowMaxRetries(t *testing.T) {
	rig := newTestRig(t)
	rig.writeFile(t, "key1")
	_, err := rig.sched.Claim(context.Background(), "tenant-1")
	require.NoError(t, err)

	require.NoError(t, rig.sched.Fail(context.Background(), "tenant-1", "key1", "disk full"))

	rec, err := rig.meta.Get("key1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.StatusPending, rec.Status)
	assert.Equal(t, uint32(1), rec.RetryCount)
	assert.Equal(t, "disk full", rec.LastError)
	require.NotNil(t, rec.AvailableAt)
	assert.True(t, rec.AvailableAt.After(time.Now()))
}

func TestScheduler_Fail_PromotesToPermanentAtMaxRetries(t *testing.T) {
	rig := newTestRig(t)
	rig.writeFile(t, "key1")

	for i := 0; i < 3; i++ {
		rec, err := rig.sched.Claim(context.Background(), "tenant-1")
		require.NoError(t, err)
		if rec == nil {
			// The previous failure's backoff hasn't elapsed yet; force the
			// record claimable now so the test doesn't sleep real time.
			pending, err := rig.meta.Get("key1")
			require.NoError(t, err)
			pending.AvailableAt = nil
			require.NoError(t, rig.meta.PutOrUpdate(pending))
			rec, err = rig.sched.Claim(context.Background(), "tenant-1")
			require.NoError(t, err)
			require.NotNil(t, rec)
		}
		require.NoError(t, rig.sched.Fail(context.Background(), "tenant-1", "key1", "boom"))
	}

	rec, err := rig.meta.Get("key1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.StatusPermanentlyFailed, rec.Status)
	assert.Equal(t, uint32(3), rec.RetryCount)
}

func TestScheduler_Status(t *testing.T) {
	rig := newTestRig(t)
	rig.writeFile(t, "key1")

	status, err := rig.sched.Status("tenant-1", "key1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, status)
}

func TestScheduler_ReclaimTimedOut(t *testing.T) {
	rig := newTestRig(t)
	rec := rig.writeFile(t, "key1")
	rec.Status = types.StatusProcessing
	started := time.Now().Add(-time.Hour)
	rec.ProcessingStartedAt = &started
	require.NoError(t, rig.meta.PutOrUpdate(rec))

	n, err := rig.sched.ReclaimTimedOut("tenant-1", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := rig.meta.Get("key1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Nil(t, got.ProcessingStartedAt)
}

func TestDelay_FlatWithoutExponentialBackoff(t *testing.T) {
	cfg := config.RetryConfig{InitialDelay: 5 * time.Second, MaxDelay: time.Minute, ExponentialBackoff: false}
	assert.Equal(t, 5*time.Second, delay(1, cfg))
	assert.Equal(t, 5*time.Second, delay(3, cfg))
}

func TestDelay_ExponentialCappedAtMaxDelay(t *testing.T) {
	cfg := config.RetryConfig{InitialDelay: time.Second, MaxDelay: 10 * time.Second, ExponentialBackoff: true}
	assert.Equal(t, time.Second, delay(1, cfg))
	assert.Equal(t, 2*time.Second, delay(2, cfg))
	assert.Equal(t, 4*time.Second, delay(3, cfg))
	assert.Equal(t, 10*time.Second, delay(10, cfg))
}
