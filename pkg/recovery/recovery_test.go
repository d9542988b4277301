package recovery

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brineio/silo/pkg/config"
	"github.com/brineio/silo/pkg/storage"
	"github.com/brineio/silo/pkg/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAndRecover_HealthyDatabasesAreUntouched(t *testing.T) {
	metaDir, quotaDir := t.TempDir(), t.TempDir()
	meta, err := storage.NewMetadataStore(metaDir, "tenant-1")
	require.NoError(t, err)
	require.NoError(t, meta.Close())
	quota, err := storage.NewQuotaStore(quotaDir, "tenant-1")
	require.NoError(t, err)
	require.NoError(t, quota.Close())

	cfg := &config.Config{MetadataDirectory: metaDir, QuotaDirectory: quotaDir}
	r := New(cfg, nil)

	report, err := r.CheckAndRecover("tenant-1")
	require.NoError(t, err)
	assert.False(t, report.MetadataCorrupt)
	assert.False(t, report.QuotaCorrupt)
	assert.Empty(t, report.Errors)
}

func TestCheckAndRecover_RebuildsCorruptMetadataFromPhysicalTree(t *testing.T) {
	metaDir, quotaDir := t.TempDir(), t.TempDir()

	vol, err := volume.NewLocalVolume("vol-1", t.TempDir(), 2)
	require.NoError(t, err)

	path := volume.ShardedPath(vol.MountPath(), "tenant-1", "deadbeef00000000000000000000000", 2)
	_, err = vol.Write(context.Background(), path, strings.NewReader("payload"))
	require.NoError(t, err)

	corruptMetaPath := filepath.Join(metaDir, "tenant-1.db")
	require.NoError(t, os.WriteFile(corruptMetaPath, []byte("not a bolt database"), 0o600))

	quota, err := storage.NewQuotaStore(quotaDir, "tenant-1")
	require.NoError(t, err)
	require.NoError(t, quota.Close())

	cfg := &config.Config{MetadataDirectory: metaDir, QuotaDirectory: quotaDir}
	r := New(cfg, []volume.Volume{vol})

	report, err := r.CheckAndRecover("tenant-1")
	require.NoError(t, err)
	assert.True(t, report.MetadataCorrupt)
	assert.NotEmpty(t, report.MetadataBackupPath)
	assert.Equal(t, 1, report.RecordsRebuilt)

	_, statErr := os.Stat(report.MetadataBackupPath)
	assert.NoError(t, statErr)

	rebuilt, err := storage.NewMetadataStore(metaDir, "tenant-1")
	require.NoError(t, err)
	defer rebuilt.Close()
	rec, err := rebuilt.Get("deadbeef00000000000000000000000")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "vol-1", rec.VolumeID)
	assert.EqualValues(t, 7, rec.FileSize)
}

func TestCheckAndRecover_RebuildsCorruptQuotaFromPhysicalTree(t *testing.T) {
	metaDir, quotaDir := t.TempDir(), t.TempDir()

	vol, err := volume.NewLocalVolume("vol-1", t.TempDir(), 2)
	require.NoError(t, err)
	path := volume.ShardedPath(vol.MountPath(), "tenant-1", "cafebabe00000000000000000000000", 2)
	_, err = vol.Write(context.Background(), path, strings.NewReader("x"))
	require.NoError(t, err)

	meta, err := storage.NewMetadataStore(metaDir, "tenant-1")
	require.NoError(t, err)
	require.NoError(t, meta.Close())

	corruptQuotaPath := filepath.Join(quotaDir, "tenant-1-quotas.db")
	require.NoError(t, os.WriteFile(corruptQuotaPath, []byte("not a bolt database"), 0o600))

	cfg := &config.Config{MetadataDirectory: metaDir, QuotaDirectory: quotaDir}
	r := New(cfg, []volume.Volume{vol})

	report, err := r.CheckAndRecover("tenant-1")
	require.NoError(t, err)
	assert.True(t, report.QuotaCorrupt)
	assert.NotEmpty(t, report.QuotaBackupPath)

	rebuilt, err := storage.NewQuotaStore(quotaDir, "tenant-1")
	require.NoError(t, err)
	defer rebuilt.Close()
	assert.Equal(t, int64(1), rebuilt.DirectoryCurrentCount("/"))
}
