package volume

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalVolume_CreatesMountPath(t *testing.T) {
	mount := filepath.Join(t.TempDir(), "nested", "vol")

	v, err := NewLocalVolume("vol-1", mount, 2)
	require.NoError(t, err)

	assert.Equal(t, "vol-1", v.ID())
	assert.Equal(t, mount, v.MountPath())
	assert.Equal(t, 2, v.ShardingDepth())

	_, err = os.Stat(mount)
	assert.NoError(t, err)
}

func TestNewLocalVolume_RejectsBadShardingDepth(t *testing.T) {
	_, err := NewLocalVolume("vol-1", t.TempDir(), 4)
	assert.Error(t, err)
}

func TestLocalVolume_WriteReadDelete(t *testing.T) {
	mount := t.TempDir()
	v, err := NewLocalVolume("vol-1", mount, 2)
	require.NoError(t, err)

	path := ShardedPath(mount, "t1", "deadbeefcafebabe0000000000000000", 2)
	ctx := context.Background()

	written, err := v.Write(ctx, path, bytes.NewBufferString("hello world"))
	require.NoError(t, err)
	assert.Equal(t, int64(len("hello world")), written)

	rc, err := v.Read(ctx, path)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello world", string(data))

	require.NoError(t, v.Delete(ctx, path))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLocalVolume_DeleteMissingFileIsNotError(t *testing.T) {
	mount := t.TempDir()
	v, err := NewLocalVolume("vol-1", mount, 2)
	require.NoError(t, err)

	path := ShardedPath(mount, "t1", "0000000000000000000000000000beef", 2)
	assert.NoError(t, v.Delete(context.Background(), path))
}

func TestLocalVolume_RejectsEscapingPath(t *testing.T) {
	mount := t.TempDir()
	v, err := NewLocalVolume("vol-1", mount, 2)
	require.NoError(t, err)

	escaped := filepath.Join(mount, "..", "outside")
	_, err = v.Write(context.Background(), escaped, bytes.NewBufferString("x"))
	assert.Error(t, err)
}

func TestLocalVolume_WriteLeavesNoTempFileOnSuccess(t *testing.T) {
	mount := t.TempDir()
	v, err := NewLocalVolume("vol-1", mount, 0)
	require.NoError(t, err)

	path := ShardedPath(mount, "t1", "abcd", 0)
	_, err = v.Write(context.Background(), path, bytes.NewBufferString("x"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".silo-write-")
	}
}

func TestLocalVolume_CapacityReportsPositiveValues(t *testing.T) {
	v, err := NewLocalVolume("vol-1", t.TempDir(), 2)
	require.NoError(t, err)

	total, err := v.TotalCapacity()
	require.NoError(t, err)
	assert.Greater(t, total, int64(0))

	avail, err := v.AvailableSpace()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, avail, int64(0))
}

func TestLocalVolume_IsHealthy(t *testing.T) {
	v, err := NewLocalVolume("vol-1", t.TempDir(), 2)
	require.NoError(t, err)

	assert.True(t, v.IsHealthy(context.Background()))
}

func TestShardedPath_DefaultDepth(t *testing.T) {
	got := ShardedPath("/mnt/vol1", "t1", "deadbeefcafebabe0000000000000000", 2)
	assert.Equal(t, "/mnt/vol1/t1/de/ad/deadbeefcafebabe0000000000000000", got)
}

func TestShardedPath_DepthZero(t *testing.T) {
	got := ShardedPath("/mnt/vol1", "t1", "a", 0)
	assert.Equal(t, "/mnt/vol1/t1/a", got)
}

func TestShardedPath_ShortKeyPadsLastShard(t *testing.T) {
	got := ShardedPath("/mnt/vol1", "t1", "a", 2)
	assert.Equal(t, "/mnt/vol1/t1/a0/a", got)
}

func TestShardedPath_ExactlyTwoShards(t *testing.T) {
	got := ShardedPath("/mnt/vol1", "t1", "abcd", 2)
	assert.Equal(t, "/mnt/vol1/t1/ab/cd/abcd", got)
}

func TestShardedPath_DepthThree(t *testing.T) {
	got := ShardedPath("/mnt/vol1", "t1", "aabbccdd", 3)
	assert.Equal(t, "/mnt/vol1/t1/aa/bb/cc/aabbccdd", got)
}
