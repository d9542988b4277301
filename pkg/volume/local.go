package volume

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/brineio/silo/pkg/health"
	"github.com/brineio/silo/pkg/log"
	"github.com/brineio/silo/pkg/pathsanitizer"
)

// LocalVolume is a Volume backed by a local (or bind-mounted) directory.
type LocalVolume struct {
	id            string
	mountPath     string
	shardingDepth int
	canary        *health.CanaryChecker
}

// NewLocalVolume creates a local volume rooted at mountPath, ensuring the
// directory exists.
func NewLocalVolume(id, mountPath string, shardingDepth int) (*LocalVolume, error) {
	if shardingDepth < 0 || shardingDepth > 3 {
		return nil, fmt.Errorf("volume %s: shardingDepth must be 0..3, got %d", id, shardingDepth)
	}
	if err := os.MkdirAll(mountPath, 0o755); err != nil {
		return nil, fmt.Errorf("volume %s: create mount path: %w", id, err)
	}

	return &LocalVolume{
		id:            id,
		mountPath:     mountPath,
		shardingDepth: shardingDepth,
		canary:        health.NewCanaryChecker(mountPath),
	}, nil
}

var _ Volume = (*LocalVolume)(nil)

func (v *LocalVolume) ID() string         { return v.id }
func (v *LocalVolume) MountPath() string  { return v.mountPath }
func (v *LocalVolume) ShardingDepth() int { return v.shardingDepth }

func (v *LocalVolume) confine(path string) error {
	ok, err := pathsanitizer.IsWithin(v.mountPath, path)
	if err != nil {
		return fmt.Errorf("path confinement check: %w", err)
	}
	if !ok {
		return fmt.Errorf("path %q escapes mount %q", path, v.mountPath)
	}
	return nil
}

// Read opens path for reading after confirming it is within the mount.
func (v *LocalVolume) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := v.confine(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Write persists r to path atomically via write-to-temp-then-rename.
func (v *LocalVolume) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	if err := v.confine(path); err != nil {
		return 0, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create shard directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".silo-write-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	written, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("write contents: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("close temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("finalize write: %w", err)
	}

	return written, nil
}

// Delete removes path, treating an already-absent file as success.
func (v *LocalVolume) Delete(ctx context.Context, path string) error {
	if err := v.confine(path); err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}

// TotalCapacity returns the mount's total byte capacity.
func (v *LocalVolume) TotalCapacity() (int64, error) {
	total, _, err := diskUsage(v.mountPath)
	return total, err
}

// AvailableSpace returns the mount's free byte capacity.
func (v *LocalVolume) AvailableSpace() (int64, error) {
	_, avail, err := diskUsage(v.mountPath)
	return avail, err
}

// Walk enumerates regular files under mountPath/tenantID, skipping silently
// if the tenant has never written anything to this volume.
func (v *LocalVolume) Walk(ctx context.Context, tenantID string, fn func(fileKey, path string, size int64, modTime time.Time) error) error {
	root := filepath.Join(v.mountPath, tenantID)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(d.Name(), path, info.Size(), info.ModTime())
	})
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsHealthy runs the canary round-trip and logs a failure if one occurs.
func (v *LocalVolume) IsHealthy(ctx context.Context) bool {
	result := v.canary.Check(ctx)
	if !result.Healthy {
		log.WithVolume(v.id).Warn().Str("reason", result.Message).Msg("volume health check failed")
	}
	return result.Healthy
}
