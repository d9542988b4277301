//go:build linux || darwin

package volume

import "golang.org/x/sys/unix"

// diskUsage returns (total bytes, available bytes) for the filesystem
// mounted at path.
func diskUsage(path string) (total int64, available int64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}

	total = int64(stat.Blocks) * int64(stat.Bsize)
	available = int64(stat.Bavail) * int64(stat.Bsize)
	return total, available, nil
}
