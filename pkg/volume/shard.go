package volume

import "path/filepath"

// ShardedPath builds the physical path for a file key under a tenant,
// splitting the key into shardingDepth two-hex-character directory
// components. A fileKey shorter than 2*shardingDepth pads the final
// partial shard with '0' and stops rather than overflowing into more
// shards than requested.
func ShardedPath(mountPath, tenantID, fileKey string, shardingDepth int) string {
	parts := make([]string, 0, shardingDepth+2)
	parts = append(parts, mountPath, tenantID)

	for i := 0; i < shardingDepth; i++ {
		start := 2 * i
		if start >= len(fileKey) {
			break
		}
		end := start + 2
		if end > len(fileKey) {
			shard := fileKey[start:] + "0"
			parts = append(parts, shard)
			break
		}
		parts = append(parts, fileKey[start:end])
	}

	parts = append(parts, fileKey)
	return filepath.Join(parts...)
}
