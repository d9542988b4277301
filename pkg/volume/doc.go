/*
Package volume implements the Volume storage-backend abstraction: read,
write, delete, capacity, and health-check, behind hex-sharded physical
paths.

# Sharding

ShardedPath splits a file key into shardingDepth two-hex-character directory
components so a volume never accumulates an unbounded number of files in a
single directory:

	{mount}/{tenantId}/{s1}/{s2}/.../{fileKey}

depth 2 (the default) yields up to 65536 leaf directories per tenant. A key
shorter than 2*shardingDepth pads its last partial shard with '0' rather
than overflow into more directory levels than configured.

# Backends

LocalVolume serves a local or bind-mounted directory directly. NetworkVolume
wraps a LocalVolume with an additional TCP reachability probe against the
remote backend before trusting the canary round-trip, so StoragePool sees a
clear "unhealthy" verdict during a network partition instead of waiting out
the full canary retry budget against a host that isn't there at all.

Writes use a write-to-temp-then-rename sequence so a reader never observes a
partially written file, and every path handed to Read/Write/Delete is
checked by pathsanitizer.IsWithin against the volume's mount before any I/O
happens.
*/
package volume
