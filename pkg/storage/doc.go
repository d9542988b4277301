/*
Package storage provides the per-tenant persistence layer: MetadataStore
(FileKey -> FileRecord, with an active-set cache and the claim
serialization point) and QuotaStore (per-directory and per-tenant counters
with tenant-then-directory locking and rollback on a failed directory
check).

Each tenant owns two bbolt databases, opened lazily by the caller (pkg/pool
opens them on a tenant's first use): {tenantId}.db for metadata and {tenantId}-quotas.db for quotas.
This mirrors the teacher's single-BoltStore-per-process shape, but scoped to
one tenant per database file so one tenant's corruption or compaction never
touches another's.
*/
package storage
