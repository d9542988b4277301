/*
Package pool implements StoragePool, the front door for file writes, reads
and queue operations: validate tenant and quota, pick a volume, stream
bytes, register metadata, and delegate queue operations to pkg/scheduler.
The tenant and recover CLI commands work on pkg/tenant and pkg/recovery
directly rather than through the pool.

StoragePool is built the way the teacher's Manager composition root is
built: one struct holding a reference to every collaborator (tenant
registry, scheduler, volume set), with public methods that validate then
delegate rather than reimplementing logic that already lives in a
collaborator.
*/
package pool
