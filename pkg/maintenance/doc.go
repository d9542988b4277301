// Package maintenance runs the single background sweep: reclaim timed-out
// Processing records, evict aged permanent failures, remove allow-listed
// junk files, delete orphaned physical files, and compact the per-tenant
// stores. One ticker, one goroutine, stages run sequentially within a tick.
package maintenance
