/*
Package scheduler implements the queue engine on top of pkg/storage:
claim/claimBatch/complete/fail/status and the timeout-reclaim safety net.

Claim delegates straight to MetadataStore.ClaimNextPending, which is the
single serialization point for the queue — Scheduler itself holds no lock
around it beyond the registry of per-tenant stores. Fail computes the next
retry delay as min(maxDelay, initialDelay*2^(retryCount-1)) and promotes a
record to PermanentlyFailed on the attempt that brings retryCount to
maxRetries.
*/
package scheduler
