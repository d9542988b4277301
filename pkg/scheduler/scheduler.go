package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brineio/silo/pkg/config"
	"github.com/brineio/silo/pkg/log"
	"github.com/brineio/silo/pkg/metrics"
	"github.com/brineio/silo/pkg/storage"
	"github.com/brineio/silo/pkg/types"
	"github.com/brineio/silo/pkg/volume"
	"github.com/rs/zerolog"
)

// tenantStores bundles the two per-tenant stores a scheduler operation needs.
type tenantStores struct {
	meta  *storage.MetadataStore
	quota *storage.QuotaStore
}

// Scheduler is the queue engine: atomic claim of the next ready pending
// record, completion (with physical delete), failure with retry/backoff or
// promotion to permanent failure, and timeout reclamation. It holds no
// goroutine of its own — reclaimTimedOut is a synchronous method driven by
// Maintenance's single ticker, so the process has exactly one background
// timer instead of a duplicate one per component.
type Scheduler struct {
	logger zerolog.Logger
	retry  config.RetryConfig

	mu      sync.RWMutex
	tenants map[string]tenantStores
	volumes map[string]volume.Volume
}

// NewScheduler creates a scheduler with the given retry/backoff policy.
// Tenants and volumes are registered after construction via RegisterTenant
// and RegisterVolume.
func NewScheduler(retry config.RetryConfig) *Scheduler {
	return &Scheduler{
		logger:  log.WithComponent("scheduler"),
		retry:   retry,
		tenants: make(map[string]tenantStores),
		volumes: make(map[string]volume.Volume),
	}
}

// RegisterTenant makes a tenant's metadata and quota stores visible to the
// scheduler. Call once per tenant, typically from Bootstrap or on
// auto-create.
func (s *Scheduler) RegisterTenant(tenantID string, meta *storage.MetadataStore, quota *storage.QuotaStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[tenantID] = tenantStores{meta: meta, quota: quota}
}

// UnregisterTenant drops a tenant's stores from the scheduler without
// touching the stores themselves (the caller owns their lifecycle).
func (s *Scheduler) UnregisterTenant(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenants, tenantID)
}

// RegisterVolume makes v available for the physical deletes Complete and
// Maintenance perform.
func (s *Scheduler) RegisterVolume(v volume.Volume) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumes[v.ID()] = v
}

// TenantIDs returns the tenants currently registered, for Maintenance's
// per-tenant sweep.
func (s *Scheduler) TenantIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		ids = append(ids, id)
	}
	return ids
}

func (s *Scheduler) storesFor(tenantID string) (tenantStores, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.tenants[tenantID]
	if !ok {
		return tenantStores{}, types.NewError(types.KindTenantNotFound, "tenant not registered with scheduler", nil).WithTenant(tenantID)
	}
	return st, nil
}

func (s *Scheduler) volumeFor(volumeID string) (volume.Volume, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.volumes[volumeID]
	if !ok {
		return nil, fmt.Errorf("volume %s not registered with scheduler", volumeID)
	}
	return v, nil
}

// MetadataStore exposes a tenant's metadata store to collaborators that
// need to scan it directly, such as Maintenance's eviction and orphan
// sweeps.
func (s *Scheduler) MetadataStore(tenantID string) (*storage.MetadataStore, error) {
	st, err := s.storesFor(tenantID)
	if err != nil {
		return nil, err
	}
	return st.meta, nil
}

// QuotaStore exposes a tenant's quota store to collaborators that need to
// adjust counters directly, such as Maintenance's eviction sweep.
func (s *Scheduler) QuotaStore(tenantID string) (*storage.QuotaStore, error) {
	st, err := s.storesFor(tenantID)
	if err != nil {
		return nil, err
	}
	return st.quota, nil
}

// Volumes returns every volume registered with the scheduler, for
// Maintenance's orphan sweep and capacity queries.
func (s *Scheduler) Volumes() []volume.Volume {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]volume.Volume, 0, len(s.volumes))
	for _, v := range s.volumes {
		out = append(out, v)
	}
	return out
}

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return types.NewError(types.KindCancelled, "operation cancelled", err)
	}
	return nil
}

// Claim hands out the oldest ready-pending record for tenant, or nil if the
// queue is empty. Safe to call concurrently from many workers.
func (s *Scheduler) Claim(ctx context.Context, tenantID string) (*types.FileRecord, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	st, err := s.storesFor(tenantID)
	if err != nil {
		return nil, err
	}

	timer := metrics.NewTimer()
	rec, err := st.meta.ClaimNextPending(time.Now())
	timer.ObserveDuration(metrics.ClaimLatency)
	if err != nil {
		return nil, fmt.Errorf("claim for tenant %s: %w", tenantID, err)
	}
	return rec, nil
}

// ClaimBatch repeatedly claims until n items are accumulated or the pending
// set is empty. Not atomic as a whole; each individual claim is.
func (s *Scheduler) ClaimBatch(ctx context.Context, tenantID string, n int) ([]*types.FileRecord, error) {
	out := make([]*types.FileRecord, 0, n)
	for len(out) < n {
		if err := checkCancelled(ctx); err != nil {
			return out, err
		}
		rec, err := s.Claim(ctx, tenantID)
		if err != nil {
			return out, err
		}
		if rec == nil {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

// Complete finalizes a successfully processed record: the physical file is
// deleted, the directory/tenant quota counters are decremented, and the
// metadata record is removed. The physical delete must succeed (or the file
// must already be gone) before metadata is removed.
func (s *Scheduler) Complete(ctx context.Context, tenantID, fileKey string) error {
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	st, err := s.storesFor(tenantID)
	if err != nil {
		return err
	}

	rec, err := st.meta.Get(fileKey)
	if err != nil {
		return fmt.Errorf("complete %s: %w", fileKey, err)
	}
	if rec == nil {
		return types.NewError(types.KindNotFound, "file not found", nil).WithTenant(tenantID).WithFileKey(fileKey)
	}
	if rec.Status != types.StatusProcessing {
		return types.NewError(types.KindAlreadyInProcessing, "record is not in Processing state", nil).WithTenant(tenantID).WithFileKey(fileKey)
	}

	v, err := s.volumeFor(rec.VolumeID)
	if err != nil {
		return fmt.Errorf("complete %s: %w", fileKey, err)
	}

	if err := v.Delete(ctx, rec.PhysicalPath); err != nil {
		return types.NewError(types.KindIOFault, "physical delete failed", err).WithTenant(tenantID).WithFileKey(fileKey).WithVolume(rec.VolumeID)
	}

	if err := st.quota.Decrement(rec.DirectoryPath); err != nil {
		s.logger.Error().Err(err).Str("tenant_id", tenantID).Str("file_key", fileKey).Msg("quota decrement failed during complete")
	}

	if err := st.meta.Delete(fileKey); err != nil {
		return fmt.Errorf("complete %s: delete metadata: %w", fileKey, err)
	}

	metrics.FilesCompletedTotal.WithLabelValues(tenantID).Inc()
	return nil
}

// delay computes the backoff before a failed record becomes claimable
// again: min(maxDelay, initialDelay * 2^(retryCount-1)) with exponential
// backoff, else a flat initialDelay.
func delay(retryCount uint32, cfg config.RetryConfig) time.Duration {
	if !cfg.ExponentialBackoff || retryCount == 0 {
		return cfg.InitialDelay
	}
	shift := retryCount - 1
	if shift > 32 {
		return cfg.MaxDelay
	}
	d := cfg.InitialDelay * time.Duration(uint64(1)<<shift)
	if d <= 0 || d > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return d
}

// Fail records a processing failure. The record is promoted to
// PermanentlyFailed on the attempt that makes retryCount reach maxRetries;
// otherwise it is re-pended with a not-before timestamp computed from the
// retry/backoff policy.
func (s *Scheduler) Fail(ctx context.Context, tenantID, fileKey, errMessage string) error {
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	st, err := s.storesFor(tenantID)
	if err != nil {
		return err
	}

	rec, err := st.meta.Get(fileKey)
	if err != nil {
		return fmt.Errorf("fail %s: %w", fileKey, err)
	}
	if rec == nil {
		return types.NewError(types.KindNotFound, "file not found", nil).WithTenant(tenantID).WithFileKey(fileKey)
	}
	if rec.Status != types.StatusProcessing {
		return types.NewError(types.KindAlreadyInProcessing, "record is not in Processing state", nil).WithTenant(tenantID).WithFileKey(fileKey)
	}

	updated := *rec
	updated.RetryCount++
	now := time.Now()
	updated.LastFailedAt = &now
	updated.LastError = errMessage
	updated.ProcessingStartedAt = nil

	if updated.RetryCount >= s.retry.MaxRetryCount {
		updated.Status = types.StatusPermanentlyFailed
		updated.AvailableAt = nil
		metrics.FilesFailedTotal.WithLabelValues(tenantID, "true").Inc()
	} else {
		updated.Status = types.StatusPending
		availableAt := now.Add(delay(updated.RetryCount, s.retry))
		updated.AvailableAt = &availableAt
		metrics.FilesFailedTotal.WithLabelValues(tenantID, "false").Inc()
		metrics.RetryCountTotal.WithLabelValues(tenantID).Inc()
	}

	if err := st.meta.PutOrUpdate(&updated); err != nil {
		return fmt.Errorf("fail %s: %w", fileKey, err)
	}
	return nil
}

// Status returns the current status of a record.
func (s *Scheduler) Status(tenantID, fileKey string) (types.FileStatus, error) {
	st, err := s.storesFor(tenantID)
	if err != nil {
		return "", err
	}
	rec, err := st.meta.Get(fileKey)
	if err != nil {
		return "", fmt.Errorf("status %s: %w", fileKey, err)
	}
	if rec == nil {
		return "", types.NewError(types.KindNotFound, "file not found", nil).WithTenant(tenantID).WithFileKey(fileKey)
	}
	return rec.Status, nil
}

// ReclaimTimedOut resets every record stuck in Processing since before
// now-threshold back to Pending, without bumping retryCount. This is the
// anti-deadlock safety net for worker crashes; it returns the number of
// records reclaimed.
func (s *Scheduler) ReclaimTimedOut(tenantID string, threshold time.Duration) (int, error) {
	st, err := s.storesFor(tenantID)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	timedOut := st.meta.FindTimedOut(now, threshold)
	for _, rec := range timedOut {
		updated := *rec
		updated.Status = types.StatusPending
		updated.ProcessingStartedAt = nil
		updated.AvailableAt = nil
		if err := st.meta.PutOrUpdate(&updated); err != nil {
			return len(timedOut), fmt.Errorf("reclaim %s: %w", rec.FileKey, err)
		}
	}
	if len(timedOut) > 0 {
		s.logger.Info().Str("tenant_id", tenantID).Int("count", len(timedOut)).Msg("reclaimed timed-out records")
	}
	return len(timedOut), nil
}
