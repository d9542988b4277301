package maintenance

import (
	"context"
	"time"

	"github.com/brineio/silo/pkg/config"
	"github.com/brineio/silo/pkg/log"
	"github.com/brineio/silo/pkg/metrics"
	"github.com/brineio/silo/pkg/scheduler"
	"github.com/rs/zerolog"
)

// junkFilenames is the allow-list of incidental files the sweep removes.
// Directories are never removed: sharded trees are sparse by design and
// system metadata directories must survive an empty tick.
var junkFilenames = map[string]bool{
	"Thumbs.db":   true,
	".DS_Store":   true,
	"desktop.ini": true,
}

// Loop is the single cooperative background worker: one ticker, one
// goroutine, five sequential stages per tick. Grounded on the teacher's
// health monitor's ticker+stopCh shape, generalized from per-container
// health polling to the tenant-wide sweep below.
type Loop struct {
	logger zerolog.Logger
	sched  *scheduler.Scheduler

	interval           time.Duration
	processingTimeout  time.Duration
	failedRetention    time.Duration
	junkSweepEnabled   bool
	orphanSweepEnabled bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a maintenance loop from resolved configuration. junkSweep and
// orphanSweep are both always enabled; New takes no option to turn either
// off.
func New(cfg *config.Config, sched *scheduler.Scheduler) *Loop {
	return &Loop{
		logger:             log.WithComponent("maintenance"),
		sched:              sched,
		interval:           cfg.MaintenanceInterval,
		processingTimeout:  cfg.ProcessingTimeout,
		failedRetention:    cfg.FailedRetention,
		junkSweepEnabled:   true,
		orphanSweepEnabled: true,
		stopCh:             make(chan struct{}),
		doneCh:             make(chan struct{}),
	}
}

// Start launches the background loop. Safe to call once per Loop.
func (l *Loop) Start() {
	go l.run()
}

// Stop signals the loop to exit and blocks until it has.
func (l *Loop) Stop() {
	close(l.stopCh)
	<-l.doneCh
}

func (l *Loop) run() {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.RunOnce(context.Background())
		case <-l.stopCh:
			return
		}
	}
}

// RunOnce executes all five stages sequentially, logging each, and is
// exported so callers (tests, an explicit CLI trigger) can force a cycle
// without waiting for the ticker.
func (l *Loop) RunOnce(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MaintenanceCycleDuration)

	tenantIDs := l.sched.TenantIDs()

	reclaimed := l.reclaimTimedOut(tenantIDs)
	l.logger.Info().Int("reclaimed", reclaimed).Msg("reclaim stage complete")

	evicted := l.evictAgedPermanentFailures(tenantIDs)
	l.logger.Info().Int("evicted", evicted).Msg("eviction stage complete")

	if l.junkSweepEnabled {
		removed := l.junkSweep(ctx, tenantIDs)
		l.logger.Info().Int("removed", removed).Msg("junk sweep stage complete")
	}

	if l.orphanSweepEnabled {
		orphaned := l.orphanSweep(ctx, tenantIDs)
		l.logger.Info().Int("deleted", orphaned).Msg("orphan sweep stage complete")
	}

	l.compact(tenantIDs)
	l.logger.Info().Msg("compaction stage complete")
}

func (l *Loop) reclaimTimedOut(tenantIDs []string) int {
	total := 0
	for _, tenantID := range tenantIDs {
		n, err := l.sched.ReclaimTimedOut(tenantID, l.processingTimeout)
		if err != nil {
			l.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("reclaim timed-out failed")
			continue
		}
		total += n
	}
	return total
}

func (l *Loop) evictAgedPermanentFailures(tenantIDs []string) int {
	total := 0
	now := time.Now()
	for _, tenantID := range tenantIDs {
		meta, err := l.sched.MetadataStore(tenantID)
		if err != nil {
			continue
		}
		quota, err := l.sched.QuotaStore(tenantID)
		if err != nil {
			continue
		}

		for _, rec := range meta.FindAgedPermanentFailures(now, l.failedRetention) {
			if v, err := l.volumeFor(rec.VolumeID); err == nil {
				if err := v.Delete(context.Background(), rec.PhysicalPath); err != nil {
					l.logger.Warn().Err(err).Str("tenant_id", tenantID).Str("file_key", rec.FileKey).Msg("eviction delete failed, continuing")
				}
			}
			if err := quota.Decrement(rec.DirectoryPath); err != nil {
				l.logger.Error().Err(err).Str("tenant_id", tenantID).Str("file_key", rec.FileKey).Msg("eviction quota decrement failed")
			}
			if err := meta.Delete(rec.FileKey); err != nil {
				l.logger.Error().Err(err).Str("tenant_id", tenantID).Str("file_key", rec.FileKey).Msg("eviction metadata delete failed")
				continue
			}
			total++
			metrics.MaintenanceFilesEvicted.Inc()
		}
	}
	return total
}

func (l *Loop) volumeFor(volumeID string) (volumeDeleter, error) {
	for _, v := range l.sched.Volumes() {
		if v.ID() == volumeID {
			return v, nil
		}
	}
	return nil, errVolumeNotFound(volumeID)
}

// volumeDeleter is the slice of volume.Volume that eviction and the junk
// sweep actually need; keeping it narrow avoids importing the whole
// interface just to call Delete.
type volumeDeleter interface {
	ID() string
	Delete(ctx context.Context, path string) error
}

type errVolumeNotFound string

func (e errVolumeNotFound) Error() string { return "volume " + string(e) + " not registered" }

// junkSweep removes allow-listed incidental filenames from every tenant's
// tree on every volume. Directories are never touched.
func (l *Loop) junkSweep(ctx context.Context, tenantIDs []string) int {
	removed := 0
	for _, tenantID := range tenantIDs {
		for _, v := range l.sched.Volumes() {
			_ = v.Walk(ctx, tenantID, func(fileKey, path string, size int64, modTime time.Time) error {
				if junkFilenames[fileKey] {
					if err := v.Delete(ctx, path); err != nil {
						l.logger.Warn().Err(err).Str("path", path).Msg("junk sweep delete failed")
						return nil
					}
					removed++
					metrics.MaintenanceJunkFilesRemoved.Inc()
				}
				return nil
			})
		}
	}
	return removed
}

// orphanSweep deletes any physical file whose fileKey is absent from the
// tenant's metadata store.
func (l *Loop) orphanSweep(ctx context.Context, tenantIDs []string) int {
	deleted := 0
	for _, tenantID := range tenantIDs {
		meta, err := l.sched.MetadataStore(tenantID)
		if err != nil {
			continue
		}
		for _, v := range l.sched.Volumes() {
			_ = v.Walk(ctx, tenantID, func(fileKey, path string, size int64, modTime time.Time) error {
				if junkFilenames[fileKey] {
					return nil
				}
				rec, err := meta.Get(fileKey)
				if err != nil {
					l.logger.Error().Err(err).Str("tenant_id", tenantID).Str("file_key", fileKey).Msg("orphan sweep lookup failed")
					return nil
				}
				if rec != nil {
					return nil
				}
				if err := v.Delete(ctx, path); err != nil {
					l.logger.Warn().Err(err).Str("path", path).Msg("orphan sweep delete failed")
					return nil
				}
				deleted++
				return nil
			})
		}
	}
	return deleted
}

// compactor is implemented by storage backends that can rebuild their
// on-disk representation; not every store needs to.
type compactor interface {
	Compact() error
}

func (l *Loop) compact(tenantIDs []string) {
	for _, tenantID := range tenantIDs {
		if meta, err := l.sched.MetadataStore(tenantID); err == nil {
			if c, ok := interface{}(meta).(compactor); ok {
				if err := c.Compact(); err != nil {
					l.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("metadata compaction failed")
				}
			}
		}
		if quota, err := l.sched.QuotaStore(tenantID); err == nil {
			if c, ok := interface{}(quota).(compactor); ok {
				if err := c.Compact(); err != nil {
					l.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("quota compaction failed")
				}
			}
		}
	}
}
