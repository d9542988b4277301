package pool

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brineio/silo/pkg/config"
	"github.com/brineio/silo/pkg/log"
	"github.com/brineio/silo/pkg/metrics"
	"github.com/brineio/silo/pkg/pathsanitizer"
	"github.com/brineio/silo/pkg/scheduler"
	"github.com/brineio/silo/pkg/storage"
	"github.com/brineio/silo/pkg/tenant"
	"github.com/brineio/silo/pkg/types"
	"github.com/brineio/silo/pkg/volume"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FileInfo is the lightweight read-only projection Info returns.
type FileInfo struct {
	FileKey   string
	FileSize  int64
	CreatedAt time.Time
	Status    types.FileStatus
}

// StoragePool is the front door: it validates the tenant and quota, picks a
// volume, streams content, registers metadata, and delegates queue
// operations to Scheduler. It composes every other collaborator, in the
// style of a single struct holding references that validate then delegate.
type StoragePool struct {
	logger zerolog.Logger
	cfg    *config.Config

	tenants   *tenant.Registry
	scheduler *scheduler.Scheduler
	volumes   []volume.Volume

	mu          sync.Mutex
	metaStores  map[string]*storage.MetadataStore
	quotaStores map[string]*storage.QuotaStore
}

// New builds a StoragePool from its collaborators. volumes must already be
// registered with scheduler via scheduler.RegisterVolume.
func New(cfg *config.Config, tenants *tenant.Registry, sched *scheduler.Scheduler, volumes []volume.Volume) *StoragePool {
	return &StoragePool{
		logger:      log.WithComponent("pool"),
		cfg:         cfg,
		tenants:     tenants,
		scheduler:   sched,
		volumes:     volumes,
		metaStores:  make(map[string]*storage.MetadataStore),
		quotaStores: make(map[string]*storage.QuotaStore),
	}
}

// ensureStores opens (or returns already-open) per-tenant stores and
// registers them with the scheduler, so the first write or claim for a
// tenant lazily wires everything it needs.
func (p *StoragePool) ensureStores(tenantID string) (*storage.MetadataStore, *storage.QuotaStore, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	meta, metaOK := p.metaStores[tenantID]
	quota, quotaOK := p.quotaStores[tenantID]
	if metaOK && quotaOK {
		return meta, quota, nil
	}

	if !metaOK {
		m, err := storage.NewMetadataStore(p.cfg.MetadataDirectory, tenantID)
		if err != nil {
			return nil, nil, fmt.Errorf("open metadata store for tenant %s: %w", tenantID, err)
		}
		meta = m
		p.metaStores[tenantID] = meta
	}
	if !quotaOK {
		q, err := storage.NewQuotaStore(p.cfg.QuotaDirectory, tenantID)
		if err != nil {
			return nil, nil, fmt.Errorf("open quota store for tenant %s: %w", tenantID, err)
		}
		quota = q
		p.quotaStores[tenantID] = quota
	}

	p.scheduler.RegisterTenant(tenantID, meta, quota)
	return meta, quota, nil
}

// Warm opens tenantID's stores and registers them with the scheduler
// without performing a write or claim. Bootstrap calls this once per known
// tenant at startup so Maintenance's per-tenant sweep covers every tenant
// immediately, not only the ones a request has touched since the process
// started.
func (p *StoragePool) Warm(tenantID string) error {
	_, _, err := p.ensureStores(tenantID)
	return err
}

// Close closes every per-tenant store the pool has opened.
func (p *StoragePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, m := range p.metaStores {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, q := range p.quotaStores {
		if err := q.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *StoragePool) enabledTenant(tenantID string) (*types.TenantRecord, error) {
	rec, err := p.tenants.GetTenant(tenantID)
	if err != nil {
		return nil, fmt.Errorf("lookup tenant %s: %w", tenantID, err)
	}
	if rec == nil {
		return nil, types.NewError(types.KindTenantNotFound, "tenant does not exist", nil).WithTenant(tenantID)
	}
	if rec.Status != types.TenantEnabled {
		return nil, types.NewError(types.KindTenantDisabled, string(rec.Status), nil).WithTenant(tenantID)
	}
	return rec, nil
}

// selectVolume picks the healthy volume with the largest available space,
// ties broken by volumeId. Round-robin is rejected because a near-full
// volume would accept writes and then fail; health is checked on every
// write rather than cached, so a degraded mount is never selected.
func (p *StoragePool) selectVolume(ctx context.Context) (volume.Volume, error) {
	type candidate struct {
		v         volume.Volume
		available int64
	}
	var candidates []candidate
	for _, v := range p.volumes {
		if !v.IsHealthy(ctx) {
			continue
		}
		avail, err := v.AvailableSpace()
		if err != nil || avail <= 0 {
			continue
		}
		candidates = append(candidates, candidate{v: v, available: avail})
	}
	if len(candidates) == 0 {
		return nil, types.NewKind(types.KindNoHealthyVolume)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].available != candidates[j].available {
			return candidates[i].available > candidates[j].available
		}
		return candidates[i].v.ID() < candidates[j].v.ID()
	})
	return candidates[0].v, nil
}

func newFileKey() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Write validates the tenant and quota, picks a volume, streams r to it, and
// registers a Pending FileRecord. directoryPath defaults to "/" when empty.
func (p *StoragePool) Write(ctx context.Context, tenantID string, r io.Reader, directoryPath string) (string, error) {
	if directoryPath == "" {
		directoryPath = "/"
	}

	if _, err := p.enabledTenant(tenantID); err != nil {
		return "", err
	}

	meta, quota, err := p.ensureStores(tenantID)
	if err != nil {
		return "", err
	}

	// dirLimit is always 0 (unlimited): this deployment only configures a
	// tenant-wide quota, so a rejected TryIncrement can only be the
	// tenant-level check failing.
	ok, err := quota.TryIncrement(directoryPath, p.cfg.DefaultTenantQuota, 0)
	if err != nil {
		return "", fmt.Errorf("write: quota check: %w", err)
	}
	if !ok {
		return "", types.NewError(types.KindTenantQuotaExceeded, "tenant quota exceeded", nil).
			WithTenant(tenantID).WithQuota(quota.TenantCurrentCount(), p.cfg.DefaultTenantQuota)
	}

	fileKey := newFileKey()

	v, err := p.selectVolume(ctx)
	if err != nil {
		quota.Decrement(directoryPath)
		return "", err.(*types.Error).WithTenant(tenantID).WithFileKey(fileKey)
	}

	physicalPath := volume.ShardedPath(v.MountPath(), tenantID, fileKey, v.ShardingDepth())
	if ok, err := pathsanitizer.IsWithin(v.MountPath(), physicalPath); err != nil || !ok {
		quota.Decrement(directoryPath)
		return "", fmt.Errorf("write %s: sharded path escapes volume mount", fileKey)
	}

	timer := metrics.NewTimer()
	written, err := v.Write(ctx, physicalPath, r)
	timer.ObserveDuration(metrics.WriteDuration)
	if err != nil {
		_ = v.Delete(ctx, physicalPath)
		quota.Decrement(directoryPath)
		return "", types.NewError(types.KindIOFault, "volume write failed", err).WithTenant(tenantID).WithFileKey(fileKey).WithVolume(v.ID())
	}

	rec := &types.FileRecord{
		FileKey:       fileKey,
		TenantID:      tenantID,
		VolumeID:      v.ID(),
		PhysicalPath:  physicalPath,
		DirectoryPath: directoryPath,
		FileSize:      written,
		Status:        types.StatusPending,
		CreatedAt:     time.Now(),
	}
	if err := meta.PutOrUpdate(rec); err != nil {
		return "", fmt.Errorf("write %s: persist metadata: %w", fileKey, err)
	}

	metrics.FilesWrittenTotal.WithLabelValues(tenantID).Inc()
	p.logger.Debug().Str("tenant_id", tenantID).Str("file_key", fileKey).Str("volume_id", v.ID()).Int64("bytes", written).Msg("wrote file")
	return fileKey, nil
}

func (p *StoragePool) recordFor(tenantID, fileKey string) (*types.FileRecord, error) {
	if _, err := p.enabledTenant(tenantID); err != nil {
		return nil, err
	}
	meta, _, err := p.ensureStores(tenantID)
	if err != nil {
		return nil, err
	}
	rec, err := meta.Get(fileKey)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", fileKey, err)
	}
	if rec == nil || rec.TenantID != tenantID {
		return nil, types.NewError(types.KindNotFound, "file not found", nil).WithTenant(tenantID).WithFileKey(fileKey)
	}
	return rec, nil
}

func (p *StoragePool) volumeByID(volumeID string) (volume.Volume, error) {
	for _, v := range p.volumes {
		if v.ID() == volumeID {
			return v, nil
		}
	}
	return nil, fmt.Errorf("volume %s not found", volumeID)
}

// Read opens a stream for an existing record. The caller must close the
// stream before calling Complete, or the physical delete may fail on
// platforms with mandatory file locking.
func (p *StoragePool) Read(ctx context.Context, tenantID, fileKey string) (io.ReadCloser, error) {
	rec, err := p.recordFor(tenantID, fileKey)
	if err != nil {
		return nil, err
	}
	v, err := p.volumeByID(rec.VolumeID)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileKey, err)
	}

	timer := metrics.NewTimer()
	rc, err := v.Read(ctx, rec.PhysicalPath)
	timer.ObserveDuration(metrics.ReadDuration)
	if err != nil {
		return nil, types.NewError(types.KindIOFault, "volume read failed", err).WithTenant(tenantID).WithFileKey(fileKey).WithVolume(v.ID())
	}
	return rc, nil
}

// Info returns a lightweight projection of a record, or nil if absent.
func (p *StoragePool) Info(tenantID, fileKey string) (*FileInfo, error) {
	rec, err := p.recordFor(tenantID, fileKey)
	if err != nil {
		if types.IsKind(err, types.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &FileInfo{FileKey: rec.FileKey, FileSize: rec.FileSize, CreatedAt: rec.CreatedAt, Status: rec.Status}, nil
}

// Location returns the full FileRecord for a tenant-owned file, or nil if
// absent.
func (p *StoragePool) Location(tenantID, fileKey string) (*types.FileRecord, error) {
	rec, err := p.recordFor(tenantID, fileKey)
	if err != nil {
		if types.IsKind(err, types.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// Claim delegates to the scheduler.
func (p *StoragePool) Claim(ctx context.Context, tenantID string) (*types.FileRecord, error) {
	return p.scheduler.Claim(ctx, tenantID)
}

// ClaimBatch delegates to the scheduler.
func (p *StoragePool) ClaimBatch(ctx context.Context, tenantID string, n int) ([]*types.FileRecord, error) {
	return p.scheduler.ClaimBatch(ctx, tenantID, n)
}

// Complete delegates to the scheduler.
func (p *StoragePool) Complete(ctx context.Context, tenantID, fileKey string) error {
	return p.scheduler.Complete(ctx, tenantID, fileKey)
}

// Fail delegates to the scheduler.
func (p *StoragePool) Fail(ctx context.Context, tenantID, fileKey, errMessage string) error {
	return p.scheduler.Fail(ctx, tenantID, fileKey, errMessage)
}

// Status delegates to the scheduler.
func (p *StoragePool) Status(tenantID, fileKey string) (types.FileStatus, error) {
	return p.scheduler.Status(tenantID, fileKey)
}

// TotalCapacity sums every volume's total byte capacity.
func (p *StoragePool) TotalCapacity() (int64, error) {
	var total int64
	for _, v := range p.volumes {
		t, err := v.TotalCapacity()
		if err != nil {
			return 0, fmt.Errorf("total capacity of volume %s: %w", v.ID(), err)
		}
		total += t
	}
	return total, nil
}

// AvailableSpace sums available bytes over healthy volumes.
func (p *StoragePool) AvailableSpace(ctx context.Context) (int64, error) {
	var avail int64
	for _, v := range p.volumes {
		if !v.IsHealthy(ctx) {
			continue
		}
		a, err := v.AvailableSpace()
		if err != nil {
			return 0, fmt.Errorf("available space of volume %s: %w", v.ID(), err)
		}
		avail += a
	}
	return avail, nil
}
