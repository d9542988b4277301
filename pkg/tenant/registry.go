package tenant

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/brineio/silo/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketTenants = []byte("tenants")

type cacheEntry struct {
	rec       *types.TenantRecord
	expiresAt time.Time
}

// Registry is the durable TenantId -> TenantRecord map, fronted by a
// TTL-expiring read cache that is invalidated on every write.
type Registry struct {
	db                *bolt.DB
	cacheTTL          time.Duration
	autoCreate        bool
	storagePathPrefix func(tenantID string) string

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithAutoCreate enables implicit tenant creation on first GetTenant miss.
func WithAutoCreate(enabled bool) Option {
	return func(r *Registry) { r.autoCreate = enabled }
}

// WithCacheTTL overrides the default 5-minute cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.cacheTTL = ttl }
}

const defaultCacheTTL = 5 * time.Minute

// NewRegistry opens (or creates) {dataDir}/tenants.db.
func NewRegistry(dataDir string, opts ...Option) (*Registry, error) {
	dbPath := filepath.Join(dataDir, "tenants.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open tenant registry: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTenants)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tenants bucket: %w", err)
	}

	r := &Registry{
		db:                db,
		cacheTTL:          defaultCacheTTL,
		cache:             make(map[string]cacheEntry),
		storagePathPrefix: func(tenantID string) string { return tenantID },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

func (r *Registry) persist(tx *bolt.Tx, rec *types.TenantRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal tenant %s: %w", rec.TenantID, err)
	}
	return tx.Bucket(bucketTenants).Put([]byte(rec.TenantID), data)
}

func (r *Registry) loadFromDisk(tenantID string) (*types.TenantRecord, error) {
	var rec *types.TenantRecord
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTenants).Get([]byte(tenantID))
		if data == nil {
			return nil
		}
		var t types.TenantRecord
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("decode tenant %s: %w", tenantID, err)
		}
		rec = &t
		return nil
	})
	return rec, err
}

// invalidate must be called with mu held.
func (r *Registry) invalidate(tenantID string) {
	delete(r.cache, tenantID)
}

// GetTenant returns the cached record on a fresh hit; on a miss (or expiry)
// it loads from disk. If the tenant does not exist and auto-create is
// enabled, it is created with Enabled status and the load retried.
func (r *Registry) GetTenant(tenantID string) (*types.TenantRecord, error) {
	r.mu.Lock()
	if entry, ok := r.cache[tenantID]; ok && time.Now().Before(entry.expiresAt) {
		r.mu.Unlock()
		return entry.rec, nil
	}
	r.mu.Unlock()

	rec, err := r.loadFromDisk(tenantID)
	if err != nil {
		return nil, err
	}

	if rec == nil {
		if !r.autoCreate {
			return nil, nil
		}
		_, createErr := r.CreateTenant(tenantID)
		rec, err = r.loadFromDisk(tenantID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("auto-create tenant %s: %w", tenantID, createErr)
		}
	}

	r.mu.Lock()
	r.cache[tenantID] = cacheEntry{rec: rec, expiresAt: time.Now().Add(r.cacheTTL)}
	r.mu.Unlock()
	return rec, nil
}

// CreateTenant creates tenantID with Enabled status. It fails if the tenant
// already exists; callers that want idempotent creation must check
// GetTenant first.
func (r *Registry) CreateTenant(tenantID string) (*types.TenantRecord, error) {
	existing, err := r.loadFromDisk(tenantID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("tenant %s already exists", tenantID)
	}

	now := time.Now()
	rec := &types.TenantRecord{
		TenantID:          tenantID,
		Status:            types.TenantEnabled,
		StoragePathPrefix: r.storagePathPrefix(tenantID),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := r.db.Update(func(tx *bolt.Tx) error {
		return r.persist(tx, rec)
	}); err != nil {
		return nil, fmt.Errorf("create tenant %s: %w", tenantID, err)
	}

	r.mu.Lock()
	r.cache[tenantID] = cacheEntry{rec: rec, expiresAt: time.Now().Add(r.cacheTTL)}
	r.mu.Unlock()
	return rec, nil
}

func (r *Registry) setStatus(tenantID string, status types.TenantStatus) (*types.TenantRecord, error) {
	rec, err := r.loadFromDisk(tenantID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("tenant %s not found", tenantID)
	}

	rec.Status = status
	rec.UpdatedAt = time.Now()

	if err := r.db.Update(func(tx *bolt.Tx) error {
		return r.persist(tx, rec)
	}); err != nil {
		return nil, fmt.Errorf("update tenant %s: %w", tenantID, err)
	}

	r.mu.Lock()
	r.invalidate(tenantID)
	r.mu.Unlock()
	return rec, nil
}

// EnableTenant sets tenantID's status to Enabled.
func (r *Registry) EnableTenant(tenantID string) (*types.TenantRecord, error) {
	return r.setStatus(tenantID, types.TenantEnabled)
}

// DisableTenant sets tenantID's status to Disabled.
func (r *Registry) DisableTenant(tenantID string) (*types.TenantRecord, error) {
	return r.setStatus(tenantID, types.TenantDisabled)
}

// SuspendTenant sets tenantID's status to Suspended.
func (r *Registry) SuspendTenant(tenantID string) (*types.TenantRecord, error) {
	return r.setStatus(tenantID, types.TenantSuspended)
}

// ListTenants returns every tenant record, unordered.
func (r *Registry) ListTenants() ([]*types.TenantRecord, error) {
	var out []*types.TenantRecord
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTenants).ForEach(func(k, v []byte) error {
			var rec types.TenantRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode tenant %s: %w", k, err)
			}
			out = append(out, &rec)
			return nil
		})
	})
	return out, err
}
