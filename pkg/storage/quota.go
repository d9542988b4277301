package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/brineio/silo/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketDirectoryQuotas = []byte("directory_quotas")
	bucketTenantQuota     = []byte("tenant_quota")
)

const tenantQuotaKey = "total"

// QuotaStore is the durable DirectoryPath -> (count, limit) table for one
// tenant, plus a tenant-total counter. Contention discipline: one fair mutex
// per directory plus one for the tenant total, acquired tenant-then-directory
// so TryIncrement and Decrement never deadlock against each other.
type QuotaStore struct {
	tenantID string
	db       *bolt.DB

	tenantMu sync.Mutex
	tenant   *types.TenantQuota

	dirMu sync.Mutex // guards creation of per-dir locks and the dirs map below
	dirs  map[string]*dirQuotaEntry
}

type dirQuotaEntry struct {
	mu    sync.Mutex
	quota *types.DirectoryQuota
}

// NewQuotaStore opens (or creates) {dataDir}/{tenantId}-quotas.db.
func NewQuotaStore(dataDir, tenantID string) (*QuotaStore, error) {
	dbPath := filepath.Join(dataDir, tenantID+"-quotas.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open quota db for tenant %s: %w", tenantID, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDirectoryQuotas); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketTenantQuota)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create quota buckets for tenant %s: %w", tenantID, err)
	}

	s := &QuotaStore{
		tenantID: tenantID,
		db:       db,
		dirs:     make(map[string]*dirQuotaEntry),
	}

	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *QuotaStore) load() error {
	return s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketTenantQuota).Get([]byte(tenantQuotaKey)); data != nil {
			var q types.TenantQuota
			if err := json.Unmarshal(data, &q); err != nil {
				return fmt.Errorf("decode tenant quota: %w", err)
			}
			s.tenant = &q
		}

		b := tx.Bucket(bucketDirectoryQuotas)
		return b.ForEach(func(k, v []byte) error {
			var q types.DirectoryQuota
			if err := json.Unmarshal(v, &q); err != nil {
				return fmt.Errorf("decode directory quota %s: %w", k, err)
			}
			s.dirs[q.DirectoryPath] = &dirQuotaEntry{quota: &q}
			return nil
		})
	})
}

// Close closes the underlying database.
func (s *QuotaStore) Close() error {
	return s.db.Close()
}

func (s *QuotaStore) persistTenant(tx *bolt.Tx, q *types.TenantQuota) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal tenant quota: %w", err)
	}
	return tx.Bucket(bucketTenantQuota).Put([]byte(tenantQuotaKey), data)
}

func (s *QuotaStore) persistDir(tx *bolt.Tx, q *types.DirectoryQuota) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal directory quota %s: %w", q.DirectoryPath, err)
	}
	return tx.Bucket(bucketDirectoryQuotas).Put([]byte(q.DirectoryPath), data)
}

// dirEntry returns the lock+row for dir, creating an unlimited zero-count row
// under dirMu if this is the first time dir has been touched.
func (s *QuotaStore) dirEntry(dir string) *dirQuotaEntry {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	e, ok := s.dirs[dir]
	if !ok {
		e = &dirQuotaEntry{quota: &types.DirectoryQuota{TenantID: s.tenantID, DirectoryPath: dir}}
		s.dirs[dir] = e
	}
	return e
}

// TryIncrement atomically increments the tenant-total and the (tenantId,dir)
// counters, checking the tenant limit before the directory limit. A
// successful tenant-level increment is rolled back if the directory check
// then fails. tenantLimit/dirLimit seed a counter row's limit the first time
// it is touched; they are ignored on subsequent calls against an existing
// row (limits are set once, at tenant/directory creation).
func (s *QuotaStore) TryIncrement(dir string, tenantLimit, dirLimit int64) (bool, error) {
	s.tenantMu.Lock()
	defer s.tenantMu.Unlock()

	if s.tenant == nil {
		s.tenant = &types.TenantQuota{TenantID: s.tenantID, Limit: tenantLimit}
	}
	if s.tenant.Exceeded() {
		return false, nil
	}

	s.tenant.CurrentCount++
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return s.persistTenant(tx, s.tenant)
	}); err != nil {
		s.tenant.CurrentCount--
		return false, fmt.Errorf("increment tenant quota: %w", err)
	}

	entry := s.dirEntry(dir)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.quota.Limit == 0 && dirLimit != 0 {
		entry.quota.Limit = dirLimit
	}
	if entry.quota.Exceeded() {
		s.rollbackTenant()
		return false, nil
	}

	entry.quota.CurrentCount++
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return s.persistDir(tx, entry.quota)
	}); err != nil {
		entry.quota.CurrentCount--
		s.rollbackTenant()
		return false, fmt.Errorf("increment directory quota %s: %w", dir, err)
	}

	return true, nil
}

// rollbackTenant undoes the tenant-level increment made by TryIncrement when
// the directory check fails. Caller must hold tenantMu.
func (s *QuotaStore) rollbackTenant() {
	s.tenant.CurrentCount--
	if s.tenant.CurrentCount < 0 {
		s.tenant.CurrentCount = 0
	}
	_ = s.db.Update(func(tx *bolt.Tx) error {
		return s.persistTenant(tx, s.tenant)
	})
}

// Decrement lowers both the tenant-total and the (tenantId,dir) counters,
// saturating at zero. Decrementing an unknown directory is a no-op.
func (s *QuotaStore) Decrement(dir string) error {
	s.tenantMu.Lock()
	if s.tenant != nil && s.tenant.CurrentCount > 0 {
		s.tenant.CurrentCount--
		if err := s.db.Update(func(tx *bolt.Tx) error {
			return s.persistTenant(tx, s.tenant)
		}); err != nil {
			s.tenantMu.Unlock()
			return fmt.Errorf("decrement tenant quota: %w", err)
		}
	}
	s.tenantMu.Unlock()

	s.dirMu.Lock()
	entry, ok := s.dirs[dir]
	s.dirMu.Unlock()
	if !ok {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.quota.CurrentCount == 0 {
		return nil
	}
	entry.quota.CurrentCount--
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return s.persistDir(tx, entry.quota)
	}); err != nil {
		entry.quota.CurrentCount++
		return fmt.Errorf("decrement directory quota %s: %w", dir, err)
	}
	return nil
}

// Compact rebuilds the quota database file by copying both buckets into a
// fresh file and swapping it in. Held under both the tenant and directory
// locks so no counter mutation races the swap.
func (s *QuotaStore) Compact() error {
	s.tenantMu.Lock()
	defer s.tenantMu.Unlock()
	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	path := s.db.Path()
	compactPath := path + ".compact"

	fresh, err := bolt.Open(compactPath, 0o600, nil)
	if err != nil {
		return fmt.Errorf("open compaction target: %w", err)
	}

	copyErr := s.db.View(func(tx *bolt.Tx) error {
		return fresh.Update(func(ftx *bolt.Tx) error {
			dstDirs, err := ftx.CreateBucketIfNotExists(bucketDirectoryQuotas)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketDirectoryQuotas).ForEach(func(k, v []byte) error {
				return dstDirs.Put(append([]byte(nil), k...), append([]byte(nil), v...))
			}); err != nil {
				return err
			}

			dstTenant, err := ftx.CreateBucketIfNotExists(bucketTenantQuota)
			if err != nil {
				return err
			}
			return tx.Bucket(bucketTenantQuota).ForEach(func(k, v []byte) error {
				return dstTenant.Put(append([]byte(nil), k...), append([]byte(nil), v...))
			})
		})
	})
	if closeErr := fresh.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(compactPath)
		return fmt.Errorf("compact quota store: %w", copyErr)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(compactPath)
		return fmt.Errorf("close quota store before swap: %w", err)
	}
	if err := os.Rename(compactPath, path); err != nil {
		return fmt.Errorf("swap compacted quota store: %w", err)
	}

	reopened, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return fmt.Errorf("reopen quota store after compaction: %w", err)
	}
	s.db = reopened
	return nil
}

// TenantCurrentCount is a read-only query; it does not take the tenant mutex.
func (s *QuotaStore) TenantCurrentCount() int64 {
	if s.tenant == nil {
		return 0
	}
	return s.tenant.CurrentCount
}

// DirectoryCurrentCount is a read-only query; it takes only the directory map
// lock, not the per-directory row mutex.
func (s *QuotaStore) DirectoryCurrentCount(dir string) int64 {
	s.dirMu.Lock()
	entry, ok := s.dirs[dir]
	s.dirMu.Unlock()
	if !ok {
		return 0
	}
	return entry.quota.CurrentCount
}
