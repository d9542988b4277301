package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/brineio/silo/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketFiles = []byte("files")

// isActiveStatus reports whether status is one the in-memory cache holds. Completed
// records are deleted synchronously and never cached.
func isActiveStatus(status types.FileStatus) bool {
	switch status {
	case types.StatusPending, types.StatusProcessing, types.StatusFailed, types.StatusPermanentlyFailed:
		return true
	default:
		return false
	}
}

// MetadataStore is the durable FileKey -> FileRecord map for one tenant,
// fronted by an in-memory active-set cache that is the source of truth for
// reads during the process's lifetime. Every mutation writes through to the
// underlying database before the cache is updated.
type MetadataStore struct {
	tenantID string
	db       *bolt.DB

	mu    sync.Mutex
	cache map[string]*types.FileRecord
}

// NewMetadataStore opens (or creates) {dataDir}/{tenantId}.db and preloads
// the active-set cache from every non-Completed record it contains.
func NewMetadataStore(dataDir, tenantID string) (*MetadataStore, error) {
	dbPath := filepath.Join(dataDir, tenantID+".db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open metadata db for tenant %s: %w", tenantID, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFiles)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create files bucket for tenant %s: %w", tenantID, err)
	}

	s := &MetadataStore{
		tenantID: tenantID,
		db:       db,
		cache:    make(map[string]*types.FileRecord),
	}

	if err := s.loadActiveSet(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *MetadataStore) loadActiveSet() error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		return b.ForEach(func(k, v []byte) error {
			var rec types.FileRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode record %s: %w", k, err)
			}
			if isActiveStatus(rec.Status) {
				s.cache[rec.FileKey] = &rec
			}
			return nil
		})
	})
}

// Close closes the underlying database.
func (s *MetadataStore) Close() error {
	return s.db.Close()
}

func (s *MetadataStore) put(tx *bolt.Tx, rec *types.FileRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.FileKey, err)
	}
	return tx.Bucket(bucketFiles).Put([]byte(rec.FileKey), data)
}

// PutOrUpdate persists rec and updates the active-set cache atomically with
// the database write.
func (s *MetadataStore) PutOrUpdate(rec *types.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Update(func(tx *bolt.Tx) error {
		return s.put(tx, rec)
	}); err != nil {
		return fmt.Errorf("put record %s: %w", rec.FileKey, err)
	}

	if isActiveStatus(rec.Status) {
		s.cache[rec.FileKey] = rec
	} else {
		delete(s.cache, rec.FileKey)
	}
	return nil
}

// Get returns the record for fileKey, cache-first. On a cache miss it loads
// from the database and caches the result only if the record is still
// active.
func (s *MetadataStore) Get(fileKey string) (*types.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.cache[fileKey]; ok {
		return rec, nil
	}

	var rec *types.FileRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFiles).Get([]byte(fileKey))
		if data == nil {
			return nil
		}
		var r types.FileRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("decode record %s: %w", fileKey, err)
		}
		rec = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	if isActiveStatus(rec.Status) {
		s.cache[fileKey] = rec
	}
	return rec, nil
}

// Delete removes fileKey from the database and the cache.
func (s *MetadataStore) Delete(fileKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).Delete([]byte(fileKey))
	}); err != nil {
		return fmt.Errorf("delete record %s: %w", fileKey, err)
	}
	delete(s.cache, fileKey)
	return nil
}

func orderByCreatedThenKey(recs []*types.FileRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].FileKey < recs[j].FileKey
	})
}

// FindPending returns up to limit ready-pending records, oldest first, ties
// broken by fileKey. limit <= 0 means unbounded.
func (s *MetadataStore) FindPending(limit int, now time.Time) []*types.FileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []*types.FileRecord
	for _, rec := range s.cache {
		if rec.Ready(now) {
			ready = append(ready, rec)
		}
	}
	orderByCreatedThenKey(ready)

	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	return ready
}

// ClaimNextPending atomically transitions the oldest ready pending record to
// Processing and returns it. This is the serialization point for the queue:
// the whole read-modify-write happens under the store's single mutex, so two
// concurrent callers can never observe and claim the same record.
func (s *MetadataStore) ClaimNextPending(now time.Time) (*types.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *types.FileRecord
	for _, rec := range s.cache {
		if !rec.Ready(now) {
			continue
		}
		if best == nil {
			best = rec
			continue
		}
		if rec.CreatedAt.Before(best.CreatedAt) {
			best = rec
			continue
		}
		if rec.CreatedAt.Equal(best.CreatedAt) && rec.FileKey < best.FileKey {
			best = rec
		}
	}
	if best == nil {
		return nil, nil
	}

	claimed := *best
	claimed.Status = types.StatusProcessing
	claimed.ProcessingStartedAt = &now

	if err := s.db.Update(func(tx *bolt.Tx) error {
		return s.put(tx, &claimed)
	}); err != nil {
		return nil, fmt.Errorf("claim record %s: %w", claimed.FileKey, err)
	}

	s.cache[claimed.FileKey] = &claimed
	return &claimed, nil
}

// FindTimedOut returns records stuck in Processing since before now-threshold.
func (s *MetadataStore) FindTimedOut(now time.Time, threshold time.Duration) []*types.FileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-threshold)
	var out []*types.FileRecord
	for _, rec := range s.cache {
		if rec.Status == types.StatusProcessing && rec.ProcessingStartedAt != nil && rec.ProcessingStartedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	orderByCreatedThenKey(out)
	return out
}

// FindAgedPermanentFailures returns PermanentlyFailed records whose
// lastFailedAt is older than now-minAge.
func (s *MetadataStore) FindAgedPermanentFailures(now time.Time, minAge time.Duration) []*types.FileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-minAge)
	var out []*types.FileRecord
	for _, rec := range s.cache {
		if rec.Status == types.StatusPermanentlyFailed && rec.LastFailedAt != nil && rec.LastFailedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	orderByCreatedThenKey(out)
	return out
}

// Compact rebuilds the database file by copying every key into a fresh
// file and swapping it in, reclaiming the free pages bbolt's
// copy-on-write allocator leaves behind after heavy churn. Best-effort:
// Maintenance logs but does not fail its cycle if this errors.
func (s *MetadataStore) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.db.Path()
	compactPath := path + ".compact"

	fresh, err := bolt.Open(compactPath, 0o600, nil)
	if err != nil {
		return fmt.Errorf("open compaction target: %w", err)
	}

	copyErr := s.db.View(func(tx *bolt.Tx) error {
		return fresh.Update(func(ftx *bolt.Tx) error {
			dst, err := ftx.CreateBucketIfNotExists(bucketFiles)
			if err != nil {
				return err
			}
			return tx.Bucket(bucketFiles).ForEach(func(k, v []byte) error {
				return dst.Put(append([]byte(nil), k...), append([]byte(nil), v...))
			})
		})
	})
	if closeErr := fresh.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(compactPath)
		return fmt.Errorf("compact metadata store: %w", copyErr)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(compactPath)
		return fmt.Errorf("close metadata store before swap: %w", err)
	}
	if err := os.Rename(compactPath, path); err != nil {
		return fmt.Errorf("swap compacted metadata store: %w", err)
	}

	reopened, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return fmt.Errorf("reopen metadata store after compaction: %w", err)
	}
	s.db = reopened
	return nil
}

// Count returns the number of cached records whose status satisfies predicate.
func (s *MetadataStore) Count(predicate func(types.FileStatus) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, rec := range s.cache {
		if predicate(rec.Status) {
			n++
		}
	}
	return n
}
