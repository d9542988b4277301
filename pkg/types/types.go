package types

import "time"

// TenantRecord is the persisted identity and status of a tenant.
type TenantRecord struct {
	TenantID          string
	Status            TenantStatus
	StoragePathPrefix string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TenantStatus represents the lifecycle state of a tenant.
type TenantStatus string

const (
	TenantEnabled   TenantStatus = "enabled"
	TenantDisabled  TenantStatus = "disabled"
	TenantSuspended TenantStatus = "suspended"
)

// FileRecord is the metadata row tracking one queued file end to end.
type FileRecord struct {
	FileKey             string
	TenantID            string
	VolumeID            string
	PhysicalPath        string
	DirectoryPath       string
	FileSize            int64
	Status              FileStatus
	RetryCount          uint32
	AvailableAt         *time.Time
	ProcessingStartedAt *time.Time
	LastFailedAt        *time.Time
	LastError           string
	CreatedAt           time.Time
}

// FileStatus represents the lifecycle state of a queued file.
type FileStatus string

const (
	StatusPending           FileStatus = "pending"
	StatusProcessing        FileStatus = "processing"
	StatusCompleted         FileStatus = "completed"
	StatusFailed            FileStatus = "failed"
	StatusPermanentlyFailed FileStatus = "permanently_failed"
)

// Ready reports whether the record is eligible for claim at the given time.
func (f *FileRecord) Ready(now time.Time) bool {
	if f.Status != StatusPending {
		return false
	}
	return f.AvailableAt == nil || !f.AvailableAt.After(now)
}

// DirectoryQuota tracks how many active files a tenant has under one
// logical directory path.
type DirectoryQuota struct {
	TenantID      string
	DirectoryPath string
	CurrentCount  int64
	Limit         int64 // 0 = unlimited
}

// Exceeded reports whether incrementing the counter would breach the limit.
func (d *DirectoryQuota) Exceeded() bool {
	return d.Limit > 0 && d.CurrentCount >= d.Limit
}

// TenantQuota tracks a tenant's aggregate active-file count, independent of
// directory.
type TenantQuota struct {
	TenantID     string
	CurrentCount int64
	Limit        int64 // 0 = unlimited
}

// Exceeded reports whether incrementing the counter would breach the limit.
func (t *TenantQuota) Exceeded() bool {
	return t.Limit > 0 && t.CurrentCount >= t.Limit
}
