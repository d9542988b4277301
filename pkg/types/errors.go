package types

import "fmt"

// Kind classifies a storage-pool error so callers can branch on cause
// without parsing messages.
type Kind string

const (
	KindTenantNotFound         Kind = "tenant_not_found"
	KindTenantDisabled         Kind = "tenant_disabled"
	KindTenantQuotaExceeded    Kind = "tenant_quota_exceeded"
	KindDirectoryQuotaExceeded Kind = "directory_quota_exceeded"
	KindNotFound               Kind = "not_found"
	KindNoHealthyVolume        Kind = "no_healthy_volume"
	KindIOFault                Kind = "io_fault"
	KindCorruption             Kind = "corruption"
	KindCancelled              Kind = "cancelled"
	// KindAlreadyInProcessing marks an attempt to complete/fail a record that
	// is not currently in the Processing state (already completed, or not
	// yet (re-)claimed), so the operation has nothing to act on.
	KindAlreadyInProcessing Kind = "already_in_processing"
	KindNoFilesAvailable    Kind = "no_files_available"
)

// Error is the structured error type returned by pool and scheduler
// operations. Context fields are populated as available; zero
// values mean "not applicable" rather than "unknown".
type Error struct {
	Kind     Kind
	TenantID string
	FileKey  string
	VolumeID string
	Current  int64
	Limit    int64
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.TenantID != "" {
		msg = fmt.Sprintf("%s: tenant=%s", msg, e.TenantID)
	}
	if e.FileKey != "" {
		msg = fmt.Sprintf("%s file=%s", msg, e.FileKey)
	}
	if e.VolumeID != "" {
		msg = fmt.Sprintf("%s volume=%s", msg, e.VolumeID)
	}
	if e.Limit > 0 {
		msg = fmt.Sprintf("%s (%d/%d)", msg, e.Current, e.Limit)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is comparisons against a bare Kind sentinel created via
// NewKind, so callers can write errors.Is(err, types.NewKind(types.KindNotFound)).
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	if te.Cause != nil || te.TenantID != "" || te.FileKey != "" {
		return false
	}
	return e.Kind == te.Kind
}

// NewKind returns a bare sentinel error carrying only a Kind, suitable for
// errors.Is comparisons.
func NewKind(kind Kind) *Error {
	return &Error{Kind: kind}
}

// NewError constructs an Error of the given kind with an explanatory
// message and optional wrapped cause.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithTenant returns a copy of the error annotated with a tenant ID.
func (e *Error) WithTenant(tenantID string) *Error {
	clone := *e
	clone.TenantID = tenantID
	return &clone
}

// WithFileKey returns a copy of the error annotated with a file key.
func (e *Error) WithFileKey(fileKey string) *Error {
	clone := *e
	clone.FileKey = fileKey
	return &clone
}

// WithVolume returns a copy of the error annotated with a volume ID.
func (e *Error) WithVolume(volumeID string) *Error {
	clone := *e
	clone.VolumeID = volumeID
	return &clone
}

// WithQuota returns a copy of the error annotated with current/limit quota
// counters.
func (e *Error) WithQuota(current, limit int64) *Error {
	clone := *e
	clone.Current = current
	clone.Limit = limit
	return &clone
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}
