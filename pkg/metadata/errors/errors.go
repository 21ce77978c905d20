// Package errors provides error types and error codes for the metadata package.
// This is a leaf package with no internal dependencies, designed to be imported
// by both the lock package and metadata store implementations without causing
// circular imports.
//
// Import graph: errors <- lock <- metadata <- store implementations
package errors

import (
	"fmt"
	"syscall"
)

// ErrorCode represents the type of error that occurred.
type ErrorCode int

const (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound ErrorCode = iota + 1

	// ErrAccessDenied indicates permission bit violations (POSIX EACCES).
	// Used when the caller lacks the required read/write/execute permission bits.
	ErrAccessDenied

	// ErrAuthRequired indicates authentication is required but not provided.
	ErrAuthRequired

	// ErrPermissionDenied indicates operation not permitted (POSIX EPERM).
	// Used when the operation requires ownership or root privileges.
	ErrPermissionDenied

	// ErrAlreadyExists indicates the resource already exists.
	ErrAlreadyExists

	// ErrNotEmpty indicates directory is not empty.
	ErrNotEmpty

	// ErrIsDirectory indicates operation not valid on directory.
	ErrIsDirectory

	// ErrNotDirectory indicates operation requires a directory.
	ErrNotDirectory

	// ErrInvalidArgument indicates an invalid argument was provided.
	ErrInvalidArgument

	// ErrIOError indicates an I/O error occurred.
	ErrIOError

	// ErrNoSpace indicates no space is available.
	ErrNoSpace

	// ErrQuotaExceeded indicates quota has been exceeded.
	ErrQuotaExceeded

	// ErrReadOnly indicates operation failed because filesystem is read-only.
	ErrReadOnly

	// ErrNotSupported indicates operation is not supported by implementation.
	ErrNotSupported

	// ErrInvalidHandle indicates the file handle is invalid.
	ErrInvalidHandle

	// ErrStaleHandle indicates the file handle is valid but stale.
	ErrStaleHandle

	// ErrLocked indicates the resource is locked.
	ErrLocked

	// ErrLockNotFound indicates the specified lock does not exist.
	ErrLockNotFound

	// ErrPrivilegeRequired indicates elevated privileges are required.
	ErrPrivilegeRequired

	// ErrNameTooLong indicates the name exceeds maximum length.
	ErrNameTooLong

	// ErrDeadlock indicates a deadlock would occur.
	ErrDeadlock

	// ErrGracePeriod indicates operation blocked by grace period.
	ErrGracePeriod

	// ErrLockLimitExceeded indicates lock limits have been exceeded.
	ErrLockLimitExceeded

	// ErrLockConflict indicates a lock conflict (enhanced lock types).
	ErrLockConflict

	// ErrConnectionLimitReached indicates connection limit has been reached.
	ErrConnectionLimitReached

	// ErrSplitBrain indicates a replica set has no readable copy because every
	// up child accuses every other up child (data or metadata split-brain).
	ErrSplitBrain

	// ErrQuorumFailed indicates a transaction could not reach the configured
	// quorum count of replies and was rolled back without applying pending markers.
	ErrQuorumFailed

	// ErrStaleTopology indicates a cached read/write subvolume decision was
	// taken under an event generation that has since advanced and must be
	// recomputed before the operation can proceed.
	ErrStaleTopology

	// ErrFenced indicates an fd was marked bad after its replica lost quorum
	// while holding open locks; further use of the fd is refused without
	// attempting to unlock the stale grants.
	ErrFenced

	// ErrLockHealAbandoned indicates a saved lock could not be replayed during
	// lock-heal because a conflicting grant was observed on the brick, or the
	// heal record's owner no longer matches what F_GETLK reports.
	ErrLockHealAbandoned
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrNotFound:
		return "NotFound"
	case ErrAccessDenied:
		return "AccessDenied"
	case ErrAuthRequired:
		return "AuthRequired"
	case ErrPermissionDenied:
		return "PermissionDenied"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrNotEmpty:
		return "NotEmpty"
	case ErrIsDirectory:
		return "IsDirectory"
	case ErrNotDirectory:
		return "NotDirectory"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrIOError:
		return "IOError"
	case ErrNoSpace:
		return "NoSpace"
	case ErrQuotaExceeded:
		return "QuotaExceeded"
	case ErrReadOnly:
		return "ReadOnly"
	case ErrNotSupported:
		return "NotSupported"
	case ErrInvalidHandle:
		return "InvalidHandle"
	case ErrStaleHandle:
		return "StaleHandle"
	case ErrLocked:
		return "Locked"
	case ErrLockNotFound:
		return "LockNotFound"
	case ErrPrivilegeRequired:
		return "PrivilegeRequired"
	case ErrNameTooLong:
		return "NameTooLong"
	case ErrDeadlock:
		return "Deadlock"
	case ErrGracePeriod:
		return "GracePeriod"
	case ErrLockLimitExceeded:
		return "LockLimitExceeded"
	case ErrLockConflict:
		return "LockConflict"
	case ErrConnectionLimitReached:
		return "ConnectionLimitReached"
	case ErrSplitBrain:
		return "SplitBrain"
	case ErrQuorumFailed:
		return "QuorumFailed"
	case ErrStaleTopology:
		return "StaleTopology"
	case ErrFenced:
		return "Fenced"
	case ErrLockHealAbandoned:
		return "LockHealAbandoned"
	default:
		return fmt.Sprintf("Unknown(%d)", e)
	}
}

// Errno maps an error code to the POSIX errno a caller embedding this
// replication layer under a filesystem entrypoint (FUSE, NFS, a syscall
// shim) would surface to userspace. Codes with no natural errno equivalent
// map to syscall.EIO, the conservative default used throughout for
// unexpected internal failure.
func (e ErrorCode) Errno() syscall.Errno {
	switch e {
	case ErrNotFound, ErrLockNotFound:
		return syscall.ENOENT
	case ErrAccessDenied:
		return syscall.EACCES
	case ErrAuthRequired, ErrPrivilegeRequired:
		return syscall.EPERM
	case ErrPermissionDenied:
		return syscall.EPERM
	case ErrAlreadyExists:
		return syscall.EEXIST
	case ErrNotEmpty:
		return syscall.ENOTEMPTY
	case ErrIsDirectory:
		return syscall.EISDIR
	case ErrNotDirectory:
		return syscall.ENOTDIR
	case ErrInvalidArgument:
		return syscall.EINVAL
	case ErrIOError:
		return syscall.EIO
	case ErrNoSpace:
		return syscall.ENOSPC
	case ErrQuotaExceeded:
		return syscall.EDQUOT
	case ErrReadOnly:
		return syscall.EROFS
	case ErrNotSupported:
		return syscall.ENOTSUP
	case ErrInvalidHandle:
		return syscall.EBADF
	case ErrStaleHandle:
		return syscall.ESTALE
	case ErrLocked, ErrLockConflict:
		return syscall.EAGAIN
	case ErrDeadlock:
		return syscall.EDEADLK
	case ErrGracePeriod:
		return syscall.EAGAIN
	case ErrLockLimitExceeded:
		return syscall.ENOLCK
	case ErrConnectionLimitReached:
		return syscall.ENOTCONN
	case ErrSplitBrain:
		return syscall.ENODATA
	case ErrQuorumFailed:
		return syscall.ENOTCONN
	case ErrStaleTopology:
		return syscall.ESTALE
	case ErrFenced:
		return syscall.EBADFD
	case ErrLockHealAbandoned:
		return syscall.EAGAIN
	default:
		return syscall.EIO
	}
}

// StoreError represents a metadata store error with an error code.
type StoreError struct {
	Code    ErrorCode
	Message string
	Path    string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path: %s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ============================================================================
// Generic Factory Functions (no lock type dependencies)
// ============================================================================

// NewNotFoundError creates a NotFound error.
func NewNotFoundError(path, resourceType string) *StoreError {
	return &StoreError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resourceType),
		Path:    path,
	}
}

// NewPermissionDeniedError creates a PermissionDenied error.
func NewPermissionDeniedError(path string) *StoreError {
	return &StoreError{
		Code:    ErrPermissionDenied,
		Message: "permission denied",
		Path:    path,
	}
}

// NewIsDirectoryError creates an IsDirectory error.
func NewIsDirectoryError(path string) *StoreError {
	return &StoreError{
		Code:    ErrIsDirectory,
		Message: "is a directory",
		Path:    path,
	}
}

// NewNotDirectoryError creates a NotDirectory error.
func NewNotDirectoryError(path string) *StoreError {
	return &StoreError{
		Code:    ErrNotDirectory,
		Message: "not a directory",
		Path:    path,
	}
}

// NewInvalidHandleError creates an InvalidHandle error.
func NewInvalidHandleError() *StoreError {
	return &StoreError{
		Code:    ErrInvalidHandle,
		Message: "invalid file handle",
	}
}

// NewNotEmptyError creates a NotEmpty error.
func NewNotEmptyError(path string) *StoreError {
	return &StoreError{
		Code:    ErrNotEmpty,
		Message: "directory not empty",
		Path:    path,
	}
}

// NewAlreadyExistsError creates an AlreadyExists error.
func NewAlreadyExistsError(path string) *StoreError {
	return &StoreError{
		Code:    ErrAlreadyExists,
		Message: "already exists",
		Path:    path,
	}
}

// NewInvalidArgumentError creates an InvalidArgument error.
func NewInvalidArgumentError(message string) *StoreError {
	return &StoreError{
		Code:    ErrInvalidArgument,
		Message: message,
	}
}

// NewAccessDeniedError creates an AccessDenied error.
func NewAccessDeniedError(reason string) *StoreError {
	return &StoreError{
		Code:    ErrAccessDenied,
		Message: reason,
	}
}

// NewQuotaExceededError creates a QuotaExceeded error.
func NewQuotaExceededError(path string) *StoreError {
	return &StoreError{
		Code:    ErrQuotaExceeded,
		Message: "disk quota exceeded",
		Path:    path,
	}
}

// NewPrivilegeRequiredError creates a PrivilegeRequired error.
func NewPrivilegeRequiredError(operation string) *StoreError {
	return &StoreError{
		Code:    ErrPrivilegeRequired,
		Message: fmt.Sprintf("operation requires root privileges: %s", operation),
	}
}

// NewNameTooLongError creates a NameTooLong error.
func NewNameTooLongError(path string) *StoreError {
	return &StoreError{
		Code:    ErrNameTooLong,
		Message: "name too long",
		Path:    path,
	}
}

// NewConnectionLimitError creates a connection limit exceeded error.
func NewConnectionLimitError(adapterType string, limit int) *StoreError {
	return &StoreError{
		Code:    ErrConnectionLimitReached,
		Message: fmt.Sprintf("connection limit reached for %s adapter (max: %d)", adapterType, limit),
	}
}

// NewSplitBrainError creates a SplitBrain error for a path with no readable copy.
func NewSplitBrainError(path string, domain string) *StoreError {
	return &StoreError{
		Code:    ErrSplitBrain,
		Message: fmt.Sprintf("no readable copy in %s domain, all up children accused", domain),
		Path:    path,
	}
}

// NewQuorumFailedError creates a QuorumFailed error for a transaction that
// could not collect enough successful replies to satisfy the replica set's
// quorum count.
func NewQuorumFailedError(path string, gotReplies, needQuorum int) *StoreError {
	return &StoreError{
		Code:    ErrQuorumFailed,
		Message: fmt.Sprintf("quorum not met: got %d replies, need %d", gotReplies, needQuorum),
		Path:    path,
	}
}

// NewStaleTopologyError creates a StaleTopology error for a cached subvolume
// decision taken under an event generation older than the current one.
func NewStaleTopologyError(path string, cachedGen, currentGen uint32) *StoreError {
	return &StoreError{
		Code:    ErrStaleTopology,
		Message: fmt.Sprintf("read/write subvolume cached at generation %d, current generation %d", cachedGen, currentGen),
		Path:    path,
	}
}

// NewFencedError creates a Fenced error for an fd whose replica dropped out
// of quorum while the fd held locks on it.
func NewFencedError(path string) *StoreError {
	return &StoreError{
		Code:    ErrFenced,
		Message: "fd fenced after owning replica lost quorum",
		Path:    path,
	}
}

// NewLockHealAbandonedError creates a LockHealAbandoned error for a saved
// lock that could not be safely replayed.
func NewLockHealAbandonedError(path, reason string) *StoreError {
	return &StoreError{
		Code:    ErrLockHealAbandoned,
		Message: fmt.Sprintf("lock heal abandoned: %s", reason),
		Path:    path,
	}
}

// ============================================================================
// Error Type Checking Helpers
// ============================================================================

// IsNotFoundError returns true if the error is a NotFound error.
func IsNotFoundError(err error) bool {
	if storeErr, ok := err.(*StoreError); ok {
		return storeErr.Code == ErrNotFound || storeErr.Code == ErrLockNotFound
	}
	return false
}

// IsLockConflictError returns true if the error is a lock conflict.
func IsLockConflictError(err error) bool {
	if storeErr, ok := err.(*StoreError); ok {
		return storeErr.Code == ErrLocked || storeErr.Code == ErrLockConflict
	}
	return false
}

// IsDeadlockError returns true if the error indicates a deadlock.
func IsDeadlockError(err error) bool {
	if storeErr, ok := err.(*StoreError); ok {
		return storeErr.Code == ErrDeadlock
	}
	return false
}

// IsGracePeriodError returns true if the error is due to grace period.
func IsGracePeriodError(err error) bool {
	if storeErr, ok := err.(*StoreError); ok {
		return storeErr.Code == ErrGracePeriod
	}
	return false
}

// IsLockLimitError returns true if the error is due to lock limits.
func IsLockLimitError(err error) bool {
	if storeErr, ok := err.(*StoreError); ok {
		return storeErr.Code == ErrLockLimitExceeded
	}
	return false
}

// IsSplitBrainError returns true if the error indicates split-brain.
func IsSplitBrainError(err error) bool {
	if storeErr, ok := err.(*StoreError); ok {
		return storeErr.Code == ErrSplitBrain
	}
	return false
}

// errnoPriority ranks errno values the way a replicated transaction picks
// a single representative error out of possibly-differing per-child
// failures: a real data-unavailable signal outranks a merely-missing-file
// signal, which outranks staleness, which outranks a resource limit, which
// outranks everything else. Lower number wins.
var errnoPriority = map[syscall.Errno]int{
	syscall.ENODATA: 0,
	syscall.ENOENT:  1,
	syscall.ESTALE:  2,
	syscall.ENOSPC:  3,
}

// HighestPriorityErrno picks the single errno that should represent a set of
// per-child errors for a failed transaction, following the fixed precedence
// ENODATA > ENOENT > ESTALE > ENOSPC > any other errno (first one seen).
// Returns 0 if errs is empty.
func HighestPriorityErrno(errs []syscall.Errno) syscall.Errno {
	if len(errs) == 0 {
		return 0
	}
	best := errs[0]
	bestRank, bestKnown := errnoPriority[best]
	if !bestKnown {
		bestRank = len(errnoPriority)
	}
	for _, e := range errs[1:] {
		rank, known := errnoPriority[e]
		if !known {
			rank = len(errnoPriority)
		}
		if rank < bestRank {
			best, bestRank = e, rank
		}
	}
	return best
}
