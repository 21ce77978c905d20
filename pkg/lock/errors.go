package lock

import (
	"fmt"

	"github.com/distfs/afr-core/pkg/metadata/errors"
)

// NewConflictError creates a Locked error describing a conflicting grant.
func NewConflictError(path string, conflict *FileLock) *errors.StoreError {
	return &errors.StoreError{
		Code:    errors.ErrLocked,
		Message: fmt.Sprintf("range conflicts with lock held by %s", conflict.Owner.ClientID),
		Path:    path,
	}
}

// NewNotFoundError creates a LockNotFound error.
func NewNotFoundError(path string) *errors.StoreError {
	return &errors.StoreError{
		Code:    errors.ErrLockNotFound,
		Message: "no matching lock held",
		Path:    path,
	}
}

// NewInvalidRangeError creates an InvalidArgument error for a malformed range.
func NewInvalidRangeError(path string, offset, length uint64) *errors.StoreError {
	return &errors.StoreError{
		Code:    errors.ErrInvalidArgument,
		Message: fmt.Sprintf("invalid lock range offset=%d length=%d", offset, length),
		Path:    path,
	}
}
