package storage

import "errors"

var (
	// ErrCorrupted is a structural error in persisted data.
	ErrCorrupted       = errors.New("corrupted storage")
	ErrUnknownScanType = errors.New("unknown table scan type")
	// ErrDeleteConflict row already deleted by another transaction
	ErrDeleteConflict = errors.New("delete conflict")
	// ErrUpdateConflict row already updated by a concurrent transaction
	ErrUpdateConflict     = errors.New("update conflict")
	ErrUncommittedUpdates = errors.New("cannot scan with outstanding updates")
)
