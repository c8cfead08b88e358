package promptvault

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry, versioning and migration operations.
// All use prefix "promptvault:" for identification. Callers should use errors.Is/errors.As.
var (
	ErrNotFound              = errors.New("promptvault: prompt not found")
	ErrDuplicateRecord       = errors.New("promptvault: prompt already exists")
	ErrTerminalEnvironment   = errors.New("promptvault: prompt is in the terminal environment")
	ErrVersionNotFound       = errors.New("promptvault: version not found")
	ErrStorage               = errors.New("promptvault: storage fault")
	ErrInvalidID             = errors.New("promptvault: invalid prompt id")
	ErrInvalidDraft          = errors.New("promptvault: invalid prompt draft")
	ErrInvalidEnvironment    = errors.New("promptvault: unknown environment")
	ErrEnvironmentNotAllowed = errors.New("promptvault: environment not allowed for this operation")
	ErrMissingOperator       = errors.New("promptvault: operator identity is required")
	ErrCorruptDocument       = errors.New("promptvault: persisted document violates registry invariants")
	ErrInvalidMigration      = errors.New("promptvault: invalid migration record")
	ErrHistoryRewrite        = errors.New("promptvault: update rewrites existing versions")
	ErrMultiRecordUnit       = errors.New("promptvault: an update unit may write only one prompt")
)

// RecordError wraps a sentinel error with the operation and prompt id.
// Use errors.Is(err, ErrNotFound) and errors.As(err, &recordErr) to inspect.
type RecordError struct {
	Op       string
	PromptID string
	Err      error
}

// Error implements error.
func (e *RecordError) Error() string {
	return fmt.Sprintf("promptvault: %s %q: %v", e.Op, e.PromptID, e.Err)
}

// Unwrap returns the wrapped error for errors.Is/errors.As.
func (e *RecordError) Unwrap() error { return e.Err }

// VersionError reports a version number that does not exist in a record.
// Available lists the versions the record does have, ascending.
type VersionError struct {
	PromptID  string
	Version   int
	Available []int
	Err       error
}

// Error implements error.
func (e *VersionError) Error() string {
	return fmt.Sprintf("promptvault: prompt %q version %d (available %v): %v", e.PromptID, e.Version, e.Available, e.Err)
}

// Unwrap returns the wrapped error for errors.Is/errors.As.
func (e *VersionError) Unwrap() error { return e.Err }

// StorageError reports a persistence failure. It matches both ErrStorage and the underlying cause.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

// Error implements error.
func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("promptvault: storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("promptvault: storage %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns ErrStorage and the cause for errors.Is/errors.As.
func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// Compile-time checks that the typed errors implement error.
var (
	_ error = (*RecordError)(nil)
	_ error = (*VersionError)(nil)
	_ error = (*StorageError)(nil)
)
