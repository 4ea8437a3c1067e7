package cache

import (
	"errors"
	"fmt"
)

// Common cache errors
var (
	// ErrKeyExtraction indicates no content key could be derived from a locator
	ErrKeyExtraction = errors.New("no content key in locator")

	// ErrEntryNotFound indicates the index has no record for a key
	ErrEntryNotFound = errors.New("cache entry not found")

	// ErrIndexUnavailable indicates the metadata index cannot be reached
	ErrIndexUnavailable = errors.New("metadata index unavailable")

	// ErrFetchFailed indicates the external fetch collaborator failed
	ErrFetchFailed = errors.New("fetch failed")

	// ErrCommitFailed indicates artifacts could not be committed to the store
	ErrCommitFailed = errors.New("commit failed")

	// ErrManagerClosed indicates the cache manager has been shut down
	ErrManagerClosed = errors.New("cache manager closed")
)

// ErrorCode identifies specific error types
type ErrorCode string

const (
	// Resolution errors
	ErrorCodeKeyExtraction ErrorCode = "KEY_EXTRACTION"
	ErrorCodeFetchFailure  ErrorCode = "FETCH_FAILURE"
	ErrorCodeTransform     ErrorCode = "TRANSFORM_FAILURE"

	// Commit errors
	ErrorCodeStoreWrite ErrorCode = "STORE_WRITE"
	ErrorCodeIndexWrite ErrorCode = "INDEX_WRITE"

	// Maintenance errors
	ErrorCodeEvictionStep ErrorCode = "EVICTION_STEP"
	ErrorCodeReconcile    ErrorCode = "RECONCILE_STEP"

	// System errors
	ErrorCodeIndexOpen ErrorCode = "INDEX_OPEN"
	ErrorCodeCanceled  ErrorCode = "CANCELED"
)

// CacheError represents a cache-specific error with additional context
type CacheError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *CacheError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// NewCacheError creates a new cache error with context
func NewCacheError(code ErrorCode, message string, cause error) *CacheError {
	return &CacheError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context to the error
func (e *CacheError) WithContext(key string, value interface{}) *CacheError {
	e.Context[key] = value
	return e
}

// IsCommitError reports whether the error arose while committing artifacts,
// meaning no cache entry was created for the key.
func IsCommitError(err error) bool {
	var ce *CacheError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == ErrorCodeStoreWrite || ce.Code == ErrorCodeIndexWrite
}
