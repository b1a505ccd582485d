package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for read paths.
var (
	ErrUploadNotFound = errors.New("upload not found")
	ErrAuditNotReady  = errors.New("audit not ready")
	ErrAuditNotFound  = errors.New("audit document not found")
)

// ValidationError rejects an upload synchronously before any state is created.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// StorageError wraps a blob or metadata persistence failure. It is retryable
// from the caller's point of view.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e StorageError) Unwrap() error { return e.Err }

// ImportFetchError wraps a remote fetch failure or timeout on link import.
type ImportFetchError struct {
	URL string
	Err error
}

func (e ImportFetchError) Error() string {
	return fmt.Sprintf("failed to import %s: %v", e.URL, e.Err)
}

func (e ImportFetchError) Unwrap() error { return e.Err }

// MalformedDocumentError marks a payload that could not be parsed as tabular
// data. The attempt is retried up to the bounded limit, then left failed.
type MalformedDocumentError struct {
	Err error
}

func (e MalformedDocumentError) Error() string {
	return fmt.Sprintf("malformed document: %v", e.Err)
}

func (e MalformedDocumentError) Unwrap() error { return e.Err }

// ConfigurationError marks an unknown branch/document-kind combination. It is
// fatal and never retried.
type ConfigurationError struct {
	Reason string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}
