package lookup

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is.
var (
	ErrInvalidIdentifier  = errors.New("invalid identifier")
	ErrDatasetUnavailable = errors.New("dataset unavailable")
	ErrOffline            = errors.New("archive source offline")
)

// ValidationError reports malformed input detected before any I/O.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is reports ErrInvalidIdentifier for identifier failures.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidIdentifier && e.Field == "cnpj"
}

// UnavailableError signals a dataset without any resolvable source.
type UnavailableError struct {
	Dataset Dataset
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("dataset %s is unavailable", e.Dataset)
}

// Is matches ErrDatasetUnavailable.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrDatasetUnavailable
}

// OfflineError signals that every network path and cache fallback failed.
// Status is zero when no HTTP response was observed.
type OfflineError struct {
	URL    string
	Status int
	Err    error
}

func (e *OfflineError) Error() string {
	msg := fmt.Sprintf("archive %s unreachable", e.URL)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the last underlying failure.
func (e *OfflineError) Unwrap() error {
	return e.Err
}

// Is matches ErrOffline.
func (e *OfflineError) Is(target error) bool {
	return target == ErrOffline
}
