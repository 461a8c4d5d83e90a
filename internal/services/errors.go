package services

import (
	"errors"
	"fmt"
)

// ProviderError is a failed call to the completion provider. This is the one
// error class that aborts the whole chat request; everything else degrades.
type ProviderError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider request failed: %v", e.Err)
	}
	return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err is (or wraps) a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// ErrDuplicateFact is the expected no-op from the near-duplicate fact guard.
// Callers treat it as a skip, not a failure.
var ErrDuplicateFact = errors.New("fact is a near-duplicate of an existing entry")
