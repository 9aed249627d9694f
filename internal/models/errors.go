package models

import (
	"errors"
	"fmt"
)

// PollingFailedError ends a job or lease observation after a failed fetch.
type PollingFailedError struct {
	Resource string
	Err      error
}

func (e *PollingFailedError) Error() string {
	return fmt.Sprintf("polling %s failed: %v", e.Resource, e.Err)
}

func (e *PollingFailedError) Unwrap() error {
	return e.Err
}

// NewPollingFailedError wraps a fetch failure for resource.
func NewPollingFailedError(resource string, err error) *PollingFailedError {
	return &PollingFailedError{Resource: resource, Err: err}
}

// IsPollingFailed checks if err is, or wraps, a PollingFailedError
func IsPollingFailed(err error) bool {
	var pe *PollingFailedError
	return errors.As(err, &pe)
}
