package service

import (
	"errors"
	"fmt"

	"github.com/guardline/guardline/internal/model"
)

// ErrValidation marks synchronously rejected input (bad phone format,
// missing contact, invalid coordinates, a return time in the past).
var ErrValidation = errors.New("service: validation failed")

// QuotaDeniedError is a non-retryable user-facing denial, deliberately
// distinct from network failure.
type QuotaDeniedError struct {
	Reason model.ConsumeReason
}

func (e *QuotaDeniedError) Error() string {
	return fmt.Sprintf("quota denied: %s", e.Reason)
}
