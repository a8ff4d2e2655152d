// fixit/controllers/errors.go
package controllers

import (
	"errors"
	"fixit/fixit/services/quota"
	"fixit/fixit/utils/types"
	"fmt"
	"strings"
)

// ErrUpstreamNotConfigured means the completion API has no key.
var ErrUpstreamNotConfigured = errors.New("ai service not configured")

// ValidationError rejects a request before any side effect.
type ValidationError struct {
	Details []types.FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, d.Path+": "+d.Msg)
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func invalid(path, msg string) *ValidationError {
	return &ValidationError{Details: []types.FieldError{{Path: path, Msg: msg}}}
}

// QuotaExceededError carries the standing read right after the rejection.
type QuotaExceededError struct {
	UserID   string
	Snapshot quota.Snapshot
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily limit of %d messages reached for %s", e.Snapshot.Limit, e.UserID)
}

func (e *QuotaExceededError) Unwrap() error { return quota.ErrQuotaExceeded }
