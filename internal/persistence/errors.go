package persistence

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ValidationError rejects a record before any I/O. Never retried; this is a
// data-contract failure, not an operational one.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// TransientError marks a failure worth retrying: the operation may succeed on
// a later attempt without anything else changing.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// isTransient classifies an error as retryable. Validation and logical errors
// never qualify; network interruptions and timeouts do.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return false
	}
	var terr *TransientError
	if errors.As(err, &terr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	msg := err.Error()
	for _, hint := range []string{"connection refused", "connection reset", "broken pipe", "timeout", "too many connections"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
