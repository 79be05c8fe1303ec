package ai

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyReply is returned when the provider answered without any text.
var ErrEmptyReply = errors.New("empty reply")

// QuotaError is a rate-limit / quota-exhausted failure. RetryAfter carries the
// server-provided retry hint, zero when the server sent none.
type QuotaError struct {
	Provider   string
	Model      string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *QuotaError) Error() string {
	msg := fmt.Sprintf("quota exceeded (429) from %s/%s: %s", e.Provider, e.Model, e.Message)
	if e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s (retry after %v)", msg, e.RetryAfter)
	}
	return msg
}

func (e *QuotaError) Unwrap() error { return e.Err }

// HTTPError represents a non-quota status error from the provider.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
	Provider   string
	Err        error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d %s from %s: %s", e.StatusCode, e.Status, e.Provider, e.Body)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// IsQuota reports whether err is (or wraps) a QuotaError.
func IsQuota(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}
