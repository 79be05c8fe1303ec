package responder

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/local/smartgarden/internal/ai"
)

var retryDelayPattern = regexp.MustCompile(`retryDelay":"(\d+)s"`)

// maxHintSeconds bounds server-directed waits.
const maxHintSeconds = 3600

// encodeError marks a failure to prepare the image attachment. It is never
// retried, whatever its message says.
type encodeError struct{ err error }

func (e *encodeError) Error() string { return "encode image: " + e.err.Error() }
func (e *encodeError) Unwrap() error { return e.err }

// isQuotaError reports whether err is a transient quota/rate-limit failure.
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var ee *encodeError
	if errors.As(err, &ee) {
		return false
	}
	if ai.IsQuota(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "quota") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit")
}

// retryHint returns the server-directed wait carried by err, if any. The
// structured QuotaError field wins over the textual retryDelay":"<N>s" form.
func retryHint(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	var qe *ai.QuotaError
	if errors.As(err, &qe) && qe.RetryAfter > 0 {
		return min(qe.RetryAfter, maxHintSeconds*time.Second), true
	}
	m := retryDelayPattern.FindStringSubmatch(err.Error())
	if len(m) < 2 {
		return 0, false
	}
	secs, perr := strconv.Atoi(m[1])
	if perr != nil || secs > maxHintSeconds {
		secs = maxHintSeconds
	}
	return time.Duration(secs) * time.Second, true
}
