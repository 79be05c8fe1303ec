package responder

import "time"

// maxShift caps the exponent so large attempt counts cannot overflow.
const maxShift = 30

// delayFor returns the wait before the next attempt, given how many attempts
// have failed so far (>= 1) and the most recent error.
func (c Config) delayFor(failures int, lastErr error) time.Duration {
	if isQuotaError(lastErr) {
		if hint, ok := retryHint(lastErr); ok {
			return hint + c.HintBuffer
		}
	}
	shift := failures - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxShift {
		shift = maxShift
	}
	return c.InitialDelay * time.Duration(1<<shift)
}

// retryPolicy is a backoff.BackOff fed with each failure by the retry loop.
type retryPolicy struct {
	cfg      Config
	failures int
	lastErr  error
}

func (p *retryPolicy) observe(err error) {
	p.failures++
	p.lastErr = err
}

func (p *retryPolicy) NextBackOff() time.Duration {
	return p.cfg.delayFor(p.failures, p.lastErr)
}

func (p *retryPolicy) Reset() {
	p.failures = 0
	p.lastErr = nil
}
