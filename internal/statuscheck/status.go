package statuscheck

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Pinger is anything that can report reachability: the Redis client
// adapter and the S3 client both satisfy it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker aggregates health checks for external dependencies.
type Checker struct {
	redis     Pinger
	s3        Pinger
	geminiKey string
	model     string
}

// Options configures the Checker.
type Options struct {
	Redis     Pinger
	S3        Pinger
	GeminiKey string
	Model     string
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis  Status `json:"redis"`
	S3     Status `json:"s3"`
	Gemini Status `json:"gemini"`
}

// Ready reports whether the chat path can serve AI replies. S3 is optional:
// without it only inline photo uploads fail.
func (s Summary) Ready() bool { return s.Redis.OK && s.Gemini.OK }

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
	return &Checker{
		redis:     opts.Redis,
		s3:        opts.S3,
		geminiKey: strings.TrimSpace(opts.GeminiKey),
		model:     opts.Model,
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis:  ping(ctx, c.redis, 2*time.Second),
		S3:     ping(ctx, c.s3, 5*time.Second),
		Gemini: c.checkGemini(),
	}
}

func ping(ctx context.Context, p Pinger, timeout time.Duration) Status {
	if p == nil {
		return Status{OK: false, Message: "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

// checkGemini only verifies configuration; probing the API would spend quota.
func (c *Checker) checkGemini() Status {
	if c.geminiKey == "" {
		return Status{OK: false, Message: "API key missing"}
	}
	msg := "API key configured"
	if c.model != "" {
		msg += " (" + c.model + ")"
	}
	return Status{OK: true, Message: msg}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
