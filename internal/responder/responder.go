package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/local/smartgarden/internal/ai"
	"github.com/local/smartgarden/internal/imagecodec"
	mpkg "github.com/local/smartgarden/internal/metrics"
)

const (
	// BotMarker must appear in every reply handed back to the app.
	BotMarker = "SmartBot"
	// BotPrefix is prepended to AI replies that lack the marker.
	BotPrefix = "🌱 SmartBot: "
)

// Source tells callers whether a reply came from the model or the local fallback.
type Source string

const (
	SourceAI       Source = "ai"
	SourceFallback Source = "fallback"
)

// Query is one user submission. ImageRef is empty when no image is attached.
type Query struct {
	Text     string
	ImageRef string
}

// Reply is the outcome of Respond. Text always contains BotMarker.
type Reply struct {
	Text     string
	Source   Source
	Attempts int
}

// ImageEncoder turns an image ref into inline data.
type ImageEncoder interface {
	EncodeImage(ctx context.Context, ref string) (imagecodec.EncodedImage, error)
}

// Config controls the retry loop and prompts. Zero or negative durations and
// counts take the DefaultConfig value.
type Config struct {
	Model        string
	MaxRetries   int
	InitialDelay time.Duration
	HintBuffer   time.Duration
	Prompts      Prompts
}

// DefaultConfig: 3 attempts, 2s initial backoff, 500ms added to server hints.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		HintBuffer:   500 * time.Millisecond,
		Prompts:      DefaultPrompts(),
	}
}

// Option customizes a Responder.
type Option func(*Responder)

// WithTimer replaces the wall-clock timer used between attempts. newTimer is
// called once per Respond so concurrent calls never share a timer.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(r *Responder) { r.newTimer = newTimer }
}

// Responder answers plant-care questions through an AI client, retrying
// quota failures and degrading to canned replies. Calls are independent;
// no rate-limit state is shared between them.
type Responder struct {
	client   ai.Client
	images   ImageEncoder
	cfg      Config
	newTimer func() backoff.Timer
}

func New(client ai.Client, images ImageEncoder, cfg Config, opts ...Option) *Responder {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.HintBuffer <= 0 {
		cfg.HintBuffer = def.HintBuffer
	}
	if cfg.Prompts == (Prompts{}) {
		cfg.Prompts = def.Prompts
	}
	if images == nil {
		images = imagecodec.New(nil)
	}
	r := &Responder{client: client, images: images, cfg: cfg}
	for _, o := range opts {
		o(r)
	}
	return r
}

// GetAIResponse is the plain-string form of Respond.
func (r *Responder) GetAIResponse(ctx context.Context, text, imageRef string) string {
	return r.Respond(ctx, Query{Text: text, ImageRef: imageRef}).Text
}

// Respond never fails: it returns the model's reply, or a fallback reply once
// retries are exhausted or a non-retryable error occurs.
func (r *Responder) Respond(ctx context.Context, q Query) Reply {
	policy := &retryPolicy{cfg: r.cfg}
	attempts := 0

	op := func() (string, error) {
		n := attempts
		attempts++
		text, err := r.attempt(ctx, q, n)
		if err == nil {
			return text, nil
		}
		policy.observe(err)
		if !isQuotaError(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	notify := func(err error, wait time.Duration) {
		mpkg.IncRetry()
		log.Warn().
			Err(err).
			Int("attempt", attempts+1).
			Int("max_attempts", r.cfg.MaxRetries).
			Dur("delay", wait).
			Msg("quota error - retrying AI request")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.cfg.MaxRetries-1)), ctx)
	var timer backoff.Timer
	if r.newTimer != nil {
		timer = r.newTimer()
	}

	text, err := backoff.RetryNotifyWithTimerAndData(op, b, notify, timer)
	if err == nil {
		mpkg.IncReply(string(SourceAI), "success")
		return Reply{Text: ensureMarker(text), Source: SourceAI, Attempts: attempts}
	}

	reason := fallbackReason(ctx, err)
	mpkg.IncReply(string(SourceFallback), reason)
	log.Error().
		Err(err).
		Int("attempts", attempts).
		Str("reason", reason).
		Msg("AI unavailable - using fallback reply")
	return Reply{Text: GetFallbackResponse(q.Text), Source: SourceFallback, Attempts: attempts}
}

func fallbackReason(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return "cancelled"
	case isQuotaError(err):
		return "exhausted"
	default:
		return "fatal"
	}
}

// attempt builds and sends one request. n is the zero-based attempt index.
func (r *Responder) attempt(ctx context.Context, q Query, n int) (string, error) {
	req := ai.Request{Model: r.cfg.Model}
	if q.ImageRef != "" {
		img, err := r.images.EncodeImage(ctx, q.ImageRef)
		if err != nil {
			log.Error().Err(err).Str("image", q.ImageRef).Int("attempt", n+1).Msg("image encoding failed")
			return "", &encodeError{err: err}
		}
		req.Image = &ai.InlineImage{Data: img.Base64Data, MIMEType: img.MIMEType}
		req.Prompt = r.cfg.Prompts.imagePrompt(q.Text)
	} else {
		req.History = r.cfg.Prompts.seed()
		req.Prompt = r.cfg.Prompts.textPrompt(q.Text)
	}

	provider := r.client.Name()
	start := time.Now()
	resp, err := r.client.Do(ctx, req)
	dur := time.Since(start)

	result := "success"
	if err != nil {
		result = "fatal"
		if isQuotaError(err) {
			result = "quota"
		}
	}
	mpkg.ObserveProvider(provider, modelLabel(req.Model), result, dur)

	if err != nil {
		log.Warn().
			Err(err).
			Str("provider", provider).
			Str("model", modelLabel(req.Model)).
			Int("attempt", n+1).
			Bool("image", req.Image != nil).
			Dur("duration", dur).
			Str("result", result).
			Msg("AI provider call failed")
		return "", fmt.Errorf("attempt %d: %w", n+1, err)
	}
	log.Debug().
		Str("provider", provider).
		Int("attempt", n+1).
		Dur("duration", dur).
		Int("tokens_in", resp.TokensIn).
		Int("tokens_out", resp.TokensOut).
		Msg("AI provider call success")
	return resp.Text, nil
}

func ensureMarker(text string) string {
	if strings.Contains(text, BotMarker) {
		return text
	}
	return BotPrefix + text
}

func modelLabel(model string) string {
	if model == "" {
		return "default"
	}
	return model
}
